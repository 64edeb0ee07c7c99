// Package storage publishes sanitized frames to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/imgbuf"
	"github.com/andresmejia3/outfit360/internal/utils"
)

// objectAPI is the part of *miniogo.Client the publisher uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts miniogo.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type Publisher struct {
	client objectAPI
	bucket string
	log    *zap.Logger
}

func NewPublisher(cfg Config, log *zap.Logger) (*Publisher, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newPublisher(client, cfg.Bucket, log), nil
}

func newPublisher(client objectAPI, bucket string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, bucket: bucket, log: log}
}

func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", p.bucket, err)
		}
	}
	return nil
}

// ObjectKey is where frame name of run runID is stored.
func ObjectKey(runID, name string) string {
	return path.Join(runID, filepath.Base(name))
}

// PublishFrames uploads every frame in dir and returns their object keys in
// playback order.
func (p *Publisher) PublishFrames(ctx context.Context, runID, dir string) ([]string, error) {
	names, err := utils.ListFrames(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		key := ObjectKey(runID, name)
		_, err := p.client.FPutObject(ctx, p.bucket, key, filepath.Join(dir, name), miniogo.PutObjectOptions{
			ContentType: contentType(name),
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", name, err)
		}
		keys = append(keys, key)
	}

	p.log.Info("frames published",
		zap.String("bucket", p.bucket),
		zap.String("run_id", runID),
		zap.Int("count", len(keys)),
	)
	return keys, nil
}

func contentType(name string) string {
	if f, ok := imgbuf.FormatFromPath(name); ok {
		return "image/" + string(f)
	}
	return "application/octet-stream"
}
