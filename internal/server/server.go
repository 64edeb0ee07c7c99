// Package server exposes the upload, sanitize and export flow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/ffmpeg"
	"github.com/andresmejia3/outfit360/internal/pipeline"
	"github.com/andresmejia3/outfit360/internal/utils"
)

const (
	rawDir       = "raw-frames"
	processedDir = "processed-frames"
	videoName    = "input.mp4"
)

type Extractor interface {
	Extract(ctx context.Context, videoPath, outDir string) (int, error)
}

type Exporter interface {
	Export(ctx context.Context, framesDir string, format ffmpeg.Format, outPath string) error
}

type Sanitizer interface {
	ProcessFrames(ctx context.Context, inputDir, outputDir string, blurFace, blurBackground bool) (*pipeline.BatchResult, error)
}

type Publisher interface {
	PublishFrames(ctx context.Context, runID, dir string) ([]string, error)
}

// Dependencies wires the server. Sanitizer and Publisher are optional: without
// a sanitizer, requests asking for an effect are rejected; without a
// publisher, frames stay local.
type Dependencies struct {
	UploadsDir string
	Extractor  Extractor
	Exporter   Exporter
	Sanitizer  Sanitizer
	Publisher  Publisher
	Logger     *zap.Logger
	// BodyLimit caps upload size in bytes. Zero uses 512 MiB.
	BodyLimit int
}

type Server struct {
	app  *fiber.App
	deps Dependencies
	log  *zap.Logger
}

func New(deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.BodyLimit <= 0 {
		deps.BodyLimit = 512 << 20
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(log),
		AppName:               "outfit360",
		BodyLimit:             deps.BodyLimit,
		DisableStartupMessage: true,
	})
	s := &Server{app: app, deps: deps, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(requestid.New())
	s.app.Use(recoverer(s.log))
	s.app.Use(requestLogger(s.log))

	s.app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Static("/uploads", s.deps.UploadsDir)

	api := s.app.Group("/api")
	api.Post("/process-video", s.processVideo)
	api.Post("/export", s.export)
}

// App exposes the fiber app, mostly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type ProcessResponse struct {
	ID          string                `json:"id"`
	Frames      []string              `json:"frames"`
	TotalFrames int                   `json:"totalFrames"`
	Failed      []pipeline.FrameIssue `json:"failed"`
	Degraded    []pipeline.FrameIssue `json:"degraded,omitempty"`
	Published   int                   `json:"published,omitempty"`
}

func (s *Server) processVideo(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded")
	}
	blurFace := c.FormValue("blurFace") == "true"
	blurBackground := c.FormValue("blurBackground") == "true"
	sanitize := blurFace || blurBackground
	if sanitize && s.deps.Sanitizer == nil {
		return domain.ErrConfig.WithError(errors.New("no detectors are configured on this server"))
	}

	id := uuid.NewString()
	base := filepath.Join(s.deps.UploadsDir, id)
	raw, processed := filepath.Join(base, rawDir), filepath.Join(base, processedDir)
	for _, d := range []string{raw, processed} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return domain.ErrIO.WithError(err)
		}
	}

	videoPath := filepath.Join(base, videoName)
	if err := c.SaveFile(file, videoPath); err != nil {
		return domain.ErrIO.WithError(fmt.Errorf("save upload: %w", err))
	}

	ctx := c.UserContext()
	if _, err := s.deps.Extractor.Extract(ctx, videoPath, raw); err != nil {
		return domain.ErrIO.WithError(err)
	}

	resp := ProcessResponse{ID: id, Failed: []pipeline.FrameIssue{}}
	servedDir, servedName := raw, rawDir
	if sanitize {
		res, err := s.deps.Sanitizer.ProcessFrames(ctx, raw, processed, blurFace, blurBackground)
		if err != nil {
			return err
		}
		resp.Failed, resp.Degraded = res.Failures, res.Degraded
		servedDir, servedName = processed, processedDir
	}

	names, err := utils.ListFrames(servedDir)
	if err != nil {
		return domain.ErrIO.WithError(err)
	}
	resp.TotalFrames = len(names)
	resp.Frames = make([]string, 0, len(names))
	for _, n := range names {
		resp.Frames = append(resp.Frames, path.Join("/uploads", id, servedName, n))
	}

	if s.deps.Publisher != nil {
		keys, err := s.deps.Publisher.PublishFrames(ctx, id, servedDir)
		if err != nil {
			s.log.Warn("publish failed", zap.String("id", id), zap.Error(err))
		}
		resp.Published = len(keys)
	}

	return c.JSON(resp)
}

type ExportRequest struct {
	ID     string `json:"id"`
	Format string `json:"format"`
}

func (s *Server) export(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request parameters")
	}
	format, err := ffmpeg.ParseFormat(req.Format)
	if err != nil || uuid.Validate(req.ID) != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request parameters")
	}

	base := filepath.Join(s.deps.UploadsDir, req.ID)
	source := filepath.Join(base, processedDir)
	if names, err := utils.ListFrames(source); err != nil || len(names) == 0 {
		source = filepath.Join(base, rawDir)
	}
	if _, err := os.Stat(source); err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Unknown upload")
	}

	out, err := os.CreateTemp(base, "export-*."+string(format))
	if err != nil {
		return domain.ErrIO.WithError(err)
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := s.deps.Exporter.Export(c.UserContext(), source, format, out.Name()); err != nil {
		return domain.ErrIO.WithError(err)
	}
	data, err := os.ReadFile(out.Name())
	if err != nil {
		return domain.ErrIO.WithError(err)
	}

	c.Attachment(ffmpeg.DownloadName(req.ID, format))
	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Send(data)
}
