package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/ffmpeg"
	"github.com/andresmejia3/outfit360/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (upload, sanitize, export)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("port") {
			Cfg.Port = servePort
		}
		if err := openLedger(cmd.Context(), false); err != nil {
			return err
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Port to listen on (default: $PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if err := os.MkdirAll(Cfg.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	deps := server.Dependencies{
		UploadsDir: Cfg.UploadsDir,
		Extractor:  ffmpeg.NewExtractor(Cfg.ExtractFPS, nil, Log),
		Exporter:   ffmpeg.NewExporter(nil, Log),
		Logger:     Log,
	}

	proc, dets, err := buildProcessor(nil)
	if err != nil {
		// The server still extracts and exports; effect requests are rejected.
		Log.Warn("detectors unavailable, sanitizing disabled", zap.Error(err))
	} else {
		defer dets.Close()
		deps.Sanitizer = proc
	}

	if Cfg.MinIOEndpoint != "" {
		p, err := newPublisher()
		if err == nil {
			err = p.EnsureBucket(ctx)
		}
		if err != nil {
			Log.Warn("object storage unavailable, publishing disabled", zap.Error(err))
		} else {
			deps.Publisher = p
		}
	}

	srv := server.New(deps)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(":" + strconv.Itoa(Cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		Log.Info("shutting down http server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
