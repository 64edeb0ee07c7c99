package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/config"
	"github.com/andresmejia3/outfit360/internal/logging"
	"github.com/andresmejia3/outfit360/internal/store"
	"github.com/andresmejia3/outfit360/internal/tracing"
	"github.com/andresmejia3/outfit360/internal/utils"
)

// Options holds the flags shared by sanitize, process and serve. A flag
// only overrides the environment when it is set explicitly.
type Options struct {
	InputPath      string
	OutputPath     string
	BlurFace       bool
	BlurBackground bool

	Workers              int
	FaceBackend          string
	BodyBackend          string
	Effect               string
	MaskStyle            string
	FaceComposite        string
	BackgroundComposite  string
	DetectionErrorPolicy string
	FrameTimeout         string
	LogLevel             string
}

var (
	// Cfg is the resolved configuration: environment first, flags on top.
	Cfg *config.Config
	// Log is the process logger.
	Log *zap.Logger
	// DB is the run ledger. It stays nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	shared   Options
	shutdown func(context.Context) error
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "outfit360",
	Short:   "Privacy filter for 360° outfit videos: blurs faces and backgrounds frame by frame",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		if err := applyFlags(cmd, cfg, shared); err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		if err := cfg.Validate(); err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		Cfg = cfg

		Log, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		if cfg.OTELEndpoint != "" {
			tp, err := tracing.InitTracer(cmd.Context(), cfg.OTELEndpoint)
			if err != nil {
				Log.Warn("tracing disabled", zap.Error(err))
			} else {
				shutdown = tp.Shutdown
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to flush and close.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if DB != nil {
			DB.Close(ctx)
		}
		if shutdown != nil {
			_ = shutdown(ctx)
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

// openLedger connects the run ledger. required commands fail without one;
// the others run without persistence.
func openLedger(ctx context.Context, required bool) error {
	url := dbURL
	if url == "" {
		url = Cfg.DSN()
	}
	if url == "" {
		if required {
			return fmt.Errorf("no database configured: pass --db or set DATABASE_URL or POSTGRES_HOST")
		}
		return nil
	}

	var err error
	// Use the command's context (which will be cancellable) for the connection
	DB, err = store.New(ctx, url)
	if err != nil {
		if required {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		Log.Warn("run ledger unavailable, continuing without it", zap.Error(err))
		DB = nil
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: $DATABASE_URL)")
	f.StringVar(&shared.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.IntVar(&shared.Workers, "workers", 0, "Frames processed concurrently (0 = number of CPUs)")
	f.StringVar(&shared.FaceBackend, "face-backend", "pigo", "Face detector: pigo, sidecar, rekognition, none")
	f.StringVar(&shared.BodyBackend, "body-backend", "none", "Body detector: sidecar, rekognition, none")
	f.StringVar(&shared.Effect, "effect", "blur", "Face effect: blur, pixelate, both")
	f.StringVar(&shared.MaskStyle, "mask-style", "feathered-polygon", "Face mask: hard-ellipse, hard-polygon, feathered-ellipse, feathered-polygon")
	f.StringVar(&shared.FaceComposite, "face-composite", "masked", "Face compositing: masked, box")
	f.StringVar(&shared.BackgroundComposite, "background-composite", "box", "Background compositing: box, masked")
	f.StringVar(&shared.DetectionErrorPolicy, "on-detection-error", "open", "When a detector fails on a frame: open (write without that effect) or closed (fail the frame)")
	f.StringVar(&shared.FrameTimeout, "frame-timeout", "30s", "Detection time budget per frame (0 disables)")
}

// applyFlags copies the explicitly set persistent flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, o Options) error {
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if changed("workers") {
		cfg.Workers = o.Workers
	}
	if changed("face-backend") {
		cfg.FaceBackend = o.FaceBackend
	}
	if changed("body-backend") {
		cfg.BodyBackend = o.BodyBackend
	}
	if changed("effect") {
		cfg.FaceEffect = o.Effect
	}
	if changed("mask-style") {
		cfg.MaskStyle = o.MaskStyle
	}
	if changed("face-composite") {
		cfg.FaceComposite = o.FaceComposite
	}
	if changed("background-composite") {
		cfg.BackgroundComposite = o.BackgroundComposite
	}
	if changed("on-detection-error") {
		cfg.DetectionErrorPolicy = o.DetectionErrorPolicy
	}
	if changed("frame-timeout") {
		d, err := time.ParseDuration(o.FrameTimeout)
		if err != nil {
			return fmt.Errorf("invalid --frame-timeout (use '30s', '1m'): %w", err)
		}
		cfg.FrameTimeout = d
	}
	return nil
}
