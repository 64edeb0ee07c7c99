package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/outfit360/internal/detect/factory"
	"github.com/andresmejia3/outfit360/internal/pipeline"
)

// buildProcessor assembles the detectors and stages described by Cfg. The
// returned detectors must be closed by the caller. The ledger is attached
// when DB is open.
func buildProcessor(onFrame func(name string, err error)) (*pipeline.Processor, *factory.Detectors, error) {
	dets, err := factory.New(Cfg.Detectors(), Log)
	if err != nil {
		return nil, nil, err
	}
	bg, face, err := Cfg.Stages(dets, Log)
	if err != nil {
		dets.Close()
		return nil, nil, err
	}
	opts, err := Cfg.ProcessorOptions(Log)
	if err != nil {
		dets.Close()
		return nil, nil, err
	}
	opts.OnFrame = onFrame
	if DB != nil {
		opts.Recorder = DB
	}
	return pipeline.NewProcessor(bg, face, opts), dets, nil
}

// printSummary writes the human-readable batch report.
func printSummary(w io.Writer, res *pipeline.BatchResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "\n✅ %d/%d frames written in %s (run %s)\n", res.Succeeded, res.Total, res.Duration.Round(time.Millisecond), res.RunID)
	if len(res.Degraded) > 0 {
		fmt.Fprintf(w, "⚠️  %d frame(s) written without every effect:\n", len(res.Degraded))
		for _, is := range res.Degraded {
			fmt.Fprintf(w, "   - %s [%s] %s\n", is.Frame, is.Kind, is.Reason)
		}
	}
	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "❌ %d frame(s) failed:\n", len(res.Failures))
		for _, is := range res.Failures {
			fmt.Fprintf(w, "   - %s [%s] %s\n", is.Frame, is.Kind, is.Reason)
		}
	}
}
