package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr
// (ffmpeg and sidecar logs) so a crash never loses its diagnostics.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command bound to ctx and attaches a buffer to its
// Stderr. It does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Run runs the command and folds captured stderr into the error.
func (s *SafeCommand) Run() error {
	if err := s.Cmd.Run(); err != nil {
		if s.Stderr.Len() > 0 {
			return fmt.Errorf("%s: %w: %s", filepath.Base(s.Path), err, strings.TrimSpace(s.Stderr.String()))
		}
		return fmt.Errorf("%s: %w", filepath.Base(s.Path), err)
	}
	return nil
}

// ShowError prints the formatted error box, plus any logs a SafeCommand
// captured.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 OUTFIT360 ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy: it shows the error box and exits 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Frame Files ---

var frameExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

var digits = regexp.MustCompile(`\d+`)

// IsFrame reports whether name has a frame image extension.
func IsFrame(name string) bool {
	return frameExts[strings.ToLower(filepath.Ext(name))]
}

// FrameNumber returns the first run of digits in a file name, or -1.
func FrameNumber(name string) int {
	m := digits.FindString(filepath.Base(name))
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

// SortFrames orders names by their embedded frame number, then by name, so
// frame_2 comes before frame_10.
func SortFrames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		a, b := FrameNumber(names[i]), FrameNumber(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}

// ListFrames returns the frame file names in dir in playback order.
// Subdirectories and other files are ignored.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && IsFrame(e.Name()) {
			names = append(names, e.Name())
		}
	}
	SortFrames(names)
	return names, nil
}

// --- 3. Identity ---

// GenerateVideoID creates a deterministic hash for the video file based on
// its path, size and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
