package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/geom"
	"github.com/andresmejia3/outfit360/internal/types"
	"github.com/andresmejia3/outfit360/internal/utils"
)

var (
	// ErrClosed is returned by Infer after Close.
	ErrClosed = errors.New("sidecar closed")
	// ErrBroken is returned once an exchange was abandoned mid-stream. The
	// process is killed and must be replaced.
	ErrBroken = errors.New("sidecar abandoned mid-exchange")
)

// Sidecar is a long-lived inference process. Frames go in on stdin and
// results come back on FD 3, both framed as [uint32 length][msgpack body].
// Requests are serialized; the process handles one frame at a time.
type Sidecar struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	log       *zap.Logger
	turnOnce  sync.Once
	turn      chan struct{}
	mu        sync.Mutex
	closed    bool
	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSidecar starts command (argv form) and wires the side-channel pipe.
func NewSidecar(ctx context.Context, id int, command []string, log *zap.Logger) (*Sidecar, error) {
	if len(command) == 0 {
		return nil, errors.New("empty sidecar command")
	}
	if log == nil {
		log = zap.NewNop()
	}
	proc := utils.NewSafeCommand(ctx, command[0], command[1:]...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The child sees the write end as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("sidecar %d failed to start: %w", id, err)
	}
	// Only the child holds the write end from here on, so EOF means it died.
	w.Close()

	log.Info("sidecar started", zap.Int("id", id), zap.Int("pid", proc.Process.Pid), zap.Strings("cmd", command))
	return &Sidecar{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		log:      log,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (s *Sidecar) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(s.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := s.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(s.DataPipe, header); err != nil {
		return nil, s.withLogs(err)
	}

	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(s.DataPipe, body); err != nil {
		return nil, s.withLogs(err)
	}
	return body, nil
}

// Infer runs one request through the sidecar. Waiting for a turn and the
// exchange itself both honor ctx. An exchange cut short by ctx leaves the
// stream out of sync, so the process is killed and the sidecar reports
// Broken from then on.
func (s *Sidecar) Infer(ctx context.Context, req types.InferenceRequest) (*types.InferenceResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return nil, ErrClosed
	case s.broken.Load():
		return nil, ErrBroken
	}

	type reply struct {
		raw []byte
		err error
	}
	done := make(chan reply, 1)
	go func() {
		raw, err := s.Communicate(payload)
		done <- reply{raw, err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		default:
			s.abandon()
			return nil, fmt.Errorf("%w: %w", ErrBroken, ctx.Err())
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	var resp types.InferenceResponse
	if err := msgpack.Unmarshal(r.raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sidecar error: %s", resp.Error)
	}
	return &resp, nil
}

// Broken reports whether the sidecar has to be replaced.
func (s *Sidecar) Broken() bool {
	return s.broken.Load()
}

func (s *Sidecar) acquire(ctx context.Context) error {
	s.turnOnce.Do(func() { s.turn = make(chan struct{}, 1) })
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sidecar) release() {
	<-s.turn
}

// abandon kills the process and closes both pipes so the in-flight
// Communicate returns.
func (s *Sidecar) abandon() {
	if s.broken.Swap(true) {
		return
	}
	if s.log != nil {
		s.log.Warn("sidecar exchange abandoned, killing process", zap.Int("id", s.ID))
	}
	if s.Cmd != nil && s.Cmd.Process != nil {
		_ = s.Cmd.Process.Kill()
	}
	if s.Stdin != nil {
		s.Stdin.Close()
	}
	if s.DataPipe != nil {
		s.DataPipe.Close()
	}
}

// EstimateFaces implements detect.FaceEstimator.
func (s *Sidecar) EstimateFaces(ctx context.Context, t detect.Tensor) ([]detect.FaceCandidate, error) {
	resp, err := s.Infer(ctx, types.InferenceRequest{Op: types.OpFaces, Width: t.Width, Height: t.Height, Data: t.Pix})
	if err != nil {
		return nil, err
	}
	out := make([]detect.FaceCandidate, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		box := geom.FromBounds(f.Box[0], f.Box[1], f.Box[0]+f.Box[2], f.Box[1]+f.Box[3], geom.DetectionSpace)
		out = append(out, detect.FaceCandidate{Box: box, Keypoints: toPoints(f.Keypoints), Score: f.Score})
	}
	return out, nil
}

// EstimatePoses implements detect.PoseEstimator.
func (s *Sidecar) EstimatePoses(ctx context.Context, t detect.Tensor) ([]detect.PoseCandidate, error) {
	resp, err := s.Infer(ctx, types.InferenceRequest{Op: types.OpPoses, Width: t.Width, Height: t.Height, Data: t.Pix})
	if err != nil {
		return nil, err
	}
	out := make([]detect.PoseCandidate, 0, len(resp.Poses))
	for _, p := range resp.Poses {
		out = append(out, detect.PoseCandidate{Keypoints: toPoints(p.Keypoints), Score: p.Score})
	}
	return out, nil
}

// Close shuts the process down. It is safe to call more than once.
func (s *Sidecar) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.Stdin != nil {
			s.Stdin.Close()
		}
		if s.DataPipe != nil {
			s.DataPipe.Close()
		}
		if s.Cmd != nil && s.Cmd.Process != nil {
			// After abandon the exit status is the kill signal.
			if err := s.Cmd.Wait(); err != nil && !s.broken.Load() {
				s.closeErr = s.withLogs(err)
			}
		}
		if s.log != nil {
			s.log.Debug("sidecar stopped", zap.Int("id", s.ID))
		}
	})
	return s.closeErr
}

// withLogs attaches whatever the process wrote to stderr.
func (s *Sidecar) withLogs(err error) error {
	if s.Cmd == nil || s.Cmd.Stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w\nsidecar logs:\n%s", err, s.Cmd.Stderr.String())
}

func toPoints(kp [][2]float64) []geom.Point {
	if len(kp) == 0 {
		return nil
	}
	pts := make([]geom.Point, len(kp))
	for i, p := range kp {
		pts[i] = geom.Point{X: p[0], Y: p[1]}
	}
	return pts
}
