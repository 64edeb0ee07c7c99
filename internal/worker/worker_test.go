package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/geom"
	"github.com/andresmejia3/outfit360/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser.
// It lets in-memory buffers stand in for the OS pipes.
type MockCloser struct {
	*bytes.Buffer
	closed bool
}

func (m *MockCloser) Close() error {
	m.closed = true
	return nil
}

func newMockSidecar(t *testing.T, responses ...types.InferenceResponse) (*Sidecar, *MockCloser) {
	t.Helper()
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	for _, r := range responses {
		body, err := msgpack.Marshal(&r)
		require.NoError(t, err)
		require.NoError(t, binary.Write(data, binary.BigEndian, uint32(len(body))))
		data.Write(body)
	}
	return &Sidecar{ID: 1, Stdin: stdin, DataPipe: data}, stdin
}

func readRequest(t *testing.T, buf *bytes.Buffer) types.InferenceRequest {
	t.Helper()
	var n uint32
	require.NoError(t, binary.Read(buf, binary.BigEndian, &n))
	body := buf.Next(int(n))
	require.Len(t, body, int(n))

	var req types.InferenceRequest
	require.NoError(t, msgpack.Unmarshal(body, &req))
	return req
}

func TestEstimateFaces(t *testing.T) {
	s, stdin := newMockSidecar(t, types.InferenceResponse{
		Faces: []types.FaceResult{{
			Box:       [4]float64{10.4, 20, 30, 40.2},
			Keypoints: [][2]float64{{15, 25}, {35, 25}, {25, 45}},
			Score:     0.97,
		}},
	})

	tensor := detect.Tensor{Pix: []byte{1, 2, 3, 4, 5, 6}, Width: 2, Height: 1}
	faces, err := s.EstimateFaces(context.Background(), tensor)
	require.NoError(t, err)

	req := readRequest(t, stdin.Buffer)
	assert.Equal(t, types.OpFaces, req.Op)
	assert.Equal(t, 2, req.Width)
	assert.Equal(t, 1, req.Height)
	assert.Equal(t, tensor.Pix, req.Data)

	require.Len(t, faces, 1)
	assert.Equal(t, geom.Region{XMin: 10, YMin: 20, Width: 31, Height: 41, Space: geom.DetectionSpace}, faces[0].Box)
	assert.Len(t, faces[0].Keypoints, 3)
	assert.InDelta(t, 0.97, faces[0].Score, 1e-9)
}

func TestEstimatePoses(t *testing.T) {
	s, stdin := newMockSidecar(t, types.InferenceResponse{
		Poses: []types.PoseResult{{Keypoints: [][2]float64{{1, 2}, {3, 4}}, Score: 0.5}},
	})

	poses, err := s.EstimatePoses(context.Background(), detect.Tensor{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, types.OpPoses, readRequest(t, stdin.Buffer).Op)
	require.Len(t, poses, 1)
	assert.Equal(t, []geom.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, poses[0].Keypoints)
}

func TestInferSidecarError(t *testing.T) {
	s, _ := newMockSidecar(t, types.InferenceResponse{Error: "model weights not found"})

	_, err := s.EstimateFaces(context.Background(), detect.Tensor{})
	require.Error(t, err)
	assert.Equal(t, "sidecar error: model weights not found", err.Error())
}

func TestInferTruncatedResponse(t *testing.T) {
	s, _ := newMockSidecar(t)
	s.DataPipe.(*MockCloser).Write([]byte{0, 0})

	_, err := s.Infer(context.Background(), types.InferenceRequest{Op: types.OpFaces})
	assert.Error(t, err)
}

func TestInferAfterClose(t *testing.T) {
	s, stdin := newMockSidecar(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, stdin.closed)

	_, err := s.Infer(context.Background(), types.InferenceRequest{Op: types.OpPoses})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestInferCancelled(t *testing.T) {
	s, stdin := newMockSidecar(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Infer(ctx, types.InferenceRequest{Op: types.OpFaces})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stdin.Len())
}

func TestNewSidecarRejectsEmptyCommand(t *testing.T) {
	_, err := NewSidecar(context.Background(), 0, nil, nil)
	assert.Error(t, err)
}

func TestInferHonorsDeadlineOnHungSidecar(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := &Sidecar{ID: 2, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.EstimateFaces(ctx, detect.Tensor{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, ErrBroken)
	case <-time.After(2 * time.Second):
		t.Fatal("EstimateFaces did not return after its deadline")
	}

	assert.True(t, s.Broken())
	// The read end is closed so the abandoned exchange cannot consume a later reply.
	_, err := pw.Write([]byte{0})
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	_, err = s.Infer(context.Background(), types.InferenceRequest{Op: types.OpFaces})
	assert.ErrorIs(t, err, ErrBroken)
}

func busy(s *Sidecar) bool {
	s.turnOnce.Do(func() { s.turn = make(chan struct{}, 1) })
	return len(s.turn) == 1
}

func TestInferWaitingForTurnHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := &Sidecar{ID: 3, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pr}

	holder, release := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Infer(holder, types.InferenceRequest{Op: types.OpFaces})
		firstDone <- err
	}()
	// Let the first call take the turn and block on the pipe.
	require.Eventually(t, func() bool { return busy(s) }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Infer(ctx, types.InferenceRequest{Op: types.OpPoses})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Broken(), "a caller that never got a turn leaves the stream intact")

	release()
	select {
	case err := <-firstDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled exchange did not return")
	}
	assert.True(t, s.Broken())
}
