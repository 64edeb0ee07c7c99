package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "error without wrapped error",
			appErr:   ErrIO,
			expected: "frame read/write failed",
		},
		{
			name:     "error with wrapped error",
			appErr:   ErrDetection.WithError(errors.New("sidecar timeout")),
			expected: "detection failed: sidecar timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	cause := errors.New("permission denied")
	err := fmt.Errorf("frame_0001.jpg: %w", ErrIO.WithError(cause))

	if !errors.Is(err, ErrIO) {
		t.Error("expected wrapped IO error to match ErrIO")
	}
	if errors.Is(err, ErrDetection) {
		t.Error("IO error must not match ErrDetection")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the original cause to stay reachable")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrModelInit, "MODEL_INIT"},
		{fmt.Errorf("stage face: %w", ErrCompositing.WithError(errors.New("size"))), "COMPOSITING"},
		{errors.New("plain"), "UNKNOWN"},
		{nil, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
