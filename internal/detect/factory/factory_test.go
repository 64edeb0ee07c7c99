package factory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/outfit360/internal/detect/pigo"
	"github.com/andresmejia3/outfit360/internal/domain"
)

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown face backend", Config{FaceBackend: "opencv", BodyBackend: BackendNone}},
		{"empty body backend", Config{FaceBackend: BackendNone}},
		{"pigo cannot do poses", Config{FaceBackend: BackendNone, BodyBackend: BackendPigo}},
		{"sidecar without command", Config{FaceBackend: BackendSidecar, BodyBackend: BackendNone}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfig), "got %v", err)
		})
	}
}

func TestNewNoneDisablesCapability(t *testing.T) {
	d, err := New(Config{FaceBackend: BackendNone, BodyBackend: BackendNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, d.Face)
	assert.Nil(t, d.Body)
	assert.NoError(t, d.Close())
}

func TestNewIsLazy(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "facefinder")
	d, err := New(Config{
		FaceBackend: BackendPigo,
		BodyBackend: BackendNone,
		Pigo:        pigo.DefaultConfig(missing),
	}, nil)
	require.NoError(t, err, "construction must not touch the cascade file")
	require.NotNil(t, d.Face)

	err = d.Face.EnsureReady(context.Background())
	assert.True(t, errors.Is(err, domain.ErrModelInit))
	assert.NoError(t, d.Close())
}

func TestSidecarIsSharedAndStartsLazily(t *testing.T) {
	d, err := New(Config{
		FaceBackend:    BackendSidecar,
		BodyBackend:    BackendSidecar,
		SidecarCommand: []string{filepath.Join(t.TempDir(), "no-such-binary")},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, d.Face)
	require.NotNil(t, d.Body)

	assert.True(t, errors.Is(d.Face.EnsureReady(context.Background()), domain.ErrModelInit))
	assert.True(t, errors.Is(d.Body.EnsureReady(context.Background()), domain.ErrModelInit))
	assert.NoError(t, d.Close())
}
