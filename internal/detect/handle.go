package detect

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/outfit360/internal/domain"
)

// Loader constructs a model. It is called at most once per successful
// initialization of a Handle.
type Loader[T any] func(ctx context.Context) (T, error)

// Breakable is implemented by models that can stop working mid-run, like an
// out-of-process detector whose stream fell out of sync.
type Breakable interface {
	Broken() bool
}

// Handle is a lazily initialized model shared by every frame. Concurrent
// first calls to Ensure wait on the same initialization. A failed load is
// not cached, so the next Ensure tries again. A model that reports itself
// broken is closed and rebuilt on the next Ensure.
type Handle[T any] struct {
	name string
	load Loader[T]

	mu    sync.Mutex
	ready bool
	model T
}

// NewHandle returns a handle that will build its model with load on first use.
func NewHandle[T any](name string, load Loader[T]) *Handle[T] {
	return &Handle[T]{name: name, load: load}
}

// Name is the backend name used in logs and errors.
func (h *Handle[T]) Name() string {
	return h.name
}

// Ensure returns the model, building it on the first call.
func (h *Handle[T]) Ensure(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ready {
		b, ok := any(h.model).(Breakable)
		if !ok || !b.Broken() {
			return h.model, nil
		}
		if c, ok := any(h.model).(io.Closer); ok {
			_ = c.Close()
		}
		var zero T
		h.model, h.ready = zero, false
	}
	m, err := h.load(ctx)
	if err != nil {
		var zero T
		return zero, domain.ErrModelInit.WithError(fmt.Errorf("%s: %w", h.name, err))
	}
	h.model, h.ready = m, true
	return m, nil
}

// Ready reports whether the model has been built.
func (h *Handle[T]) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Close releases the model if it holds resources. The next Ensure builds a
// fresh one.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.ready {
		return nil
	}
	var err error
	if c, ok := any(h.model).(io.Closer); ok {
		err = c.Close()
	}
	var zero T
	h.model, h.ready = zero, false
	return err
}
