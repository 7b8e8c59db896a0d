package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/piper-hub/synth-service/internal/core"
)

type loadState int

const (
	loadIdle loadState = iota
	loadInProgress
	loadReady
	loadFailed
)

// LoadFunc constructs and readies a backend instance. It runs at most once
// per loader unless it fails; a failure is remembered and never retried.
type LoadFunc func(ctx context.Context) (core.Backend, error)

// backendLoader gates backend loading so one load attempt proceeds at a time.
// The first caller performs the load; concurrent callers observe the
// in-progress load and fail fast with core.ErrBackendNotReady instead of
// duplicating it.
type backendLoader struct {
	mu      sync.Mutex
	state   loadState
	backend core.Backend
	loadErr error
	load    LoadFunc
}

func newBackendLoader(load LoadFunc) *backendLoader {
	return &backendLoader{load: load}
}

func (l *backendLoader) acquire(ctx context.Context) (core.Backend, error) {
	l.mu.Lock()

	switch l.state {
	case loadReady:
		backend := l.backend
		l.mu.Unlock()

		return backend, nil

	case loadFailed:
		err := l.loadErr
		l.mu.Unlock()

		return nil, fmt.Errorf("backend load previously failed: %v: %w", err, core.ErrBackendUnavailable)

	case loadInProgress:
		l.mu.Unlock()

		return nil, core.ErrBackendNotReady

	case loadIdle:
	}

	l.state = loadInProgress
	l.mu.Unlock()

	backend, err := l.load(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.state = loadFailed
		l.loadErr = err

		return nil, fmt.Errorf("backend load failed: %v: %w", err, core.ErrBackendUnavailable)
	}

	l.state = loadReady
	l.backend = backend

	return backend, nil
}

// peek reports the loader state without triggering a load.
func (l *backendLoader) peek() (core.Backend, loadState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.backend, l.state, l.loadErr
}
