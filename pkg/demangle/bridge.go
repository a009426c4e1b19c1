package demangle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jupierce/lcov-import/pkg/log"
	"github.com/jupierce/lcov-import/pkg/metrics"
)

// Loader produces a ready module. It is called at most once per Bridge.
type Loader func(ctx context.Context) (Module, error)

// State is the lifecycle state of a Bridge
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const loadKey = "module"

// Bridge lazily loads a demangling module on first use and serializes every
// call against it, since the module's buffers are shared. Load failures are
// terminal: later calls report ErrUnavailable without retrying.
type Bridge struct {
	loader Loader
	logger *log.Logger

	group singleflight.Group

	mu      sync.Mutex
	state   State
	module  Module
	loadErr error

	// callMu guards the module's buffers for the duration of one exchange
	callMu sync.Mutex
}

// NewBridge creates a bridge that loads its module through loader
func NewBridge(loader Loader, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Discard()
	}
	return &Bridge{loader: loader, logger: logger}
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Demangle returns the demangled form of name, or name itself when the module
// does not recognise it. Empty names are rejected with ErrEmptySymbol. When
// the module cannot be loaded the error wraps ErrUnavailable and name is
// returned unchanged.
func (b *Bridge) Demangle(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptySymbol
	}

	m, err := b.ready(ctx)
	if err != nil {
		metrics.DemangleTotal.WithLabelValues(metrics.ResultError).Inc()
		return name, err
	}

	b.callMu.Lock()
	defer b.callMu.Unlock()

	out, err := run(ctx, m, name)
	if err != nil {
		metrics.DemangleTotal.WithLabelValues(metrics.ResultError).Inc()
		b.logger.Debug("Demangle %s failed: %v", name, err)
		return name, err
	}
	if out == name {
		metrics.DemangleTotal.WithLabelValues(metrics.ResultFallback).Inc()
	} else {
		metrics.DemangleTotal.WithLabelValues(metrics.ResultDemangled).Inc()
	}
	return out, nil
}

// Load forces module initialization and reports whether it succeeded
func (b *Bridge) Load(ctx context.Context) error {
	_, err := b.ready(ctx)
	return err
}

// ready returns the loaded module, loading it on first use. Concurrent callers
// share a single in-flight load; a caller whose ctx ends stops waiting but
// does not cancel the load for the others.
func (b *Bridge) ready(ctx context.Context) (Module, error) {
	b.mu.Lock()
	switch b.state {
	case StateReady:
		m := b.module
		b.mu.Unlock()
		return m, nil
	case StateFailed:
		err := b.loadErr
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(loadKey, func() (interface{}, error) {
		return b.load(loadCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Module), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) load(ctx context.Context) (Module, error) {
	b.mu.Lock()
	switch b.state {
	case StateReady:
		m := b.module
		b.mu.Unlock()
		return m, nil
	case StateFailed:
		err := b.loadErr
		b.mu.Unlock()
		return nil, err
	}
	b.state = StateLoading
	b.mu.Unlock()

	b.logger.Debug("Loading demangler module")
	var m Module
	err := ErrNoModule
	if b.loader != nil {
		m, err = b.loader(ctx)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.state = StateFailed
		b.loadErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
		metrics.DemanglerLoadsTotal.WithLabelValues(metrics.ResultError).Inc()
		b.logger.Warning("Demangler unavailable, showing mangled names: %v", err)
		return nil, b.loadErr
	}

	b.state = StateReady
	b.module = m
	metrics.DemanglerLoadsTotal.WithLabelValues(metrics.ResultOK).Inc()
	b.logger.Debug("Demangler module ready")
	return m, nil
}
