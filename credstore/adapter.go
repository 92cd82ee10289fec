package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const probeKey = "__mindgate_probe__"

// Probe selects the first candidate that completes a set, get, remove
// round-trip and closes every other candidate. Nil candidates are skipped.
// When nothing passes, an in-memory backend is used. Probe runs once per
// process; the returned Adapter keeps its backend for life.
func Probe(ctx context.Context, logger *slog.Logger, candidates ...Backend) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	var chosen Backend
	for _, b := range candidates {
		if b == nil {
			continue
		}
		if chosen != nil {
			_ = b.Close()
			continue
		}
		if err := roundTrip(ctx, b); err != nil {
			logger.Warn("credential backend rejected", "kind", b.Kind().String(), "error", err)
			_ = b.Close()
			continue
		}
		chosen = b
	}

	if chosen == nil {
		chosen = NewMemoryBackend()
	}
	logger.Info("credential backend selected", "kind", chosen.Kind().String())
	return NewAdapter(chosen, logger)
}

func roundTrip(ctx context.Context, b Backend) error {
	const want = "ok"
	if err := b.Set(ctx, probeKey, want); err != nil {
		return fmt.Errorf("probe set: %w", err)
	}
	got, ok, err := b.Get(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("probe get: %w", err)
	}
	if !ok || got != want {
		return fmt.Errorf("probe get: value not readable back")
	}
	if err := b.Remove(ctx, probeKey); err != nil {
		return fmt.Errorf("probe remove: %w", err)
	}
	if _, ok, err := b.Get(ctx, probeKey); err != nil || ok {
		return fmt.Errorf("probe remove: value survived delete")
	}
	return nil
}

// Adapter is the infallible view of a Backend. Every write also lands in an
// in-process cache, which serves reads whenever the backend errors. An
// empty stored value reads as absent.
type Adapter struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewAdapter wraps b without probing it.
func NewAdapter(b Backend, logger *slog.Logger) *Adapter {
	if b == nil {
		b = NewMemoryBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend: b,
		logger:  logger.With("component", "credstore", "kind", b.Kind().String()),
		cache:   make(map[string]string),
	}
}

// Kind reports the selected variant.
func (a *Adapter) Kind() Kind {
	return a.backend.Kind()
}

// Get returns the stored value. ok is false for absent or empty values.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool) {
	v, ok, err := a.backend.Get(ctx, key)
	if err != nil {
		a.logger.Warn("credential read failed, serving cache", "key", key, "error", err)
		return a.cached(key)
	}
	if !ok || v == "" {
		a.mu.Lock()
		delete(a.cache, key)
		a.mu.Unlock()
		return "", false
	}

	a.mu.Lock()
	a.cache[key] = v
	a.mu.Unlock()
	return v, true
}

// Set stores value. A backend failure is logged and the value stays in the
// cache only.
func (a *Adapter) Set(ctx context.Context, key, value string) {
	a.mu.Lock()
	a.cache[key] = value
	a.mu.Unlock()

	if err := a.backend.Set(ctx, key, value); err != nil {
		a.logger.Warn("credential write failed", "key", key, "error", err)
	}
}

// Remove deletes key. If the backend cannot delete, the key is overwritten
// with an empty value, which reads as absent.
func (a *Adapter) Remove(ctx context.Context, key string) {
	a.mu.Lock()
	delete(a.cache, key)
	a.mu.Unlock()

	err := a.backend.Remove(ctx, key)
	if err == nil {
		return
	}
	a.logger.Warn("credential delete failed, blanking value", "key", key, "error", err)
	if err := a.backend.Set(ctx, key, ""); err != nil {
		a.logger.Warn("credential blank failed", "key", key, "error", err)
	}
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

func (a *Adapter) cached(key string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.cache[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
