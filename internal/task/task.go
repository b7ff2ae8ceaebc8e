// Package task defines the handler contract for automation jobs and the
// seven built-in handlers.
//
// Handlers are pure with respect to the orchestration core: they see only
// their own config map and the collaborators injected at construction. They
// report failure by returning an error; the dispatcher turns that into an
// error-status execution record, never a crash.
package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"homeserverd/internal/storage"
)

// Config is the opaque per-trigger key/value map, interpreted only by the
// matching handler.
type Config map[string]any

// String returns the string value at key, or "".
func (c Config) String(key string) string {
	v, _ := c[key].(string)
	return strings.TrimSpace(v)
}

// StringOr returns the string value at key, or def when absent/empty.
func (c Config) StringOr(key, def string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return def
}

// Strings returns the string slice at key (accepting []any from JSON).
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Duration parses the Go duration string at key, or returns def.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	s := c.String(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Handler executes one kind of automation job.
type Handler interface {
	Execute(ctx context.Context, cfg Config) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cfg Config) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, cfg Config) (string, error) {
	return f(ctx, cfg)
}

// Registry is the fixed mapping from job type to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[storage.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[storage.JobType]Handler{}}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(t storage.JobType, h Handler) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Resolve returns the handler for t.
func (r *Registry) Resolve(t storage.JobType) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownJobType, t)
	}
	return h, nil
}

// Types returns the registered job types.
func (r *Registry) Types() []storage.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
