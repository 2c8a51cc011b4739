package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/broker"
)

// Handler runs one task. A non-nil error is a hard failure; a Result with
// status "error" is a soft one.
type Handler func(ctx context.Context, args Args) (Result, error)

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

// Register binds name to h. A later registration for the same name replaces
// the earlier one.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		r.logger.Warn("task handler replaced", zap.String("task_name", name))
	}
	r.handlers[name] = h
}

// Require fails if any of names has no handler, listing all of them.
func (r *Registry) Require(names ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, n := range names {
		if _, ok := r.handlers[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHandlers, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for msg.TaskName.
func (r *Registry) Dispatch(ctx context.Context, msg *broker.Message) (res Result, err error) {
	r.mu.RLock()
	h, ok := r.handlers[msg.TaskName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, msg.TaskName)
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &HandlerError{Task: msg.TaskName, Args: msg.Args, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	res, err = h(ctx, Args(msg.Args))
	if err != nil {
		return nil, &HandlerError{Task: msg.TaskName, Args: msg.Args, Err: err}
	}
	if res == nil {
		res = Success()
	}
	return res, nil
}
