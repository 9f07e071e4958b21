package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

// ActionRequest carries everything an action handler needs to execute one step.
type ActionRequest struct {
	Enrollment *models.Enrollment
	Step       models.Step
	Lead       *models.Lead
	Config     map[string]any
	// IdempotencyKey is "<enrollment_id>:<step_index>"; it is stable across retries and replays.
	IdempotencyKey string
	Now            time.Time
}

// ActionHandler executes one action kind. Validate runs when a definition is created, Execute
// on every attempt. Execute returns backoff.Permanent errors for failures a retry cannot fix.
type ActionHandler interface {
	Validate(config map[string]any) error
	Execute(ctx context.Context, req ActionRequest) error
}

// Registry maps the closed set of action kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.ActionKind]ActionHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.ActionKind]ActionHandler),
	}
}

func (r *Registry) Register(kind models.ActionKind, handler ActionHandler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownActionKind, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[kind] = handler

	return nil
}

func (r *Registry) Handler(kind models.ActionKind) (ActionHandler, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionKind, kind)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, kind)
	}

	return handler, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []models.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.ActionKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}
