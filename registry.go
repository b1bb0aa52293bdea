package grapevine

import (
	"fmt"
	"sync"

	"github.com/gathertown/grapevine/pkg/job"
)

// HandlerRegistry manages job type to handler mappings.
// It is populated at startup and safe for concurrent use.
type HandlerRegistry struct {
	handlers map[job.Type]Handler
	mutex    sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[job.Type]Handler),
	}
}

// Register registers a handler for a job type
func (r *HandlerRegistry) Register(msgType job.Type, handler Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[msgType] = handler
}

// GetHandler returns the handler for a job type
func (r *HandlerRegistry) GetHandler(msgType job.Type) (Handler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	handler, ok := r.handlers[msgType]
	return handler, ok
}

// Resolve returns the handler for a job type, or an error wrapping
// ErrNoHandler when the type has no registration.
func (r *HandlerRegistry) Resolve(msgType job.Type) (Handler, error) {
	handler, ok := r.GetHandler(msgType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msgType)
	}
	return handler, nil
}

// ListTypes returns all registered job types
func (r *HandlerRegistry) ListTypes() []job.Type {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]job.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
