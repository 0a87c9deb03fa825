package tenantq

import "context"

// HandlerFunc is the function signature for processing a task.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Middleware is a function that wraps a HandlerFunc to provide cross-cutting concerns.
type Middleware func(HandlerFunc) HandlerFunc

type handler struct {
	exec HandlerFunc
}

// Mux routes tasks to their respective handlers based on task type.
type Mux struct {
	handlers    map[TaskType]handler
	middlewares []Middleware
}

// NewMux creates a new task Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[TaskType]handler),
		middlewares: []Middleware{},
	}
}

// Handle registers a handler for a specific task type.
func (m *Mux) Handle(taskType TaskType, fn func(context.Context, []byte) error) {
	m.handlers[taskType] = handler{
		exec: fn,
	}
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// TaskTypes lists the registered task types.
func (m *Mux) TaskTypes() []TaskType {
	out := make([]TaskType, 0, len(m.handlers))
	for t := range m.handlers {
		out = append(out, t)
	}
	return out
}

func (m *Mux) wrapHandler(h HandlerFunc) HandlerFunc {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}

// ProcessTask runs the handler registered for taskType through the middleware chain.
// It returns ErrNoHandler when none is registered.
func (m *Mux) ProcessTask(ctx context.Context, taskType TaskType, payload []byte) error {
	h, ok := m.handlers[taskType]
	if !ok {
		return ErrNoHandler
	}
	return m.wrapHandler(h.exec)(ctx, payload)
}
