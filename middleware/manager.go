// Package middleware holds the interceptor chains and event notifications that
// wrap every API call.
//
// Interceptors run in registration order. Each receives the previous interceptor's
// output and returns a new context value; the chain threads the latest value forward.
// Every traversal works on a snapshot of the registered list, so adding, removing or
// clearing interceptors while other calls are mid-chain never affects those calls.
package middleware

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// RequestInterceptor transforms a request before it is sent
type RequestInterceptor func(ctx context.Context, rc RequestContext) (RequestContext, error)

// ResponseInterceptor transforms a successful response before it is returned
type ResponseInterceptor func(ctx context.Context, rc ResponseContext) (ResponseContext, error)

// ErrorInterceptor observes or transforms a terminal failure before it is returned
type ErrorInterceptor func(ctx context.Context, ec ErrorContext) (ErrorContext, error)

// Phase identifies an interceptor chain
type Phase int

const (
	PhaseRequest Phase = iota + 1
	PhaseResponse
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseRequest:
		return "request"
	case PhaseResponse:
		return "response"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// InterceptorError reports an interceptor that aborted its chain
type InterceptorError struct {
	Phase Phase
	Index int
	Err   error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("%s interceptor %d failed: %v", e.Phase, e.Index, e.Err)
}

func (e *InterceptorError) Unwrap() error { return e.Err }

type entry[F any] struct {
	id uint64
	fn F
}

type subscription struct {
	id      uint64
	typ     EventType // zero subscribes to every event
	handler Handler
}

// Manager stores interceptor chains and event subscriptions.
// It is safe for concurrent use; a single Manager is typically shared by every call of a client.
type Manager struct {
	mu       sync.RWMutex
	nextID   atomic.Uint64
	request  []entry[RequestInterceptor]
	response []entry[ResponseInterceptor]
	errs     []entry[ErrorInterceptor]
	subs     []subscription
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{}
}

// AddRequestInterceptor appends fn to the request chain and returns its unregister function
func (m *Manager) AddRequestInterceptor(fn RequestInterceptor) func() {
	if fn == nil {
		return func() {}
	}
	return register(m, &m.request, fn)
}

// AddResponseInterceptor appends fn to the response chain and returns its unregister function
func (m *Manager) AddResponseInterceptor(fn ResponseInterceptor) func() {
	if fn == nil {
		return func() {}
	}
	return register(m, &m.response, fn)
}

// AddErrorInterceptor appends fn to the error chain and returns its unregister function
func (m *Manager) AddErrorInterceptor(fn ErrorInterceptor) func() {
	if fn == nil {
		return func() {}
	}
	return register(m, &m.errs, fn)
}

// register appends fn under a fresh ID. The returned function removes exactly that
// registration, once; later calls are no-ops even if the same fn was re-added.
func register[F any](m *Manager, list *[]entry[F], fn F) func() {
	id := m.nextID.Add(1)

	m.mu.Lock()
	*list = append(*list, entry[F]{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			*list = slices.DeleteFunc(slices.Clone(*list), func(e entry[F]) bool {
				return e.id == id
			})
		})
	}
}

func snapshot[F any](m *Manager, list *[]entry[F]) []entry[F] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(*list)
}

// ClearInterceptors empties all three chains. Chains already running keep their snapshot.
func (m *Manager) ClearInterceptors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.request = nil
	m.response = nil
	m.errs = nil
}

// InterceptorCount returns the number of interceptors registered for phase
func (m *Manager) InterceptorCount(phase Phase) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch phase {
	case PhaseRequest:
		return len(m.request)
	case PhaseResponse:
		return len(m.response)
	case PhaseError:
		return len(m.errs)
	default:
		return 0
	}
}

// ProcessRequest runs the request chain and emits RequestStart with the final context.
// On interceptor failure the chain stops and an *InterceptorError is returned.
func (m *Manager) ProcessRequest(ctx context.Context, rc RequestContext) (RequestContext, error) {
	out := rc.Clone()
	for i, e := range snapshot(m, &m.request) {
		next, err := e.fn(ctx, out)
		if err != nil {
			return out, &InterceptorError{Phase: PhaseRequest, Index: i, Err: err}
		}
		out = next
	}
	m.Notify(RequestStart{Request: out, Context: ctx})
	return out, nil
}

// ProcessResponse runs the response chain and emits RequestEnd with the final context
func (m *Manager) ProcessResponse(ctx context.Context, rc ResponseContext) (ResponseContext, error) {
	out := rc.Clone()
	for i, e := range snapshot(m, &m.response) {
		next, err := e.fn(ctx, out)
		if err != nil {
			return out, &InterceptorError{Phase: PhaseResponse, Index: i, Err: err}
		}
		out = next
	}
	m.Notify(RequestEnd{Response: out})
	return out, nil
}

// ProcessError runs the error chain and emits RequestError with the final context
func (m *Manager) ProcessError(ctx context.Context, ec ErrorContext) (ErrorContext, error) {
	out := ec.Clone()
	for i, e := range snapshot(m, &m.errs) {
		next, err := e.fn(ctx, out)
		if err != nil {
			return out, &InterceptorError{Phase: PhaseError, Index: i, Err: err}
		}
		if next.Err == nil {
			next.Err = out.Err
		}
		out = next
	}
	m.Notify(RequestError{Error: out})
	return out, nil
}

// Subscribe registers handler for one event type and returns its unsubscribe function
func (m *Manager) Subscribe(typ EventType, handler Handler) func() {
	return m.subscribe(typ, handler)
}

// SubscribeAll registers handler for every event type
func (m *Manager) SubscribeAll(handler Handler) func() {
	return m.subscribe(0, handler)
}

func (m *Manager) subscribe(typ EventType, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	id := m.nextID.Add(1)

	m.mu.Lock()
	m.subs = append(m.subs, subscription{id: id, typ: typ, handler: handler})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subs = slices.DeleteFunc(slices.Clone(m.subs), func(s subscription) bool {
				return s.id == id
			})
		})
	}
}

// Notify delivers ev synchronously to matching subscribers in subscription order
func (m *Manager) Notify(ev Event) {
	if ev == nil {
		return
	}
	m.mu.RLock()
	subs := slices.Clone(m.subs)
	m.mu.RUnlock()

	typ := ev.Type()
	for _, s := range subs {
		if s.typ == 0 || s.typ == typ {
			s.handler(ev)
		}
	}
}
