// Package voxerr defines the closed error taxonomy shared by every voxcore
// component, following §7 of the protocol specification.
//
// Every error that crosses a component boundary wraps exactly one [Kind] via
// [New] or [Wrap], so callers can branch on classification with [errors.As]
// without depending on any component's concrete error type.
package voxerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the taxonomy named in the protocol spec.
// It is deliberately small and closed — new kinds are added here, not
// invented ad hoc at call sites.
type Kind string

const (
	KindNetworkUnavailable    Kind = "network-unavailable"
	KindNotConnected          Kind = "not-connected"
	KindConnectionTimeout     Kind = "connection-timeout"
	KindReconnectExhausted    Kind = "reconnect-exhausted"
	KindSendFailed            Kind = "send-failed"
	KindDecodeError           Kind = "decode-error"
	KindRequestTimeout        Kind = "request-timeout"
	KindTrackerLimit          Kind = "tracker-limit"
	KindTrackerCleared        Kind = "tracker-cleared"
	KindPermissionDenied      Kind = "permission-denied"
	KindNoDevice              Kind = "no-device"
	KindAlreadyCapturing      Kind = "already-capturing"
	KindInvalidSampleRate     Kind = "invalid-sample-rate"
	KindInvalidAudioPayload   Kind = "invalid-audio-payload"
	KindAudioContextSuspended Kind = "audio-context-suspended"
	KindHandlerException      Kind = "handler-exception"
	KindUnhandledEvent        Kind = "unhandled-event"
	KindNotReady              Kind = "not-ready"
)

// String implements [fmt.Stringer].
func (k Kind) String() string { return string(k) }

// Error is a [Kind]-tagged error. Callers that need the kind use
// [errors.As] against a *Error, or the convenience [Is] helper.
type Error struct {
	Kind    Kind
	Message string
	err     error // wrapped cause, may be nil
}

// Error implements the error interface as "kind: message" or, if a cause is
// wrapped, "kind: message: cause".
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to [errors.Is]/[errors.As].
func (e *Error) Unwrap() error { return e.err }

// New creates a [Kind]-tagged error with the given message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a [Kind]-tagged error wrapping cause. If cause is nil, Wrap
// returns nil, mirroring fmt.Errorf's behaviour with a nil %w argument being
// an unusual pattern — Wrap guards against it explicitly.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, err: cause}
}

// Is reports whether err is a *Error of the given kind, at any depth of
// wrapping.
func Is(err error, kind Kind) bool {
	var ve *Error
	if !errors.As(err, &ve) {
		return false
	}
	return ve.Kind == kind
}
