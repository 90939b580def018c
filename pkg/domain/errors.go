package domain

import (
	"errors"
	"fmt"
)

// ErrPeerNotFound is returned when a peer ID is not currently attached.
var ErrPeerNotFound = errors.New("peer not found")

// ErrHubClosed is returned by operations invoked after the hub shut down.
var ErrHubClosed = errors.New("hub closed")

// ErrInvalidOrigin is returned when an origin string cannot be normalized.
var ErrInvalidOrigin = errors.New("invalid origin")

// ErrMalformedEnvelope is returned when a wire message fails structural validation.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrInvalidTheme is returned when a presentation update names an unknown theme mode.
var ErrInvalidTheme = errors.New("invalid theme mode")

// FailureKind classifies why an operation call did not succeed.
// Unavailable and Refused are deliberately distinct: the first means the peer
// could not be asked (not attached, or attached but not ready), the second
// means the peer was asked and said no.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable" // Peer missing or not ready; safe to suppress in UIs
	FailureTimeout     FailureKind = "timeout"     // No OP_RESULT arrived within the deadline
	FailureRefused     FailureKind = "refused"     // Peer answered success=false
	FailureDetached    FailureKind = "detached"    // Peer detached while the call was in flight
	FailureTransport   FailureKind = "transport"   // The outbound send itself failed
)

// CallError is the error type returned by operation calls. Callers branch on
// Kind; Reason carries the peer-supplied or transport-supplied detail.
type CallError struct {
	Kind   FailureKind
	Reason string
}

func (e *CallError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("call %s", e.Kind)
	}
	return fmt.Sprintf("call %s: %s", e.Kind, e.Reason)
}

// NewCallError builds a CallError with the given kind and optional reason.
func NewCallError(kind FailureKind, reason string) *CallError {
	return &CallError{Kind: kind, Reason: reason}
}

// AsCallError unwraps err into a *CallError if one is in its chain.
func AsCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
