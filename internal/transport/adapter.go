// Package transport defines the chat-network collaborator interface used
// by the gateway core, plus the inbound event union it emits.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by adapters for operations the underlying
// platform cannot express (e.g. rejecting calls on Discord).
var ErrUnsupported = errors.New("transport: operation not supported by platform")

// Adapter is the interface that platform-specific implementations must
// satisfy. SendMessage, IsRegisteredUser and RejectCall must be safe for
// concurrent use: the HTTP delivery pipeline and the inbound router share
// one adapter.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the adapter is closed. Listen must
	// only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// SendMessage delivers text to the contact identified by contactID.
	SendMessage(ctx context.Context, contactID, text string) error

	// IsRegisteredUser reports whether contactID is a known user on the
	// network.
	IsRegisteredUser(ctx context.Context, contactID string) (bool, error)

	// RejectCall rejects an incoming call by its platform call reference.
	RejectCall(ctx context.Context, callID string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// EventKind discriminates the inbound event union.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventCall         EventKind = "call"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailure  EventKind = "auth_failure"
	EventLoading      EventKind = "loading"
	EventQR           EventKind = "qr"
)

// Event is one inbound occurrence from the chat platform. Which fields
// are meaningful depends on Kind: From/Body for messages, From/CallID
// for calls, Reason for disconnects and auth failures, Percent/Body for
// loading progress, Code for QR pairing.
type Event struct {
	Kind      EventKind
	From      string // sender contact identifier
	Body      string // message text / loading detail
	CallID    string // platform call reference
	Reason    string // disconnect or auth-failure reason
	Percent   int    // loading progress
	Code      string // QR pairing code
	Timestamp time.Time
}
