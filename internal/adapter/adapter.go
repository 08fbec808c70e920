// Package adapter hosts the protocol-translation tier. An Adapter turns
// raw transport payloads into typed events and outbound requests back
// into wire frames; it is bound to one or more drivers by a shared
// protocol tag.
package adapter

import (
	"context"

	"github.com/projectcoral/coral/pkg/protocol"
)

// Sender is the transport half an adapter writes through, provided by
// the driver that owns the connection.
type Sender interface {
	// SelfID identifies which bot account this connection carries.
	SelfID() string
	// SendAction writes one encoded action frame to the transport.
	SendAction(ctx context.Context, action string, params map[string]any, echo string) error
}

// Adapter translates between a platform's wire format and the typed
// event model. Implementations also satisfy protocol.Outbound so a Bot
// can send through them directly.
type Adapter interface {
	protocol.Outbound

	// Protocol is the tag that binds this adapter to its drivers.
	Protocol() string

	// HandleIncoming decodes one raw payload. It may return a typed
	// event to publish, a *ConnectSignal for transport-level connect
	// markers, or nil when the payload carries nothing actionable.
	HandleIncoming(ctx context.Context, raw []byte) (protocol.Event, error)

	// BindSender attaches a connected transport. UnbindSender detaches
	// it on disconnect.
	BindSender(s Sender)
	UnbindSender(selfID string)
}

// ConnectSignal is returned by HandleIncoming when the payload is a
// connect marker rather than an event. The driver reacts by creating a
// Bot for the connection.
type ConnectSignal struct {
	Platform string
	SelfID   string
}

func (s *ConnectSignal) EventPlatform() string { return s.Platform }
func (s *ConnectSignal) EventSelfID() string   { return s.SelfID }
