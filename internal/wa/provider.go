// Package wa wraps the whatsmeow protocol library behind a small
// interface so the pipeline, supervisor, and tests never depend on the
// wire client directly.
package wa

import "context"

// ChatState is the jid-scoped typing indicator.
type ChatState string

const (
	ChatComposing ChatState = "composing"
	ChatPaused    ChatState = "paused"
)

// Disposition classifies why a connection closed.
type Disposition int

const (
	DispositionRetryable Disposition = iota
	DispositionLoggedOut
	DispositionBadSession
)

// Fatal reports whether a closure requires a session wipe and manual
// re-pairing.
func (d Disposition) Fatal() bool {
	return d == DispositionLoggedOut || d == DispositionBadSession
}

// Client is the protocol capability surface the core consumes.
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool

	// SendText delivers a text message and returns the protocol message id.
	SendText(ctx context.Context, jid, text, replyTo string) (string, error)

	SubscribePresence(ctx context.Context, jid string) error
	SendChatPresence(ctx context.Context, jid string, state ChatState) error
	SendPresence(ctx context.Context, online bool) error
	MarkRead(ctx context.Context, chat, sender string, ids []string) error

	// WipeSession clears the on-disk session blob after a fatal closure.
	WipeSession(ctx context.Context) error

	SelfJID() string
	PushName() string
}

// Inbound is a normalized incoming message event.
type Inbound struct {
	From      string
	Sender    string
	Text      string
	MessageID string
	IsGroup   bool
	GroupID   string
	QuotedID  string
}

// Events emitted by the adapter toward the supervisor and receive path.
type (
	EventOpened struct{}

	EventClosed struct {
		Disposition Disposition
		Reason      string
	}

	EventPairing struct{ Code string }

	EventMessage struct{ Message Inbound }

	// EventReceipt reports delivery-status updates for previously sent
	// messages. Status is "READ" or "DELIVERED".
	EventReceipt struct {
		MessageIDs []string
		Status     string
	}
)
