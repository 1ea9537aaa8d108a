// Package bot routes inbound chat events through the conversational FSM and
// the order lifecycle. The chat platform itself sits behind the Adapter
// interface; bot/telegram provides the production implementation.
package bot

import "context"

// Adapter is the interface platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes the connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Inbound, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg Outbound) error

	// AckCallback acknowledges a button press so the client stops showing
	// a progress spinner. Best-effort.
	AckCallback(ctx context.Context, callbackID string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// Inbound is a single event received from the chat platform: a text message,
// a photo upload, or a button press.
type Inbound struct {
	Sequence     string // opaque platform sequence token, used for dedup
	ChatID       int64
	UserID       int64
	UserName     string
	Text         string
	PhotoFileID  string // opaque media reference, set for photo uploads
	CallbackID   string // set for button presses
	CallbackData string // the pressed button's payload
	MessageID    int    // platform message carrying the button press
}

// Outbound is a message to deliver to a chat.
type Outbound struct {
	ChatID        int64
	Text          string
	Keyboard      [][]Button // inline keyboard rows, nil for plain text
	EditMessageID int        // when set, edit this message instead of sending
	Document      *Document  // when set, send a file instead of text
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Document is a file attachment (spreadsheet exports).
type Document struct {
	Name  string
	Bytes []byte
}

// Row builds a single keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// Btn builds a button.
func Btn(label, data string) Button {
	return Button{Label: label, Data: data}
}
