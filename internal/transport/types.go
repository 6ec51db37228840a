package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotOK means the gateway answered with "ok": false.
	ErrNotOK = errors.New("gateway returned ok=false")
	// ErrMalformedResponse means the gateway body did not have the expected shape.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// Update is one record of the gateway's update feed, reduced to the fields
// chat resolution needs. Zero values mean the field was absent.
type Update struct {
	ID           int64
	MessageID    int
	ChatID       int64
	FromUsername string
}

// Complete reports whether the record carries an update id, a chat and a sender.
func (u Update) Complete() bool {
	return u.ID != 0 && u.ChatID != 0 && u.FromUsername != ""
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// UpdateFeed reads the recent update feed (getUpdates).
type UpdateFeed interface {
	FetchUpdates(ctx context.Context) ([]Update, error)
}

// Sender delivers a text message to a chat (sendMessage).
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Gateway is the full messaging gateway surface used by the daemon.
type Gateway interface {
	UpdateFeed
	Sender
}
