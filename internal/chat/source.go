package chat

import "context"

// Handler is invoked once per received comment.
type Handler func(Comment)

// Source is implemented by platform chat adapters. Connect establishes the
// session, Listen blocks delivering comments to the registered handler until
// the context is cancelled or the stream fails, and Disconnect releases the
// session. Listen is not restartable after Disconnect.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	OnComment(h Handler)
	Listen(ctx context.Context) error
}
