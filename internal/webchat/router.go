package webchat

import (
	"context"

	"github.com/cityhospital/appointment-bot/internal/conversation"
)

// Router delivers replies to an open console for the recipient and to the
// fallback messenger otherwise.
type Router struct {
	console  *Handler
	fallback conversation.ReplyMessenger
}

// NewRouter wraps fallback, usually the WhatsApp client. A nil fallback
// makes replies without a console fail with ErrNoSession.
func NewRouter(console *Handler, fallback conversation.ReplyMessenger) *Router {
	if console == nil {
		panic("webchat: console handler cannot be nil")
	}
	return &Router{console: console, fallback: fallback}
}

// SendReply implements conversation.ReplyMessenger.
func (r *Router) SendReply(ctx context.Context, to string, reply conversation.Reply) error {
	if r.console.HasSession(to) || r.fallback == nil {
		return r.console.SendReply(ctx, to, reply)
	}
	return r.fallback.SendReply(ctx, to, reply)
}
