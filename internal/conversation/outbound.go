package conversation

import "context"

// ReplyMessenger delivers engine replies to the patient over the messaging channel.
type ReplyMessenger interface {
	SendReply(ctx context.Context, to string, reply Reply) error
}

// EventHandler applies one patient event and returns the replies to send.
type EventHandler interface {
	Handle(ctx context.Context, evt Event) ([]Reply, error)
}
