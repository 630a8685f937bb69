// Package notifications routes Discord message events to subscribed Telegram
// recipients.
package notifications

import "context"

// Notification is one outbound message.
type Notification struct {
	To   string
	Body string
}

// Sender delivers notifications to the destination platform.
type Sender interface {
	Send(ctx context.Context, notification Notification) error
}
