package subscriptions

import "errors"

// Registry errors.
var (
	ErrRecipientNotFound = errors.New("subscription not found")
)
