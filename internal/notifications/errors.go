package notifications

import "errors"

// Delivery errors.
var (
	ErrEmptyMessage = errors.New("rendered message is empty")
	ErrUnknownMatch = errors.New("unknown match kind")
)
