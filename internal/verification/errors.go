package verification

import "errors"

// Verification errors.
var (
	ErrInvalidToken      = errors.New("invalid verification token")
	ErrTokenExpired      = errors.New("verification token expired")
	ErrUserMismatch      = errors.New("discord account does not match the handle")
	ErrHandleChanged     = errors.New("handle changed since the link was issued")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNoHandle          = errors.New("no discord handle set")
)
