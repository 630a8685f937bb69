package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldHandle returns the comparison key for a Discord username.
// Usernames are case-insensitive, so both index keys and mentions go through here.
func FoldHandle(handle string) string {
	return cases.Fold().String(strings.TrimSpace(handle))
}
