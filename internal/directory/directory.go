// Package directory defines the read-only view of the Discord directory used
// to validate subscriptions.
package directory

import (
	"context"
	"errors"

	"github.com/bissquit/mention-relay/internal/domain"
)

// ErrNotFound is returned when a guild or member does not exist.
var ErrNotFound = errors.New("not found")

// Directory answers lookups against the source platform.
// Lookups that cannot reach the platform return an error other than ErrNotFound.
type Directory interface {
	ResolveGuild(ctx context.Context, guildID uint64) (*domain.Guild, error)
	ResolveMember(ctx context.Context, guildID uint64, handle string) (*domain.Member, error)
	MemberRoles(ctx context.Context, guildID uint64, handle string) ([]string, error)
	GuildRoles(ctx context.Context, guildID uint64) ([]string, error)
	GuildChannels(ctx context.Context, guildID uint64) ([]string, error)
}
