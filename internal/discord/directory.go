package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bwmarrin/discordgo"
)

// memberSearchLimit bounds the prefix search used to resolve a handle.
const memberSearchLimit = 100

// DefaultChannelDenySubstrings hides support and archive channels from the channel list.
var DefaultChannelDenySubstrings = []string{"ticket", "closed"}

// Directory implements directory.Directory against a Discord session.
type Directory struct {
	api            api
	denySubstrings []string
}

var _ directory.Directory = (*Directory)(nil)

func newDirectory(a api, denySubstrings []string) *Directory {
	return &Directory{api: a, denySubstrings: denySubstrings}
}

// ResolveGuild implements directory.Directory.
func (d *Directory) ResolveGuild(_ context.Context, guildID uint64) (*domain.Guild, error) {
	g, err := d.api.guild(formatID(guildID))
	if err != nil {
		return nil, fmt.Errorf("resolve guild %d: %w", guildID, err)
	}
	return &domain.Guild{ID: guildID, Name: g.Name}, nil
}

// ResolveMember implements directory.Directory. The handle must equal the
// member's username, ignoring case.
func (d *Directory) ResolveMember(_ context.Context, guildID uint64, handle string) (*domain.Member, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, directory.ErrNotFound
	}

	gid := formatID(guildID)
	members, err := d.api.searchMembers(gid, handle, memberSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}

	want := domain.FoldHandle(handle)
	for _, m := range members {
		if m.User == nil || domain.FoldHandle(m.User.Username) != want {
			continue
		}
		roles, err := d.roleNames(gid, m.Roles)
		if err != nil {
			return nil, err
		}
		return &domain.Member{
			ID:          m.User.ID,
			Username:    m.User.Username,
			DisplayName: displayName(m.User, m),
			Roles:       roles,
		}, nil
	}
	return nil, directory.ErrNotFound
}

// MemberRoles implements directory.Directory.
func (d *Directory) MemberRoles(ctx context.Context, guildID uint64, handle string) ([]string, error) {
	m, err := d.ResolveMember(ctx, guildID, handle)
	if err != nil {
		return nil, err
	}
	return m.Roles, nil
}

// GuildRoles implements directory.Directory.
func (d *Directory) GuildRoles(_ context.Context, guildID uint64) ([]string, error) {
	roles, err := d.api.guildRoles(formatID(guildID))
	if err != nil {
		return nil, fmt.Errorf("list guild roles: %w", err)
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out, nil
}

// GuildChannels implements directory.Directory.
func (d *Directory) GuildChannels(_ context.Context, guildID uint64) ([]string, error) {
	channels, err := d.api.guildChannels(formatID(guildID))
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	return filterChannels(channels, d.denySubstrings), nil
}

func (d *Directory) roleNames(guildID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	roles, err := d.api.guildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("list guild roles: %w", err)
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := byID[id]; ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// filterChannels keeps text-capable, non-archived channels whose names do not
// contain any deny-list substring.
func filterChannels(channels []*discordgo.Channel, denySubstrings []string) []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		if c == nil || !isTextCapable(c.Type) {
			continue
		}
		if c.ThreadMetadata != nil && c.ThreadMetadata.Archived {
			continue
		}
		if denied(c.Name, denySubstrings) {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func isTextCapable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	default:
		return false
	}
}

func denied(name string, substrings []string) bool {
	lower := strings.ToLower(name)
	for _, s := range substrings {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
