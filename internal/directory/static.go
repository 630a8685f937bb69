package directory

import (
	"context"
	"slices"
	"sync"

	"github.com/bissquit/mention-relay/internal/domain"
)

// StaticGuild is the content of one guild in a Static directory.
type StaticGuild struct {
	Name     string
	Roles    []string
	Channels []string
	Members  []domain.Member
}

// Static is an in-memory Directory. It backs tests and offline runs.
type Static struct {
	mu     sync.RWMutex
	guilds map[uint64]StaticGuild
	err    error
}

// NewStatic creates a directory over guilds.
func NewStatic(guilds map[uint64]StaticGuild) *Static {
	if guilds == nil {
		guilds = make(map[uint64]StaticGuild)
	}
	return &Static{guilds: guilds}
}

// SetUnavailable makes every lookup fail with err until called with nil.
func (s *Static) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) guild(guildID uint64) (StaticGuild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return StaticGuild{}, s.err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return StaticGuild{}, ErrNotFound
	}
	return g, nil
}

// ResolveGuild implements Directory.
func (s *Static) ResolveGuild(_ context.Context, guildID uint64) (*domain.Guild, error) {
	g, err := s.guild(guildID)
	if err != nil {
		return nil, err
	}
	return &domain.Guild{ID: guildID, Name: g.Name}, nil
}

// ResolveMember implements Directory. Handles are compared case-insensitively.
func (s *Static) ResolveMember(_ context.Context, guildID uint64, handle string) (*domain.Member, error) {
	g, err := s.guild(guildID)
	if err != nil {
		return nil, err
	}
	want := domain.FoldHandle(handle)
	for _, m := range g.Members {
		if domain.FoldHandle(m.Username) == want {
			member := m
			member.Roles = slices.Clone(m.Roles)
			return &member, nil
		}
	}
	return nil, ErrNotFound
}

// MemberRoles implements Directory.
func (s *Static) MemberRoles(ctx context.Context, guildID uint64, handle string) ([]string, error) {
	m, err := s.ResolveMember(ctx, guildID, handle)
	if err != nil {
		return nil, err
	}
	return m.Roles, nil
}

// GuildRoles implements Directory.
func (s *Static) GuildRoles(_ context.Context, guildID uint64) ([]string, error) {
	g, err := s.guild(guildID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(g.Roles), nil
}

// GuildChannels implements Directory.
func (s *Static) GuildChannels(_ context.Context, guildID uint64) ([]string, error) {
	g, err := s.guild(guildID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(g.Channels), nil
}
