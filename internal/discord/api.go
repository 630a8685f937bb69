package discord

import (
	"errors"
	"net/http"

	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bwmarrin/discordgo"
)

// api is the part of the Discord session the adapter reads from.
type api interface {
	guild(guildID string) (*discordgo.Guild, error)
	channel(channelID string) (*discordgo.Channel, error)
	guildRoles(guildID string) ([]*discordgo.Role, error)
	guildChannels(guildID string) ([]*discordgo.Channel, error)
	searchMembers(guildID, query string, limit int) ([]*discordgo.Member, error)
}

// sessionAPI serves lookups from the gateway state cache and falls back to REST.
type sessionAPI struct {
	s *discordgo.Session
}

func (a sessionAPI) guild(guildID string) (*discordgo.Guild, error) {
	if a.s.State != nil {
		if g, err := a.s.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	g, err := a.s.Guild(guildID)
	return g, mapError(err)
}

func (a sessionAPI) channel(channelID string) (*discordgo.Channel, error) {
	if a.s.State != nil {
		if c, err := a.s.State.Channel(channelID); err == nil {
			return c, nil
		}
	}
	c, err := a.s.Channel(channelID)
	return c, mapError(err)
}

func (a sessionAPI) guildRoles(guildID string) ([]*discordgo.Role, error) {
	if a.s.State != nil {
		if g, err := a.s.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
			return g.Roles, nil
		}
	}
	roles, err := a.s.GuildRoles(guildID)
	return roles, mapError(err)
}

func (a sessionAPI) guildChannels(guildID string) ([]*discordgo.Channel, error) {
	channels, err := a.s.GuildChannels(guildID)
	return channels, mapError(err)
}

func (a sessionAPI) searchMembers(guildID, query string, limit int) ([]*discordgo.Member, error) {
	members, err := a.s.GuildMembersSearch(guildID, query, limit)
	return members, mapError(err)
}

// mapError turns Discord "unknown entity" responses into directory.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return directory.ErrNotFound
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		if restErr.Response.StatusCode == http.StatusNotFound {
			return directory.ErrNotFound
		}
	}
	return err
}
