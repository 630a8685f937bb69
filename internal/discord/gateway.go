// Package discord adapts a discordgo session into the relay's event feed and
// directory.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/pkg/ctxlog"
	"github.com/bissquit/mention-relay/internal/pkg/metrics"
	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
)

const permalinkFormat = "https://discord.com/channels/%s/%s/%s"

// EventHandler consumes converted message events.
type EventHandler func(ctx context.Context, event domain.MessageEvent)

// Config contains gateway configuration.
type Config struct {
	Token                 string
	ConnectAttempts       uint
	ChannelDenySubstrings []string
	HandlerTimeout        time.Duration
}

// Gateway owns the Discord session.
type Gateway struct {
	config  Config
	session *discordgo.Session
	api     api
	handler EventHandler
	remove  func()
}

// NewGateway creates a gateway. The session is not opened until Open.
func NewGateway(config Config) (*Gateway, error) {
	if config.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if config.ConnectAttempts == 0 {
		config.ConnectAttempts = 5
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 30 * time.Second
	}
	if config.ChannelDenySubstrings == nil {
		config.ChannelDenySubstrings = DefaultChannelDenySubstrings
	}

	session, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	session.LogLevel = discordgo.LogWarning
	discordgo.Logger = logToSlog

	return &Gateway{
		config:  config,
		session: session,
		api:     sessionAPI{s: session},
	}, nil
}

// Directory returns a directory backed by this gateway's session.
func (g *Gateway) Directory() *Directory {
	return newDirectory(g.api, g.config.ChannelDenySubstrings)
}

// OnMessage registers the handler for converted message events. It must be
// called before Open.
func (g *Gateway) OnMessage(handler EventHandler) {
	g.handler = handler
}

// Open connects to the gateway, retrying with backoff.
func (g *Gateway) Open(ctx context.Context) error {
	g.remove = g.session.AddHandler(g.onMessageCreate)
	g.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	err := retry.Do(
		func() error {
			return g.session.Open()
		},
		retry.Attempts(g.config.ConnectAttempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("failed to open discord session, retrying", "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, discordgo.ErrWSAlreadyOpen)
		}),
	)
	if err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	if g.remove != nil {
		g.remove()
	}
	return g.session.Close()
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if g.handler == nil || m == nil || m.Message == nil {
		return
	}

	event, ok := convertMessage(g.api, m.Message)
	if !ok {
		metrics.GatewayEvents.WithLabelValues("skipped").Inc()
		return
	}
	metrics.GatewayEvents.WithLabelValues("accepted").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), g.config.HandlerTimeout)
	defer cancel()
	ctx = ctxlog.With(ctx, "event_id", event.ID, "guild_id", event.GuildID)

	g.handler(ctx, event)
}

// convertMessage reduces a Discord message to a MessageEvent. It returns
// false for bot authors, direct messages and malformed ids. Lookup failures
// leave the affected fields empty.
func convertMessage(a api, m *discordgo.Message) (domain.MessageEvent, bool) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return domain.MessageEvent{}, false
	}
	guildID, err := strconv.ParseUint(m.GuildID, 10, 64)
	if err != nil {
		slog.Warn("discord message with malformed guild id", "guild_id", m.GuildID)
		return domain.MessageEvent{}, false
	}

	event := domain.MessageEvent{
		ID:              m.ID,
		Author:          displayName(m.Author, m.Member),
		GuildID:         guildID,
		GuildName:       m.GuildID,
		ChannelID:       m.ChannelID,
		Content:         m.Content,
		MentionEveryone: m.MentionEveryone,
		Permalink:       fmt.Sprintf(permalinkFormat, m.GuildID, m.ChannelID, m.ID),
		ReceivedAt:      time.Now().UTC(),
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if g, err := a.guild(m.GuildID); err == nil {
		event.GuildName = g.Name
	} else {
		slog.Warn("failed to resolve guild for message", "guild_id", m.GuildID, "error", err)
	}

	if c, err := a.channel(m.ChannelID); err == nil {
		event.ChannelName = c.Name
	} else {
		slog.Warn("failed to resolve channel for message", "channel_id", m.ChannelID, "error", err)
	}

	for _, u := range m.Mentions {
		if u != nil && u.Username != "" {
			event.MentionedUsers = append(event.MentionedUsers, u.Username)
		}
	}

	if len(m.MentionRoles) > 0 {
		roles, err := a.guildRoles(m.GuildID)
		if err != nil {
			slog.Warn("failed to resolve mentioned roles", "guild_id", m.GuildID, "error", err)
		} else {
			byID := make(map[string]string, len(roles))
			for _, r := range roles {
				byID[r.ID] = r.Name
			}
			for _, id := range m.MentionRoles {
				if name, ok := byID[id]; ok {
					event.MentionedRoles = append(event.MentionedRoles, name)
				}
			}
		}
	}

	return event, true
}

func logToSlog(msgL, _ int, format string, a ...any) {
	level := slog.LevelDebug
	switch msgL {
	case discordgo.LogError:
		level = slog.LevelError
	case discordgo.LogWarning:
		level = slog.LevelWarn
	case discordgo.LogInformational:
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, fmt.Sprintf(format, a...), "component", "discordgo")
}
