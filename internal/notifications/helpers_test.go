package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
	"github.com/stretchr/testify/require"
)

// mockSender implements Sender for testing.
type mockSender struct {
	mu     sync.Mutex
	sent   []Notification
	failTo map[string]error
}

func newMockSender() *mockSender {
	return &mockSender{failTo: make(map[string]error)}
}

func (m *mockSender) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTo[n.To]; ok {
		return err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockSender) sentTo(recipientID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.sent {
		if n.To == recipientID {
			out = append(out, n)
		}
	}
	return out
}

var errSendFailed = errors.New("chat not found")

type recordOption func(*domain.Subscription)

func withRoles(roles ...string) recordOption {
	return func(s *domain.Subscription) {
		for _, r := range roles {
			s.Roles.Add(r)
		}
	}
}

func withChannels(channels ...string) recordOption {
	return func(s *domain.Subscription) {
		for _, c := range channels {
			s.Channels.Add(c)
		}
	}
}

func unverified() recordOption {
	return func(s *domain.Subscription) { s.Verified = false }
}

func paused() recordOption {
	return func(s *domain.Subscription) { s.SetActive(false) }
}

func record(id, handle string, guildID uint64, opts ...recordOption) domain.Subscription {
	rec := domain.NewSubscription(id, guildID)
	rec.Handle = handle
	rec.Verified = true
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

func newRegistry(t *testing.T, records ...domain.Subscription) *subscriptions.Registry {
	t.Helper()
	reg := subscriptions.NewRegistry(subscriptions.NewMemoryStore(records...), subscriptions.RegistryConfig{DefaultGuildID: 42})
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

func snapshotOf(t *testing.T, records ...domain.Subscription) *subscriptions.Snapshot {
	t.Helper()
	return newRegistry(t, records...).Snapshot()
}

func mentionEvent(guildID uint64, channel string) domain.MessageEvent {
	return domain.MessageEvent{
		ID:          "m1",
		Author:      "alice",
		GuildID:     guildID,
		GuildName:   "Relay HQ",
		ChannelID:   "c-" + channel,
		ChannelName: channel,
		Content:     "<@9001> can you look at this?",
		Permalink:   "https://discord.com/channels/42/c1/m1",
	}
}
