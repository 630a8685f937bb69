package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T, source SnapshotSource, sender Sender, alwaysNotify ...string) *Notifier {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return NewNotifier(NotifierConfig{SendTimeout: time.Second, MaxConcurrency: 2}, source, NewMatcher(alwaysNotify), renderer, sender)
}

func TestNotifier_HandleEvent_Scenario(t *testing.T) {
	reg := newRegistry(t, record("R", "bob", 42, withRoles("core")))
	sender := newMockSender()
	n := newTestNotifier(t, reg, sender)

	event := mentionEvent(42, "dev")
	event.MentionedUsers = []string{"bob"}
	event.MentionedRoles = []string{"core"}

	report := n.HandleEvent(context.Background(), event)
	assert.Equal(t, 2, report.Delivered())
	assert.Equal(t, 0, report.Failed())

	sent := sender.sentTo("R")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Body+sent[1].Body, "Mentioned by <b>alice</b>")
	assert.Contains(t, sent[0].Body+sent[1].Body, "<b>core</b> mentioned")

	event.GuildID = 99
	report = n.HandleEvent(context.Background(), event)
	assert.Equal(t, 0, report.Delivered())
	assert.Len(t, sender.sentTo("R"), 2)
}

func TestNotifier_HandleEvent_IsolatesDeliveryFailures(t *testing.T) {
	reg := newRegistry(t,
		record("1", "bob", 42),
		record("2", "bob", 42),
		record("3", "bob", 42),
	)
	sender := newMockSender()
	sender.failTo["2"] = errSendFailed
	n := newTestNotifier(t, reg, sender)

	event := mentionEvent(42, "dev")
	event.MentionedUsers = []string{"bob"}

	report := n.HandleEvent(context.Background(), event)
	assert.Equal(t, 2, report.Delivered())
	assert.Equal(t, 1, report.Failed())
	assert.Len(t, sender.sentTo("1"), 1)
	assert.Len(t, sender.sentTo("3"), 1)

	for _, d := range report.Deliveries {
		if d.RecipientID == "2" {
			assert.ErrorIs(t, d.Err, errSendFailed)
		}
	}
}

func TestNotifier_HandleEvent_Broadcast(t *testing.T) {
	reg := newRegistry(t,
		record("1", "", 42),
		record("2", "", 42, unverified()),
		record("3", "", 42, paused()),
	)
	sender := newMockSender()
	n := newTestNotifier(t, reg, sender, "c-announcements")

	report := n.HandleEvent(context.Background(), mentionEvent(42, "announcements"))
	assert.Equal(t, 2, report.Delivered())
	assert.Len(t, sender.sentTo("2"), 1)
	assert.Contains(t, sender.sentTo("1")[0].Body, "New message by <b>alice</b>")
	assert.Empty(t, sender.sentTo("3"))
}

func TestNotifier_HandleEvent_SeesChangesAfterRefresh(t *testing.T) {
	reg := newRegistry(t)
	sender := newMockSender()
	n := newTestNotifier(t, reg, sender)

	event := mentionEvent(42, "dev")
	event.MentionedUsers = []string{"bob"}

	assert.Equal(t, 0, n.HandleEvent(context.Background(), event).Delivered())

	_, err := reg.ApplyAndRefresh(context.Background(), "R", func(s *domain.Subscription) error {
		s.Handle = "bob"
		s.Verified = true
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, n.HandleEvent(context.Background(), event).Delivered())
}

func TestNotifier_HandleEvent_CancelledContext(t *testing.T) {
	reg := newRegistry(t, record("1", "bob", 42))
	n := newTestNotifier(t, reg, newMockSender())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := mentionEvent(42, "dev")
	event.MentionedUsers = []string{"bob"}

	report := n.HandleEvent(ctx, event)
	require.Len(t, report.Deliveries, 1)
	assert.Equal(t, report.Delivered()+report.Failed(), 1)
}
