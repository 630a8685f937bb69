package dialogue

import (
	"strings"
	"testing"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
	"github.com/stretchr/testify/assert"
)

func TestSummaryTable(t *testing.T) {
	rec := domain.NewSubscription("7", 42)
	rec.Handle = "bob"
	rec.Roles.Add("dev")
	rec.Roles.Add("core")

	got := summaryTable(rec, subscriptions.Triggers{Handles: []string{"bob"}})

	assert.True(t, strings.HasPrefix(got, "<pre>="))
	assert.True(t, strings.HasSuffix(got, "=</pre>"))
	assert.Contains(t, got, "Discord handle    | bob")
	assert.Contains(t, got, "Discord roles     | core, dev")
	assert.Contains(t, got, "Verified          | no")
	assert.NotContains(t, got, "Discord channels", "empty values are skipped")
	assert.NotContains(t, got, "Alerts", "active alerts are the default")
}

func TestSummaryTable_EscapesAndPaused(t *testing.T) {
	rec := domain.NewSubscription("7", 0)
	rec.Channels.Add("<script>")
	rec.SetActive(false)

	got := summaryTable(rec, subscriptions.Triggers{})
	assert.Contains(t, got, "&lt;script&gt;")
	assert.Contains(t, got, "Alerts            | paused")
	assert.NotContains(t, got, "Discord guild")
}

func TestSummaryTable_Empty(t *testing.T) {
	assert.Equal(t, "<i>nothing yet</i>", summaryTable(domain.Subscription{}, subscriptions.Triggers{}))
}
