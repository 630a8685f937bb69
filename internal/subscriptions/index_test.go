package subscriptions

import (
	"testing"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/stretchr/testify/assert"
)

func newRecord(id, handle string, guildID uint64, roles ...string) domain.Subscription {
	rec := domain.NewSubscription(id, guildID)
	rec.Handle = handle
	for _, r := range roles {
		rec.Roles.Add(r)
	}
	return rec
}

func testRecords() map[string]domain.Subscription {
	return map[string]domain.Subscription{
		"1": newRecord("1", "bob", 42, "core", "dev"),
		"2": newRecord("2", "Bob", 42, "core"),
		"3": newRecord("3", "", 42),
		"4": newRecord("4", "alice", 43, "@everyone"),
	}
}

func TestIndex_Rebuild_Empty(t *testing.T) {
	ix := BuildIndex(map[string]domain.Subscription{})

	handles, roles := ix.Size()
	assert.Equal(t, 0, handles)
	assert.Equal(t, 0, roles)
	assert.Empty(t, ix.Handles())
	assert.Empty(t, ix.Roles())
}

func TestIndex_Rebuild_FanOut(t *testing.T) {
	ix := BuildIndex(testRecords())

	assert.Equal(t, []string{"1", "2"}, ix.RecipientsForHandle("bob"))
	assert.Equal(t, []string{"1", "2"}, ix.RecipientsForHandle("BOB"))
	assert.Equal(t, []string{"1", "2"}, ix.RecipientsForRole("core"))
	assert.Equal(t, []string{"1"}, ix.RecipientsForRole("dev"))
	assert.Equal(t, []string{"4"}, ix.RecipientsForRole(domain.EveryoneRole))
	assert.Empty(t, ix.RecipientsForRole("Core"), "role names are exact")
	assert.Equal(t, []string{"alice", "bob"}, ix.Handles())
}

func TestIndex_RecordWithoutTriggersIsAbsent(t *testing.T) {
	ix := BuildIndex(testRecords())

	triggers := ix.ActiveTriggersFor("3")
	assert.Empty(t, triggers.Handles)
	assert.Empty(t, triggers.Roles)
}

func TestIndex_Rebuild_Idempotent(t *testing.T) {
	records := testRecords()

	ix := NewIndex()
	ix.Rebuild(records)
	first := snapshotOf(ix)

	ix.Rebuild(records)
	assert.Equal(t, first, snapshotOf(ix))
	assert.Equal(t, first, snapshotOf(BuildIndex(records)))
}

func TestIndex_Rebuild_DiscardsPreviousState(t *testing.T) {
	ix := BuildIndex(testRecords())
	ix.Rebuild(map[string]domain.Subscription{
		"9": newRecord("9", "carol", 42),
	})

	assert.Equal(t, []string{"carol"}, ix.Handles())
	assert.Empty(t, ix.Roles())
	assert.False(t, ix.HasHandle("bob"))
}

func TestIndex_ActiveTriggersFor(t *testing.T) {
	ix := BuildIndex(testRecords())

	got := ix.ActiveTriggersFor("1")
	assert.Equal(t, []string{"bob"}, got.Handles)
	assert.Equal(t, []string{"core", "dev"}, got.Roles)

	assert.Equal(t, Triggers{}, ix.ActiveTriggersFor("unknown"))
}

type indexView struct {
	handles map[string][]string
	roles   map[string][]string
}

func snapshotOf(ix *Index) indexView {
	v := indexView{handles: map[string][]string{}, roles: map[string][]string{}}
	for _, h := range ix.Handles() {
		v.handles[h] = ix.RecipientsForHandle(h)
	}
	for _, r := range ix.Roles() {
		v.roles[r] = ix.RecipientsForRole(r)
	}
	return v
}
