package subscriptions

import (
	"slices"

	"github.com/bissquit/mention-relay/internal/domain"
)

// Triggers lists everything currently keyed to one recipient.
type Triggers struct {
	Handles []string
	Roles   []string
}

// Index maps triggers to recipient ids. It is derived from the store and
// rebuilt wholesale, never patched.
type Index struct {
	handles map[string]map[string]struct{}
	roles   map[string]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		handles: make(map[string]map[string]struct{}),
		roles:   make(map[string]map[string]struct{}),
	}
}

// BuildIndex returns a fresh index for records.
func BuildIndex(records map[string]domain.Subscription) *Index {
	ix := NewIndex()
	ix.Rebuild(records)
	return ix
}

// Rebuild wipes both maps and repopulates them in one pass over records.
func (ix *Index) Rebuild(records map[string]domain.Subscription) {
	ix.handles = make(map[string]map[string]struct{})
	ix.roles = make(map[string]map[string]struct{})

	for id, rec := range records {
		if rec.Handle != "" {
			add(ix.handles, domain.FoldHandle(rec.Handle), id)
		}
		for role := range rec.Roles {
			add(ix.roles, role, id)
		}
	}
}

func add(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

// RecipientsForHandle returns the recipients subscribed to handle, sorted.
func (ix *Index) RecipientsForHandle(handle string) []string {
	return sortedKeys(ix.handles[domain.FoldHandle(handle)])
}

// RecipientsForRole returns the recipients subscribed to role, sorted.
func (ix *Index) RecipientsForRole(role string) []string {
	return sortedKeys(ix.roles[role])
}

// HasHandle reports whether anyone listens to handle.
func (ix *Index) HasHandle(handle string) bool {
	_, ok := ix.handles[domain.FoldHandle(handle)]
	return ok
}

// HasRole reports whether anyone listens to role.
func (ix *Index) HasRole(role string) bool {
	_, ok := ix.roles[role]
	return ok
}

// Handles returns every indexed handle key, sorted.
func (ix *Index) Handles() []string {
	return sortedKeys(ix.handles)
}

// Roles returns every indexed role, sorted.
func (ix *Index) Roles() []string {
	return sortedKeys(ix.roles)
}

// Size returns the number of handle and role keys.
func (ix *Index) Size() (handles, roles int) {
	return len(ix.handles), len(ix.roles)
}

// ActiveTriggersFor is the reverse lookup used to show a recipient what they
// currently receive notifications for.
func (ix *Index) ActiveTriggersFor(recipientID string) Triggers {
	var t Triggers
	for handle, ids := range ix.handles {
		if _, ok := ids[recipientID]; ok {
			t.Handles = append(t.Handles, handle)
		}
	}
	for role, ids := range ix.roles {
		if _, ok := ids[recipientID]; ok {
			t.Roles = append(t.Roles, role)
		}
	}
	slices.Sort(t.Handles)
	slices.Sort(t.Roles)
	return t
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
