package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
)

// DefaultRefreshGrace is how long a refresh waits between flushing the store
// and reading it back.
const DefaultRefreshGrace = 2 * time.Second

// RegistryConfig contains registry configuration.
type RegistryConfig struct {
	DefaultGuildID uint64
	RefreshGrace   time.Duration
}

// Snapshot is an immutable view of the store and its index as of one refresh.
// Readers must not mutate records obtained from it.
type Snapshot struct {
	records     map[string]domain.Subscription
	index       *Index
	RefreshedAt time.Time
}

// Index returns the trigger index of this snapshot.
func (s *Snapshot) Index() *Index {
	return s.index
}

// Record returns the record for recipientID.
func (s *Snapshot) Record(recipientID string) (domain.Subscription, bool) {
	rec, ok := s.records[recipientID]
	return rec, ok
}

// Recipients returns every recipient id, sorted.
func (s *Snapshot) Recipients() []string {
	return sortedKeys(s.records)
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Loaded reports whether the snapshot came from a completed refresh.
func (s *Snapshot) Loaded() bool {
	return !s.RefreshedAt.IsZero()
}

// Registry is the single shared resource between the dialogue and event routing.
//
// The dialogue reads and mutates a working copy; every mutation goes through
// ApplyAndRefresh, which flushes the working copy, waits the grace period,
// reloads the store and publishes a new Snapshot. Event routing only ever reads
// Snapshot(), so a change becomes visible to it once its refresh completes.
type Registry struct {
	store  Store
	config RegistryConfig

	// refreshMu serializes refreshes and every write to the working copy, so a
	// reload can never overwrite a mutation that has not been flushed yet.
	refreshMu sync.Mutex

	mu      sync.Mutex
	records map[string]domain.Subscription

	snapshot atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry over store. Call Refresh once before use.
func NewRegistry(store Store, config RegistryConfig) *Registry {
	if config.RefreshGrace < 0 {
		config.RefreshGrace = 0
	}
	r := &Registry{
		store:   store,
		config:  config,
		records: make(map[string]domain.Subscription),
	}
	r.snapshot.Store(&Snapshot{
		records: make(map[string]domain.Subscription),
		index:   NewIndex(),
	})
	return r
}

// Snapshot returns the most recently published snapshot. Never nil.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// DefaultGuildID returns the guild assigned to new records.
func (r *Registry) DefaultGuildID() uint64 {
	return r.config.DefaultGuildID
}

// Get returns a copy of the working record for recipientID.
func (r *Registry) Get(recipientID string) (domain.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[recipientID]
	if !ok {
		return domain.Subscription{}, false
	}
	return rec.Clone(), true
}

// Ensure returns the working record for recipientID, creating a placeholder if
// there is none. Placeholders carry no triggers, so no refresh is needed.
func (r *Registry) Ensure(recipientID string) domain.Subscription {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[recipientID]
	if !ok {
		rec = domain.NewSubscription(recipientID, r.config.DefaultGuildID)
		rec.UpdatedAt = time.Now().UTC()
		r.records[recipientID] = rec
		slog.Debug("subscription placeholder created", "recipient_id", recipientID)
	}
	return rec.Clone()
}

// ApplyAndRefresh applies mutation to the record for recipientID (creating a
// placeholder first if needed) and runs the refresh protocol. If mutation
// returns an error nothing is changed and the store is not touched. If the
// refresh fails the working copy is put back and the previous record returned.
func (r *Registry) ApplyAndRefresh(ctx context.Context, recipientID string, mutation func(*domain.Subscription) error) (domain.Subscription, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	rec, existed := r.records[recipientID]
	if !existed {
		rec = domain.NewSubscription(recipientID, r.config.DefaultGuildID)
	}
	working := rec.Clone()
	if err := mutation(&working); err != nil {
		r.mu.Unlock()
		return rec.Clone(), err
	}
	working.RecipientID = recipientID
	working.UpdatedAt = time.Now().UTC()
	r.records[recipientID] = working
	r.mu.Unlock()

	if err := r.refreshLocked(ctx); err != nil {
		r.restore(recipientID, rec, existed)
		return rec.Clone(), err
	}

	updated, ok := r.Get(recipientID)
	if !ok {
		return working.Clone(), nil
	}
	return updated, nil
}

// DeleteAndRefresh removes the record for recipientID and runs the refresh protocol.
func (r *Registry) DeleteAndRefresh(ctx context.Context, recipientID string) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	rec, ok := r.records[recipientID]
	if !ok {
		r.mu.Unlock()
		return ErrRecipientNotFound
	}
	delete(r.records, recipientID)
	r.mu.Unlock()

	if err := r.refreshLocked(ctx); err != nil {
		r.restore(recipientID, rec, true)
		return err
	}
	return nil
}

// restore puts the working copy of recipientID back to what it was before a
// change whose refresh failed, so the change is not persisted by a later one.
func (r *Registry) restore(recipientID string, prev domain.Subscription, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existed {
		r.records[recipientID] = prev
	} else {
		delete(r.records, recipientID)
	}
}

// Refresh flushes the working copy, waits the grace period, reloads the store
// and rebuilds the index.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.refreshLocked(ctx)
}

// Reload rebuilds from the store without flushing first. Used when the store
// may have been changed by someone else.
func (r *Registry) Reload(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := time.Now()
	if err := r.loadAndPublish(ctx); err != nil {
		recordRefresh("reload", "failed", time.Since(start))
		return err
	}
	recordRefresh("reload", "success", time.Since(start))
	return nil
}

func (r *Registry) refreshLocked(ctx context.Context) error {
	start := time.Now()

	r.mu.Lock()
	working := cloneRecords(r.records)
	r.mu.Unlock()

	if err := r.store.Save(ctx, working); err != nil {
		recordRefresh("refresh", "failed", time.Since(start))
		return fmt.Errorf("save subscriptions: %w", err)
	}

	if r.config.RefreshGrace > 0 {
		timer := time.NewTimer(r.config.RefreshGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			recordRefresh("refresh", "failed", time.Since(start))
			return fmt.Errorf("refresh grace wait: %w", ctx.Err())
		}
	}

	if err := r.loadAndPublish(ctx); err != nil {
		recordRefresh("refresh", "failed", time.Since(start))
		return err
	}

	recordRefresh("refresh", "success", time.Since(start))
	return nil
}

func (r *Registry) loadAndPublish(ctx context.Context) error {
	loaded, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	loaded = normalize(loaded)

	snap := &Snapshot{
		records:     loaded,
		index:       BuildIndex(loaded),
		RefreshedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.records = cloneRecords(loaded)
	r.mu.Unlock()

	r.snapshot.Store(snap)

	handles, roles := snap.index.Size()
	recordIndexSize(len(loaded), handles, roles)
	slog.Debug("subscription index rebuilt",
		"records", len(loaded),
		"handles", handles,
		"roles", roles,
	)
	return nil
}

func cloneRecords(records map[string]domain.Subscription) map[string]domain.Subscription {
	out := make(map[string]domain.Subscription, len(records))
	for id, rec := range records {
		out[id] = rec.Clone()
	}
	return out
}

// ActiveRecipients returns the ids of every recipient in the snapshot whose
// alerts are switched on, sorted.
func (s *Snapshot) ActiveRecipients() []string {
	out := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.IsActive() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
