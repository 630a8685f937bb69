// Package subscriptions owns the subscription store, the derived trigger index
// and the refresh protocol that keeps them consistent.
package subscriptions

import (
	"context"

	"github.com/bissquit/mention-relay/internal/domain"
)

// Store defines full load / full overwrite persistence of subscription records.
// Load on a store that was never written returns an empty map and no error.
type Store interface {
	Load(ctx context.Context) (map[string]domain.Subscription, error)
	Save(ctx context.Context, records map[string]domain.Subscription) error
}

// normalize fills nil sets and the map key so records read back from any backend
// behave like records created in memory.
func normalize(records map[string]domain.Subscription) map[string]domain.Subscription {
	out := make(map[string]domain.Subscription, len(records))
	for id, rec := range records {
		if rec.RecipientID == "" {
			rec.RecipientID = id
		}
		if rec.Roles == nil {
			rec.Roles = domain.NewStringSet()
		}
		if rec.Channels == nil {
			rec.Channels = domain.NewStringSet()
		}
		out[rec.RecipientID] = rec
	}
	return out
}
