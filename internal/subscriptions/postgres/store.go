// Package postgres provides PostgreSQL implementation of the subscription store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements subscriptions.Store using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a libpq style URL to the scheme of the pgx v5 driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Load reads every subscription. An empty table yields an empty map.
func (s *Store) Load(ctx context.Context) (map[string]domain.Subscription, error) {
	query := `
		SELECT recipient_id, handle, source_user_id, guild_id, roles, channels, verified, alerts_active, updated_at
		FROM subscriptions
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	records := make(map[string]domain.Subscription)
	for rows.Next() {
		var (
			rec      domain.Subscription
			guildID  int64
			roles    []string
			channels []string
		)
		err := rows.Scan(
			&rec.RecipientID,
			&rec.Handle,
			&rec.SourceUserID,
			&guildID,
			&roles,
			&channels,
			&rec.Verified,
			&rec.AlertsActive,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		rec.GuildID = uint64(guildID)
		rec.Roles = domain.NewStringSet(roles...)
		rec.Channels = domain.NewStringSet(channels...)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records[rec.RecipientID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return records, nil
}

// Save replaces the table contents with records in one transaction.
func (s *Store) Save(ctx context.Context, records map[string]domain.Subscription) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM subscriptions`); err != nil {
		return fmt.Errorf("clear subscriptions: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for id, rec := range records {
		updatedAt := rec.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			id,
			rec.Handle,
			rec.SourceUserID,
			int64(rec.GuildID),
			rec.Roles.Sorted(),
			rec.Channels.Sorted(),
			rec.Verified,
			rec.AlertsActive,
			updatedAt,
		})
	}

	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"subscriptions"},
			[]string{"recipient_id", "handle", "source_user_id", "guild_id", "roles", "channels", "verified", "alerts_active", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert subscriptions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
