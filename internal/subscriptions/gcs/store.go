// Package gcs stores subscriptions as a single JSON object in Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
)

// DefaultObject is the object name used when none is configured.
const DefaultObject = "subscriptions.json"

var errObjectMissing = errors.New("object does not exist")

// objectIO is the slice of the Cloud Storage API the store needs.
type objectIO interface {
	read(ctx context.Context, bucket, object string) ([]byte, error)
	write(ctx context.Context, bucket, object string, data []byte) error
}

// Config contains store configuration.
type Config struct {
	Bucket   string
	Object   string
	Attempts uint
}

type document struct {
	Version       int                            `json:"version"`
	Subscriptions map[string]domain.Subscription `json:"subscriptions"`
}

// Store implements subscriptions.Store on top of one Cloud Storage object.
type Store struct {
	io       objectIO
	bucket   string
	object   string
	attempts uint
}

// NewStore creates a store that reads and writes through client.
func NewStore(client *storage.Client, config Config) *Store {
	return newStore(&bucketIO{client: client}, config)
}

func newStore(objects objectIO, config Config) *Store {
	if config.Object == "" {
		config.Object = DefaultObject
	}
	if config.Attempts == 0 {
		config.Attempts = 3
	}
	return &Store{
		io:       objects,
		bucket:   config.Bucket,
		object:   config.Object,
		attempts: config.Attempts,
	}
}

// Load reads the object. A missing object yields an empty map.
func (s *Store) Load(ctx context.Context) (map[string]domain.Subscription, error) {
	var data []byte
	missing := false

	err := retry.Do(
		func() error {
			b, readErr := s.io.read(ctx, s.bucket, s.object)
			if errors.Is(readErr, errObjectMissing) {
				missing = true
				return nil
			}
			if readErr != nil {
				return readErr
			}
			data = b
			return nil
		},
		s.retryOptions(ctx, "load")...,
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	if missing || len(data) == 0 {
		return make(map[string]domain.Subscription), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal subscriptions: %w", err)
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = make(map[string]domain.Subscription)
	}
	return doc.Subscriptions, nil
}

// Save overwrites the object with records.
func (s *Store) Save(ctx context.Context, records map[string]domain.Subscription) error {
	data, err := json.MarshalIndent(document{Version: 1, Subscriptions: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}

	err = retry.Do(
		func() error {
			return s.io.write(ctx, s.bucket, s.object, data)
		},
		s.retryOptions(ctx, "save")...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	slog.Debug("subscriptions saved", "bucket", s.bucket, "object", s.object, "records", len(records))
	return nil
}

func (s *Store) retryOptions(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Attempts(s.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(30 * time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("retrying subscription object operation",
				"operation", op,
				"attempt", n,
				"object", s.object,
				"error", err,
			)
		}),
		retry.RetryIf(retryable),
	}
}

// retryable reports whether another attempt may succeed. Client errors such
// as a missing bucket or denied access are final.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusRequestTimeout ||
			apiErr.Code == http.StatusTooManyRequests ||
			apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

type bucketIO struct {
	client *storage.Client
}

func (b *bucketIO) read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errObjectMissing
		}
		return nil, fmt.Errorf("open storage reader: %w", err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			slog.Warn("failed to close storage reader", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read from storage: %w", err)
	}
	return data, nil
}

func (b *bucketIO) write(ctx context.Context, bucket, object string, data []byte) error {
	w := b.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			slog.Warn("failed to close writer after error", "error", closeErr)
		}
		return fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close storage writer: %w", err)
	}
	return nil
}
