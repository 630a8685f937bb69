package dialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/mention-relay/internal/directory"
	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/subscriptions"
	"github.com/stretchr/testify/require"
)

const recipient = "7"

func testDirectory() *directory.Static {
	return directory.NewStatic(map[uint64]directory.StaticGuild{
		42: {
			Name:     "Relay HQ",
			Roles:    []string{"core", "dev", "bot-admin", "Moderators"},
			Channels: []string{"general", "dev", "announcements"},
			Members: []domain.Member{
				{ID: "900", Username: "bob", Roles: []string{"core", "bot-admin"}},
				{ID: "901", Username: "alice", Roles: []string{"dev"}},
			},
		},
		43: {
			Name:     "Ops Guild",
			Roles:    []string{"ops"},
			Channels: []string{"ops-chat"},
			Members: []domain.Member{
				{ID: "900", Username: "bob", Roles: []string{"ops"}},
			},
		},
	})
}

// failingStore wraps a MemoryStore and fails Save on demand.
type failingStore struct {
	*subscriptions.MemoryStore
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, records map[string]domain.Subscription) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, records)
}

type fakeIssuer struct {
	err error
}

func (f fakeIssuer) IssueLink(sub domain.Subscription) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://verify.example/start?state=tok-" + sub.RecipientID, nil
}

var errDirectoryDown = errors.New("gateway down")

type harness struct {
	machine  *Machine
	registry *subscriptions.Registry
	dir      *directory.Static
	store    *failingStore
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	verifier LinkIssuer
}

func withVerifier(v LinkIssuer) harnessOption {
	return func(c *harnessConfig) { c.verifier = v }
}

func newHarness(t *testing.T, records []domain.Subscription, opts ...harnessOption) *harness {
	t.Helper()

	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	store := &failingStore{MemoryStore: subscriptions.NewMemoryStore(records...)}
	reg := subscriptions.NewRegistry(store, subscriptions.RegistryConfig{DefaultGuildID: 42})
	require.NoError(t, reg.Refresh(context.Background()))

	dir := testDirectory()
	machine := NewMachine(Config{RoleExemptPrefixes: []string{"bot-"}}, reg, dir, cfg.verifier)

	return &harness{machine: machine, registry: reg, dir: dir, store: store}
}

// say sends every text in order and returns the last reply.
func (h *harness) say(texts ...string) Reply {
	var reply Reply
	for _, text := range texts {
		reply = h.machine.Handle(context.Background(), recipient, text)
	}
	return reply
}

func (h *harness) state() State {
	return h.machine.State(recipient)
}

func (h *harness) record(t *testing.T) domain.Subscription {
	t.Helper()
	rec, ok := h.registry.Get(recipient)
	require.True(t, ok, "record for %s must exist", recipient)
	return rec
}

func bob(opts ...func(*domain.Subscription)) domain.Subscription {
	rec := domain.NewSubscription(recipient, 42)
	rec.Handle = "bob"
	rec.SourceUserID = "900"
	rec.Roles.Add("core")
	rec.Verified = true
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

func flatten(keyboard [][]string) []string {
	var out []string
	for _, row := range keyboard {
		out = append(out, row...)
	}
	return out
}
