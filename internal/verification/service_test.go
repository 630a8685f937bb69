package verification

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/notifications"
	"github.com/bissquit/mention-relay/internal/subscriptions"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-bytes!"

type recordingSender struct {
	mu   sync.Mutex
	sent []notifications.Notification
}

func (r *recordingSender) Send(_ context.Context, n notifications.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func unverifiedBob() domain.Subscription {
	rec := domain.NewSubscription("7", 42)
	rec.Handle = "bob"
	rec.SourceUserID = "900"
	rec.Roles.Add("core")
	return rec
}

func newTestService(t *testing.T, records ...domain.Subscription) (*Service, *subscriptions.Registry, *recordingSender) {
	t.Helper()

	reg := subscriptions.NewRegistry(subscriptions.NewMemoryStore(records...), subscriptions.RegistryConfig{DefaultGuildID: 42})
	require.NoError(t, reg.Refresh(context.Background()))

	sender := &recordingSender{}
	svc, err := NewService(Config{
		BaseURL:   "https://verify.example/discord/start?lang=en",
		SecretKey: testSecret,
		TokenTTL:  time.Hour,
	}, reg, sender)
	require.NoError(t, err)
	return svc, reg, sender
}

func TestNewService_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing secret", Config{BaseURL: "https://verify.example"}, "secret key is required"},
		{"missing base url", Config{SecretKey: testSecret}, "invalid base url"},
		{"relative base url", Config{SecretKey: testSecret, BaseURL: "/verify"}, "invalid base url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.config, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestService_IssueLink(t *testing.T) {
	svc, _, _ := newTestService(t)

	link, err := svc.IssueLink(unverifiedBob())
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "verify.example", u.Host)
	assert.Equal(t, "en", u.Query().Get("lang"), "existing query is kept")

	state := u.Query().Get("state")
	claims, err := svc.ParseToken(state)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, "bob", claims.Handle)
	assert.NotEmpty(t, claims.ID)

	// The payload is readable by the recipient, so it must not reveal the
	// Discord user id the verifier is expected to report.
	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(state, raw)
	require.NoError(t, err)
	assert.NotContains(t, raw, "source_user_id")
	for key, value := range raw {
		assert.NotEqual(t, "900", value, "claim %s", key)
	}
}

func TestService_IssueToken_RequiresHandle(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.IssueToken(domain.NewSubscription("7", 42))
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestService_ParseToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	valid, err := svc.IssueToken(unverifiedBob())
	require.NoError(t, err)

	other, _, _ := newTestService(t)
	other.config.SecretKey = "another-secret-key-of-enough-length"
	foreign, err := other.IssueToken(unverifiedBob())
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Handle:           "bob",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7", Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", valid, nil},
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong key", foreign, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"tampered", valid[:len(valid)-2] + "xx", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ParseToken(tt.token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_ParseToken_Expired(t *testing.T) {
	svc, _, _ := newTestService(t)
	token, err := svc.IssueToken(unverifiedBob())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestService_Confirm(t *testing.T) {
	svc, reg, sender := newTestService(t, unverifiedBob())
	token, err := svc.IssueToken(unverifiedBob())
	require.NoError(t, err)

	sub, err := svc.Confirm(context.Background(), token, "900")
	require.NoError(t, err)
	assert.True(t, sub.Verified)

	snapRec, ok := reg.Snapshot().Record("7")
	require.True(t, ok)
	assert.True(t, snapRec.Verified, "verification is published by the refresh")

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "7", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "<b>bob</b>")
}

func TestService_Confirm_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		records []domain.Subscription
		proven  string
		wantErr error
	}{
		{
			name:    "different discord account",
			records: []domain.Subscription{unverifiedBob()},
			proven:  "901",
			wantErr: ErrUserMismatch,
		},
		{
			name:    "recipient deleted",
			records: nil,
			proven:  "900",
			wantErr: ErrRecipientNotFound,
		},
		{
			name:    "empty proven account",
			records: []domain.Subscription{unverifiedBob()},
			proven:  "",
			wantErr: ErrUserMismatch,
		},
		{
			name: "account behind handle changed",
			records: []domain.Subscription{func() domain.Subscription {
				rec := unverifiedBob()
				rec.SourceUserID = "901"
				return rec
			}()},
			proven:  "900",
			wantErr: ErrUserMismatch,
		},
		{
			name: "handle changed after issue",
			records: []domain.Subscription{func() domain.Subscription {
				rec := unverifiedBob()
				rec.Handle = "alice"
				rec.SourceUserID = "901"
				return rec
			}()},
			proven:  "900",
			wantErr: ErrHandleChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, reg, sender := newTestService(t, tt.records...)
			token, err := svc.IssueToken(unverifiedBob())
			require.NoError(t, err)

			_, err = svc.Confirm(context.Background(), token, tt.proven)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, sender.sent)

			if rec, ok := reg.Get("7"); ok {
				assert.False(t, rec.Verified)
			}
		})
	}
}
