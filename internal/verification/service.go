// Package verification proves that a recipient owns the Discord account behind
// their handle. The bot hands out a signed link; an external OAuth verifier
// calls back with the Discord user id it authenticated.
package verification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/notifications"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer          = "mention-relay"
	defaultTokenTTL = time.Hour
)

// Config contains verification configuration.
type Config struct {
	BaseURL   string
	SecretKey string
	TokenTTL  time.Duration
}

// Registry is the part of the subscription registry verification needs.
type Registry interface {
	Get(recipientID string) (domain.Subscription, bool)
	ApplyAndRefresh(ctx context.Context, recipientID string, mutation func(*domain.Subscription) error) (domain.Subscription, error)
}

// Claims is the payload of a verification token. The token names the
// recipient and the handle it was issued for but never the Discord user id:
// the id is only accepted from the authenticated verifier.
type Claims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Service issues and redeems verification tokens.
type Service struct {
	config   Config
	baseURL  *url.URL
	registry Registry
	sender   notifications.Sender
	now      func() time.Time
}

// NewService creates a verification service. sender, if not nil, is used to
// tell the recipient that verification succeeded.
func NewService(config Config, registry Registry, sender notifications.Sender) (*Service, error) {
	if config.SecretKey == "" {
		return nil, errors.New("verification: secret key is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("verification: invalid base url %q", config.BaseURL)
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}

	return &Service{
		config:   config,
		baseURL:  base,
		registry: registry,
		sender:   sender,
		now:      time.Now,
	}, nil
}

// IssueToken signs a token binding the recipient to its current handle.
func (s *Service) IssueToken(sub domain.Subscription) (string, error) {
	if sub.Handle == "" || sub.SourceUserID == "" {
		return "", ErrNoHandle
	}

	now := s.now()
	claims := Claims{
		Handle: sub.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub.RecipientID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// IssueLink returns the verifier URL with a fresh token in the state parameter.
func (s *Service) IssueLink(sub domain.Subscription) (string, error) {
	token, err := s.IssueToken(sub)
	if err != nil {
		return "", err
	}

	link := *s.baseURL
	q := link.Query()
	q.Set("state", token)
	link.RawQuery = q.Encode()
	return link.String(), nil
}

// ParseToken verifies the signature and expiry of token.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(s.config.SecretKey), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Handle == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Confirm redeems state for the Discord account sourceUserID and marks the
// recipient verified. sourceUserID must come from the authenticated verifier
// and match the account currently behind the recipient's handle.
func (s *Service) Confirm(ctx context.Context, state, sourceUserID string) (domain.Subscription, error) {
	claims, err := s.ParseToken(state)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sourceUserID == "" {
		return domain.Subscription{}, ErrUserMismatch
	}

	recipientID := claims.Subject
	if _, ok := s.registry.Get(recipientID); !ok {
		return domain.Subscription{}, ErrRecipientNotFound
	}

	updated, err := s.registry.ApplyAndRefresh(ctx, recipientID, func(sub *domain.Subscription) error {
		if domain.FoldHandle(sub.Handle) != domain.FoldHandle(claims.Handle) {
			return ErrHandleChanged
		}
		if sub.SourceUserID != sourceUserID {
			return ErrUserMismatch
		}
		sub.Verified = true
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	slog.Info("handle verified",
		"recipient_id", recipientID,
		"source_user_id", sourceUserID,
		"token_id", claims.ID,
	)
	s.notify(ctx, updated)
	return updated, nil
}

func (s *Service) notify(ctx context.Context, sub domain.Subscription) {
	if s.sender == nil {
		return
	}
	err := s.sender.Send(ctx, notifications.Notification{
		To:   sub.RecipientID,
		Body: fmt.Sprintf("Your Discord handle <b>%s</b> is verified. Mentions will now reach you here.", html.EscapeString(sub.Handle)),
	})
	if err != nil {
		slog.Warn("failed to send verification notice", "recipient_id", sub.RecipientID, "error", err)
	}
}
