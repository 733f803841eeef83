// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/audit"
	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/metrics"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/repository"
)

// Authentication errors.
var (
	// ErrInvalidCredentials covers unknown username and wrong password
	// alike; callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled is returned for a correct password on a
	// deactivated account.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrInvalidRefreshToken is returned for a malformed, unknown,
	// expired, or revoked refresh token.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshReplay is returned when an already-rotated refresh token
	// is presented again. All of the user's refresh tokens are revoked
	// as a side effect.
	ErrRefreshReplay = errors.New("refresh token replay detected")
)

// Opaque refresh tokens are 32 random bytes hex-encoded.
var refreshTokenPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// UserStore is the subset of the repository the auth service reads users through.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RefreshTokenStore persists and rotates refresh tokens.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, token *model.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}

// TokenDenylist marks access token IDs as revoked.
type TokenDenylist interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// EventPublisher enqueues audit events without blocking.
type EventPublisher interface {
	PublishAsync(event audit.EventPayload)
}

// AuthService handles login, token refresh, and logout.
type AuthService struct {
	users      UserStore
	tokens     RefreshTokenStore
	denylist   TokenDenylist
	signer     *auth.TokenSigner
	refreshTTL time.Duration
	publisher  EventPublisher
	metrics    metrics.Recorder
	now        func() time.Time
}

// NewAuthService creates a new AuthService. The publisher may be nil when
// the audit pipeline is disabled.
func NewAuthService(users UserStore, tokens RefreshTokenStore, denylist TokenDenylist, signer *auth.TokenSigner, refreshTTL time.Duration, publisher EventPublisher, recorder metrics.Recorder) *AuthService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		denylist:   denylist,
		signer:     signer,
		refreshTTL: refreshTTL,
		publisher:  publisher,
		metrics:    recorder,
		now:        time.Now,
	}
}

// Login exchanges a username and password for a token pair.
func (s *AuthService) Login(ctx context.Context, username, password, clientAddr string) (*model.TokenPair, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Burn the same hashing cost as a real verification so
			// response timing does not reveal whether the username exists.
			auth.DummyVerify(password)
			s.recordFailure(username, "", clientAddr)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.recordFailure(username, user.ID, clientAddr)
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		s.recordFailure(username, user.ID, clientAddr)
		return nil, ErrAccountDisabled
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLoginSuccess()
	s.record(model.AuthEventLoginSuccess, username, user.ID, clientAddr)

	return pair, nil
}

// Refresh exchanges a single-use refresh token for a fresh token pair.
// A replayed token revokes every refresh token of its owner.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientAddr string) (*model.TokenPair, error) {
	if !refreshTokenPattern.MatchString(refreshToken) {
		return nil, ErrInvalidRefreshToken
	}

	digest := auth.DigestRefreshToken(refreshToken)

	stored, err := s.tokens.RotateRefreshToken(ctx, digest)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenNotFound):
			return nil, ErrInvalidRefreshToken
		case errors.Is(err, repository.ErrRefreshTokenUsed):
			return nil, s.handleReplay(ctx, digest, clientAddr)
		default:
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}
	}

	user, err := s.userByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.IncTokenRefreshed()
	s.record(model.AuthEventRefresh, user.Username, user.ID, clientAddr)

	return pair, nil
}

// Logout revokes the presented access token and every refresh token of
// the caller. Safe to call repeatedly.
func (s *AuthService) Logout(ctx context.Context, identity *model.Identity, clientAddr string) error {
	// The denylist entry only needs to outlive the access token; the
	// signer TTL is a safe upper bound on its remaining lifetime.
	if err := s.denylist.RevokeToken(ctx, identity.TokenID, s.signer.TTL()); err != nil {
		return fmt.Errorf("denylist access token: %w", err)
	}

	if _, err := s.tokens.RevokeUserRefreshTokens(ctx, identity.UserID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.metrics.IncTokenRevoked()
	s.record(model.AuthEventLogout, identity.Username, identity.UserID, clientAddr)

	return nil
}

// issueTokenPair mints an access token and a stored refresh token.
func (s *AuthService) issueTokenPair(ctx context.Context, user *model.User) (*model.TokenPair, error) {
	accessToken, _, expiresAt, err := s.signer.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	plaintext, digest, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	stored := &model.RefreshToken{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.InsertRefreshToken(ctx, stored); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		ExpiresIn:    int64(time.Until(expiresAt).Seconds()),
		RefreshToken: plaintext,
	}, nil
}

// handleReplay revokes the token family after a rotated token is reused.
func (s *AuthService) handleReplay(ctx context.Context, digest, clientAddr string) error {
	s.metrics.IncRefreshReplay()

	stored, err := s.tokens.GetRefreshTokenByHash(ctx, digest)
	if err != nil {
		// The token vanished between rotation attempt and lookup;
		// nothing left to revoke.
		return ErrRefreshReplay
	}

	if _, err := s.tokens.RevokeUserRefreshTokens(ctx, stored.UserID); err != nil {
		return fmt.Errorf("revoke after replay: %w", err)
	}

	s.record(model.AuthEventRefreshReplay, "", stored.UserID, clientAddr)

	return ErrRefreshReplay
}

func (s *AuthService) userByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return user, nil
}

func (s *AuthService) recordFailure(username, userID, clientAddr string) {
	s.metrics.IncLoginFailure()
	s.record(model.AuthEventLoginFailure, username, userID, clientAddr)
}

// record publishes an audit event if the pipeline is enabled.
func (s *AuthService) record(eventType, username, userID, clientAddr string) {
	if s.publisher == nil {
		return
	}
	now := s.now().UTC()
	s.publisher.PublishAsync(audit.EventPayload{
		Type:       eventType,
		Username:   username,
		UserID:     userID,
		ClientHash: audit.HashClientAddr(clientAddr, now),
		OccurredAt: now.UnixMilli(),
	})
}
