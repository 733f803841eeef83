package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/audit"
	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/metrics"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/repository"
)

type fakeUserStore struct {
	byUsername map[string]*model.User
	byID       map[string]*model.User
}

func newFakeUserStore(users ...*model.User) *fakeUserStore {
	s := &fakeUserStore{
		byUsername: make(map[string]*model.User),
		byID:       make(map[string]*model.User),
	}
	for _, u := range users {
		s.byUsername[u.Username] = u
		s.byID[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := s.byUsername[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

type fakeRefreshStore struct {
	mu     sync.Mutex
	byHash map[string]*model.RefreshToken
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{byHash: make(map[string]*model.RefreshToken)}
}

func (s *fakeRefreshStore) InsertRefreshToken(_ context.Context, token *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.byHash[token.TokenHash] = &copied
	return nil
}

func (s *fakeRefreshStore) GetRefreshTokenByHash(_ context.Context, tokenHash string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[tokenHash]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *fakeRefreshStore) RotateRefreshToken(_ context.Context, tokenHash string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[tokenHash]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	// Mirrors the SQL: only an already-rotated row is a replay; revoked
	// and expired rows are indistinguishable from unknown ones.
	if t.RotatedAt != nil {
		return nil, repository.ErrRefreshTokenUsed
	}
	if t.RevokedAt != nil || t.IsExpired() {
		return nil, repository.ErrRefreshTokenNotFound
	}
	now := time.Now().UTC()
	t.RotatedAt = &now
	copied := *t
	return &copied, nil
}

func (s *fakeRefreshStore) RevokeUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, t := range s.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

type fakeDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{revoked: make(map[string]time.Duration)}
}

func (d *fakeDenylist) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[jti] = ttl
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []audit.EventPayload
}

func (p *capturingPublisher) PublishAsync(event audit.EventPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type authFixture struct {
	service   *AuthService
	users     *fakeUserStore
	tokens    *fakeRefreshStore
	denylist  *fakeDenylist
	publisher *capturingPublisher
	signer    *auth.TokenSigner
	metrics   *metrics.InMemoryRecorder
}

func newAuthFixture(t *testing.T, users ...*model.User) *authFixture {
	t.Helper()

	signer, err := auth.NewTokenSigner([]byte("0123456789abcdef0123456789abcdef"), "taskdeck-test", 30*time.Minute, time.Now)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}

	f := &authFixture{
		users:     newFakeUserStore(users...),
		tokens:    newFakeRefreshStore(),
		denylist:  newFakeDenylist(),
		publisher: &capturingPublisher{},
		signer:    signer,
		metrics:   metrics.NewInMemory(),
	}
	f.service = NewAuthService(f.users, f.tokens, f.denylist, signer, 720*time.Hour, f.publisher, f.metrics)
	return f
}

func newActiveUser(t *testing.T, id, username, password string) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestLogin_Success(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	pair, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := f.signer.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "ana" {
		t.Errorf("claims = %+v", claims)
	}
	if pair.ExpiresIn <= 0 {
		t.Errorf("ExpiresIn = %d, want > 0", pair.ExpiresIn)
	}

	// The stored record holds the digest, never the plaintext.
	digest := auth.DigestRefreshToken(pair.RefreshToken)
	stored, err := f.tokens.GetRefreshTokenByHash(context.Background(), digest)
	if err != nil {
		t.Fatalf("refresh token not stored: %v", err)
	}
	if stored.UserID != "user-1" {
		t.Errorf("stored.UserID = %q", stored.UserID)
	}

	types := f.publisher.eventTypes()
	if len(types) != 1 || types[0] != model.AuthEventLoginSuccess {
		t.Errorf("events = %v", types)
	}

	if snap := f.metrics.Snapshot(); snap.LoginSuccesses != 1 || snap.LoginFailures != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestLogin_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	_, errUnknown := f.service.Login(context.Background(), "nobody", "whatever", "203.0.113.9")
	_, errWrong := f.service.Login(context.Background(), "ana", "wrong password", "203.0.113.9")

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v, want ErrInvalidCredentials", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", errWrong)
	}

	types := f.publisher.eventTypes()
	if len(types) != 2 {
		t.Fatalf("events = %v, want two failures", types)
	}
	for _, ty := range types {
		if ty != model.AuthEventLoginFailure {
			t.Errorf("event type = %q", ty)
		}
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	user.Active = false
	f := newAuthFixture(t, user)

	_, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("got %v, want ErrAccountDisabled", err)
	}
}

func TestRefresh_RotatesSingleUse(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	pair, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := f.service.Refresh(context.Background(), pair.RefreshToken, "203.0.113.9")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if _, err := f.signer.Verify(next.AccessToken); err != nil {
		t.Errorf("new access token does not verify: %v", err)
	}
}

func TestRefresh_ReplayRevokesFamily(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	pair, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := f.service.Refresh(context.Background(), pair.RefreshToken, "203.0.113.9")
	if err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// Presenting the already-rotated token again is a replay.
	if _, err := f.service.Refresh(context.Background(), pair.RefreshToken, "203.0.113.9"); !errors.Is(err, ErrRefreshReplay) {
		t.Fatalf("replay: got %v, want ErrRefreshReplay", err)
	}

	// The replay revoked the whole family, including the fresh token,
	// which now looks like any other invalid token.
	if _, err := f.service.Refresh(context.Background(), next.RefreshToken, "203.0.113.9"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("post-replay refresh: got %v, want ErrInvalidRefreshToken", err)
	}
}

func TestRefresh_ExpiredTokenIsNotAReplay(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	stale, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	fresh, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Age the first token past its expiry.
	staleDigest := auth.DigestRefreshToken(stale.RefreshToken)
	f.tokens.mu.Lock()
	f.tokens.byHash[staleDigest].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	f.tokens.mu.Unlock()

	// A routine expiry must not be mistaken for a replay attack.
	if _, err := f.service.Refresh(context.Background(), stale.RefreshToken, "203.0.113.9"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired refresh: got %v, want ErrInvalidRefreshToken", err)
	}

	// The user's other tokens are untouched.
	if _, err := f.service.Refresh(context.Background(), fresh.RefreshToken, "203.0.113.9"); err != nil {
		t.Fatalf("fresh refresh after expired attempt: %v", err)
	}
}

func TestRefresh_RejectsMalformedAndUnknown(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not_hex", strings.Repeat("z", 64)},
		{"too_short", "abcdef"},
		{"unknown", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.service.Refresh(context.Background(), test.token, "203.0.113.9")
			if !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("got %v, want ErrInvalidRefreshToken", err)
			}
		})
	}
}

func TestLogout_RevokesTokens(t *testing.T) {
	user := newActiveUser(t, "user-1", "ana", "correct horse battery")
	f := newAuthFixture(t, user)

	pair, err := f.service.Login(context.Background(), "ana", "correct horse battery", "203.0.113.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := f.signer.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	identity := &model.Identity{UserID: claims.UserID, Username: claims.Username, TokenID: claims.TokenID}
	if err := f.service.Logout(context.Background(), identity, "203.0.113.9"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	f.denylist.mu.Lock()
	_, denied := f.denylist.revoked[claims.TokenID]
	f.denylist.mu.Unlock()
	if !denied {
		t.Error("access token jti was not denylisted")
	}

	// Tokens revoked at logout are plain invalid tokens, not replays.
	if _, err := f.service.Refresh(context.Background(), pair.RefreshToken, "203.0.113.9"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("refresh after logout: got %v, want ErrInvalidRefreshToken", err)
	}
}
