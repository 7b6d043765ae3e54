package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/config"
)

const testQuota = int64(1 << 30)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		BcryptCost:         4,
	}
}

func TestRegisterSuccess(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})

	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if result.User.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped from response")
	}

	if result.User.StorageQuota != testQuota {
		t.Fatalf("expected quota %d assigned, got %d", testQuota, result.User.StorageQuota)
	}

	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued")
	}

	if len(store.users) != 1 {
		t.Fatalf("expected user stored; got %d", len(store.users))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	_, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("initial registration returned error: %v", err)
	}

	_, err = service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "AnotherPass2!",
	})

	if err == nil || err != ErrEmailAlreadyExists {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	_, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	result, err := service.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})

	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}

	if result.Tokens.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if result.Tokens.RefreshToken == "" {
		t.Fatalf("expected refresh token")
	}
}

func TestLoginInvalidPassword(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	_, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	_, err = service.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "WrongPass99",
	})

	if err == nil || err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateAccessTokenRoundTrip(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	claims, err := service.ValidateAccessToken(result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if claims.UserID != result.User.ID {
		t.Fatalf("expected subject %s, got %s", result.User.ID, claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("unexpected email claim %q", claims.Email)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	rotated, err := service.Refresh(context.Background(), result.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh returned error: %v", err)
	}
	if rotated.Tokens.RefreshToken == result.Tokens.RefreshToken {
		t.Fatalf("expected a new refresh token after rotation")
	}

	// The old token is spent.
	_, err = service.Refresh(context.Background(), result.Tokens.RefreshToken)
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for reused token, got %v", err)
	}
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	_, err := service.Refresh(context.Background(), "bogus-token")
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	store := newMemoryStore()
	service := NewService(store, testAuthConfig(), testQuota)

	result, err := service.Register(context.Background(), RegisterInput{
		Email:    "user@example.com",
		Password: "StrongPass1!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if err := service.Logout(context.Background(), result.User.ID, result.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout returned error: %v", err)
	}

	_, err = service.Refresh(context.Background(), result.Tokens.RefreshToken)
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized after logout, got %v", err)
	}
}

// memoryStore implements userStore for tests.
type memoryStore struct {
	users         map[string]User
	refreshTokens map[string]RefreshSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         make(map[string]User),
		refreshTokens: make(map[string]RefreshSession),
	}
}

func (m *memoryStore) CreateUser(ctx context.Context, email, passwordHash string, displayName *string, storageQuota int64) (User, error) {
	if _, ok := m.users[email]; ok {
		return User{}, ErrEmailAlreadyExists
	}
	user := User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		StorageQuota: storageQuota,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.users[email] = user
	return user, nil
}

func (m *memoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := m.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memoryStore) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryStore) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.refreshTokens[tokenHash] = RefreshSession{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (m *memoryStore) FindRefreshToken(ctx context.Context, tokenHash string) (RefreshSession, error) {
	session, ok := m.refreshTokens[tokenHash]
	if !ok {
		return RefreshSession{}, ErrUnauthorized
	}
	return session, nil
}

func (m *memoryStore) RevokeToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	if session, ok := m.refreshTokens[tokenHash]; ok && session.UserID == userID {
		now := time.Now()
		session.RevokedAt = &now
		m.refreshTokens[tokenHash] = session
	}
	return nil
}
