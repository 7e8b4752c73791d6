package auth

import (
	"context"
	"testing"
	"time"

	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTenant() *models.Tenant {
	return &models.Tenant{ID: "tenant-1", Email: "owner@example.com"}
}

func newTestAuth(t *testing.T) (*Service, *storage.InMemoryTenantRepo) {
	t.Helper()
	repo := storage.NewInMemoryTenantRepo()
	tokens := NewTokenManager("test-secret", time.Hour)
	return NewService(repo, tokens, zap.NewNop()), repo
}

func registerReq() *RegisterRequest {
	return &RegisterRequest{
		StoreName: "Acme Outfitters",
		Email:     "Owner@Example.com",
		Password:  "correct-horse",
		Domain:    "acme.example.com",
		Timezone:  "Europe/Berlin",
	}
}

func TestRegister(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	tenant, token, err := svc.Register(ctx, registerReq())
	require.NoError(t, err)

	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "owner@example.com", tenant.Email)
	assert.Equal(t, "Acme Outfitters", tenant.StoreName)
	assert.True(t, tenant.IsActive)
	assert.NotEmpty(t, tenant.HashedPassword)
	assert.NotEqual(t, "correct-horse", string(tenant.HashedPassword))
	assert.Contains(t, tenant.APIKey, "mk_")
	assert.NotEmpty(t, token)

	claims, err := svc.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, claims.TenantID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, registerReq())
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, registerReq())
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	t.Run("short password", func(t *testing.T) {
		req := registerReq()
		req.Password = "short"
		_, _, err := svc.Register(ctx, req)
		assert.Error(t, err)
	})

	t.Run("missing store name", func(t *testing.T) {
		req := registerReq()
		req.StoreName = "  "
		_, _, err := svc.Register(ctx, req)
		assert.Error(t, err)
	})

	t.Run("bogus timezone", func(t *testing.T) {
		req := registerReq()
		req.Timezone = "Mars/Olympus"
		_, _, err := svc.Register(ctx, req)
		assert.Error(t, err)
	})
}

func TestLogin(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, registerReq())
	require.NoError(t, err)

	t.Run("success with case-insensitive email", func(t *testing.T) {
		tenant, token, err := svc.Login(ctx, "OWNER@example.com", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, tenant.ID)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "owner@example.com", "battery-staple")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "correct-horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticateAPIKey(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, registerReq())
	require.NoError(t, err)

	tenant, err := svc.AuthenticateAPIKey(ctx, registered.APIKey)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, tenant.ID)

	_, err = svc.AuthenticateAPIKey(ctx, "mk_bogus")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.AuthenticateAPIKey(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateToken(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	registered, token, err := svc.Register(ctx, registerReq())
	require.NoError(t, err)

	tenant, err := svc.AuthenticateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, tenant.ID)

	_, err = svc.AuthenticateToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenExpiry(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Minute)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.nowFn = func() time.Time { return issued }

	token, err := tm.Generate(testTenant())
	require.NoError(t, err)

	_, err = tm.Validate(token)
	require.NoError(t, err)

	tm.nowFn = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = tm.Validate(token)
	assert.Error(t, err)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Hour).Generate(testTenant())
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", time.Hour).Validate(token)
	assert.Error(t, err)
}
