package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTenantDisabled     = errors.New("tenant is disabled")
)

// RegisterRequest is the payload for creating a tenant account.
type RegisterRequest struct {
	StoreName string `json:"store_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Domain    string `json:"domain,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

func (r *RegisterRequest) validate() error {
	if strings.TrimSpace(r.StoreName) == "" {
		return errors.New("store_name is required")
	}
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("email is required")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", r.Timezone)
		}
	}
	return nil
}

// Service handles tenant registration and login. Each tenant gets a
// bcrypt-hashed password for dashboard login and a random API key for
// server-side event ingestion.
type Service struct {
	tenants storage.TenantRepo
	tokens  *TokenManager
	logger  *zap.Logger
	nowFn   func() time.Time
}

// NewService constructs the auth service.
func NewService(tenants storage.TenantRepo, tokens *TokenManager, logger *zap.Logger) *Service {
	return &Service{
		tenants: tenants,
		tokens:  tokens,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Register creates a new tenant account and returns it together with a
// fresh access token.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*models.Tenant, string, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := s.tenants.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("check existing tenant: %w", err)
	}
	if existing != nil {
		return nil, "", ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	tenant := &models.Tenant{
		ID:             uuid.New().String(),
		StoreName:      strings.TrimSpace(req.StoreName),
		Email:          email,
		HashedPassword: hashed,
		Domain:         strings.TrimSpace(req.Domain),
		APIKey:         newAPIKey(),
		Timezone:       req.Timezone,
		IsActive:       true,
		CreatedAt:      s.nowFn().UTC(),
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, "", fmt.Errorf("create tenant: %w", err)
	}

	token, err := s.tokens.Generate(tenant)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("tenant registered",
		zap.String("tenant_id", tenant.ID),
		zap.String("store_name", tenant.StoreName),
	)
	return tenant, token, nil
}

// Login verifies credentials and returns the tenant with a fresh
// access token. Unknown emails and wrong passwords report the same
// error.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Tenant, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	tenant, err := s.tenants.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("lookup tenant: %w", err)
	}
	if tenant == nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(tenant.HashedPassword, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if !tenant.IsActive {
		return nil, "", ErrTenantDisabled
	}

	token, err := s.tokens.Generate(tenant)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("tenant logged in", zap.String("tenant_id", tenant.ID))
	return tenant, token, nil
}

// AuthenticateAPIKey resolves an ingestion API key to its tenant.
func (s *Service) AuthenticateAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if apiKey == "" {
		return nil, ErrInvalidCredentials
	}
	tenant, err := s.tenants.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if tenant == nil {
		return nil, ErrInvalidCredentials
	}
	if !tenant.IsActive {
		return nil, ErrTenantDisabled
	}
	return tenant, nil
}

// AuthenticateToken resolves a bearer token to its tenant.
func (s *Service) AuthenticateToken(ctx context.Context, tokenString string) (*models.Tenant, error) {
	claims, err := s.tokens.Validate(tokenString)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	tenant, err := s.tenants.GetByID(ctx, claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant: %w", err)
	}
	if tenant == nil {
		return nil, ErrInvalidCredentials
	}
	if !tenant.IsActive {
		return nil, ErrTenantDisabled
	}
	return tenant, nil
}

// newAPIKey mints an opaque ingestion key. The prefix makes keys easy
// to spot in request logs and support tickets.
func newAPIKey() string {
	return "mk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
