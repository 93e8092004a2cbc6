package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// BcryptCost is the minimum work factor for stored password hashes.
const BcryptCost = 12

// Service handles registration, login and user management.
type Service struct {
	store  store.Store
	auth   config.AuthConfig
	cost   int
	logger *slog.Logger
}

// NewService creates a new accounts service.
func NewService(log *slog.Logger, st store.Store, cfg config.Config) *Service {
	return &Service{
		store:  st,
		auth:   cfg.Auth,
		cost:   BcryptCost,
		logger: log.With(slog.String("service", "accounts")),
	}
}

// Register creates a tenant and its first user in one transaction and
// returns a token for the new user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (TokenResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return TokenResponse{}, failure.New(failure.Validation, "a valid email is required")
	}
	if len(req.Password) < 8 {
		return TokenResponse{}, failure.New(failure.Validation, "password must be at least 8 characters")
	}
	tenantName := strings.TrimSpace(req.TenantName)
	if tenantName == "" {
		return TokenResponse{}, failure.New(failure.Validation, "tenant_name is required")
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return TokenResponse{}, err
	}

	var (
		tenant store.Tenant
		user   store.User
	)
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetUserByEmail(ctx, email); err == nil {
			return failure.New(failure.Conflict, "email already registered")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		var err error
		tenant, err = createTenant(ctx, tx, tenantName)
		if err != nil {
			return err
		}
		user, err = tx.CreateUser(ctx, store.User{
			TenantID:       tenant.ID,
			Email:          email,
			FullName:       strings.TrimSpace(req.FullName),
			HashedPassword: hash,
			IsActive:       true,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return failure.New(failure.Conflict, "email already registered")
		}
		return err
	})
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return TokenResponse{}, fe
		}
		return TokenResponse{}, failure.Wrap(failure.Internal, err, "register")
	}
	s.logger.Info("tenant registered", slog.String("tenant_id", tenant.ID.String()), slog.String("slug", tenant.Slug))
	return s.issue(user, tenant)
}

// Login verifies the password and returns a fresh token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		email = normalizeEmail(req.Username)
	}
	if email == "" || req.Password == "" {
		return TokenResponse{}, failure.New(failure.Validation, "email and password are required")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenResponse{}, failure.New(failure.Unauthenticated, "incorrect email or password")
		}
		return TokenResponse{}, failure.Wrap(failure.Internal, err, "lookup user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		return TokenResponse{}, failure.New(failure.Unauthenticated, "incorrect email or password")
	}
	if !user.IsActive {
		return TokenResponse{}, failure.New(failure.InactiveUser, "user is deactivated")
	}
	tenant, err := s.store.GetTenant(ctx, user.TenantID)
	if err != nil {
		return TokenResponse{}, failure.Wrap(failure.Internal, err, "load tenant")
	}
	return s.issue(user, tenant)
}

// Me returns the caller's account with its tenant.
func (s *Service) Me(ctx context.Context, p auth.Principal) (Account, error) {
	tenant, err := s.store.GetTenant(ctx, p.TenantID)
	if err != nil {
		return Account{}, failure.Wrap(failure.Internal, err, "load tenant")
	}
	return toAccount(p.User, tenant), nil
}

// List returns the users of the caller's tenant.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Account, error) {
	tenant, err := s.store.GetTenant(ctx, p.TenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "load tenant")
	}
	users, err := s.store.ListUsers(ctx, p.TenantID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list users")
	}
	out := make([]Account, 0, len(users))
	for _, u := range users {
		out = append(out, toAccount(u, tenant))
	}
	return out, nil
}

// CreateUser adds a user to the caller's tenant. Superusers only.
func (s *Service) CreateUser(ctx context.Context, p auth.Principal, req CreateUserRequest) (Account, error) {
	if !p.User.IsSuperuser {
		return Account{}, failure.New(failure.Forbidden, "superuser required")
	}
	email := normalizeEmail(req.Email)
	if email == "" || len(req.Password) < 8 {
		return Account{}, failure.New(failure.Validation, "email and a password of at least 8 characters are required")
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return Account{}, err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		TenantID:       p.TenantID,
		Email:          email,
		FullName:       strings.TrimSpace(req.FullName),
		HashedPassword: hash,
		IsActive:       true,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Account{}, failure.New(failure.Conflict, "email already registered")
		}
		return Account{}, failure.Wrap(failure.Internal, err, "create user")
	}
	return s.Me(ctx, auth.Principal{User: user, TenantID: user.TenantID})
}

// SetActive activates or deactivates a user in the caller's tenant.
func (s *Service) SetActive(ctx context.Context, p auth.Principal, userID uuid.UUID, active bool) (Account, error) {
	if !p.User.IsSuperuser {
		return Account{}, failure.New(failure.Forbidden, "superuser required")
	}
	if userID == p.User.ID && !active {
		return Account{}, failure.New(failure.Validation, "cannot deactivate yourself")
	}
	user, err := s.store.SetUserActive(ctx, p.TenantID, userID, active)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Account{}, failure.New(failure.NotFound, "user not found")
		}
		return Account{}, failure.Wrap(failure.Internal, err, "update user")
	}
	return s.Me(ctx, auth.Principal{User: user, TenantID: user.TenantID})
}

// EnsurePlatformAdmin creates the configured superuser and its tenant if
// the email is not registered yet.
func (s *Service) EnsurePlatformAdmin(ctx context.Context, cfg config.AdminConfig) error {
	email := normalizeEmail(cfg.Email)
	if email == "" || cfg.Password == "" {
		return nil
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}
	hash, err := s.hash(cfg.Password)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(cfg.TenantName)
	if name == "" {
		name = "Platform"
	}
	return s.store.InTx(ctx, func(tx store.Store) error {
		tenant, err := createTenant(ctx, tx, name)
		if err != nil {
			return err
		}
		_, err = tx.CreateUser(ctx, store.User{
			TenantID:       tenant.ID,
			Email:          email,
			HashedPassword: hash,
			IsActive:       true,
			IsSuperuser:    true,
		})
		if err == nil {
			s.logger.Info("platform admin created", slog.String("email", email))
		}
		return err
	})
}

func (s *Service) hash(password string) (string, error) {
	cost := s.cost
	if cost < bcrypt.MinCost {
		cost = BcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", failure.New(failure.Validation, "password is too long")
		}
		return "", failure.Wrap(failure.Internal, err, "hash password")
	}
	return string(hash), nil
}

func (s *Service) issue(user store.User, tenant store.Tenant) (TokenResponse, error) {
	token, expiresAt, err := auth.GenerateToken(user.Email, s.auth.SecretKey, s.auth.TokenTTL())
	if err != nil {
		return TokenResponse{}, failure.Wrap(failure.Internal, err, "sign token")
	}
	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        toAccount(user, tenant),
	}, nil
}

// createTenant derives a slug from name and appends a short suffix when the
// slug is taken.
func createTenant(ctx context.Context, tx store.Store, name string) (store.Tenant, error) {
	base := Slugify(name)
	slug := base
	for range 5 {
		tenant, err := tx.CreateTenant(ctx, store.Tenant{Name: name, Slug: slug})
		if !errors.Is(err, store.ErrDuplicate) {
			return tenant, err
		}
		slug = base + "-" + uuid.NewString()[:6]
	}
	return store.Tenant{}, failure.New(failure.Conflict, "could not allocate a tenant slug")
}

// Slugify lowercases name and collapses every run of non-alphanumerics to '-'.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "tenant"
	}
	return slug
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toAccount(u store.User, t store.Tenant) Account {
	return Account{
		ID:          u.ID.String(),
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		TenantID:    u.TenantID.String(),
		Tenant:      t,
		CreatedAt:   u.CreatedAt,
	}
}
