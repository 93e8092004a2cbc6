package accounts

import (
	"time"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// RegisterRequest creates a tenant and its first user.
type RegisterRequest struct {
	Email      string `json:"email" form:"email" validate:"required,email"`
	Password   string `json:"password" form:"password" validate:"required,min=8"`
	FullName   string `json:"full_name,omitempty" form:"full_name"`
	TenantName string `json:"tenant_name" form:"tenant_name" validate:"required"`
}

// LoginRequest accepts JSON or form-encoded credentials. Username is the
// OAuth2 password-form alias for Email.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Account   `json:"user"`
}

// Account is the public view of a user with its tenant embedded.
type Account struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	FullName    string       `json:"full_name,omitempty"`
	IsActive    bool         `json:"is_active"`
	IsSuperuser bool         `json:"is_superuser"`
	TenantID    string       `json:"tenant_id"`
	Tenant      store.Tenant `json:"tenant"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CreateUserRequest adds a user to the caller's tenant.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name,omitempty"`
}

type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type ListResponse struct {
	Items []Account `json:"items"`
}
