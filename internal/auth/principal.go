package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Principal is the authenticated caller. TenantID always comes from the
// stored user row, never from the request.
type Principal struct {
	User     store.User
	TenantID uuid.UUID
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored on ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// FromEcho returns the principal for the current request or an
// unauthenticated error.
func FromEcho(c echo.Context) (Principal, error) {
	p, ok := PrincipalFrom(c.Request().Context())
	if !ok {
		return Principal{}, failure.New(failure.Unauthenticated, "not authenticated")
	}
	return p, nil
}

// UserLookup is the slice of the store the resolver needs.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Resolver turns a verified token into a Principal.
type Resolver struct {
	users  UserLookup
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, users UserLookup) *Resolver {
	return &Resolver{users: users, logger: log.With(slog.String("service", "auth"))}
}

// Resolve maps a token subject to the active user it names.
func (r *Resolver) Resolve(ctx context.Context, subject string) (Principal, error) {
	user, err := r.users.GetUserByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, failure.New(failure.Unauthenticated, "unknown subject")
		}
		return Principal{}, failure.Wrap(failure.Internal, err, "resolve user")
	}
	if !user.IsActive {
		return Principal{}, failure.New(failure.InactiveUser, "user is deactivated")
	}
	return Principal{User: user, TenantID: user.TenantID}, nil
}

// Middleware runs after JWTMiddleware and attaches the Principal to the
// request context.
func (r *Resolver) Middleware(skipper middleware.Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			sub, err := SubjectFromContext(c)
			if err != nil {
				return err
			}
			p, err := r.Resolve(c.Request().Context(), sub)
			if err != nil {
				if failure.IsKind(err, failure.Internal) {
					r.logger.Error("principal lookup failed", slog.Any("error", err))
				}
				return err
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// RequireSuperuser rejects callers that are not platform administrators.
func RequireSuperuser(c echo.Context) (Principal, error) {
	p, err := FromEcho(c)
	if err != nil {
		return Principal{}, err
	}
	if !p.User.IsSuperuser {
		return Principal{}, failure.New(failure.Forbidden, "superuser required")
	}
	return p, nil
}
