package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentprovision/agentprovision/internal/failure"
)

const (
	claimSubject = "sub"
	contextToken = "user"
)

// JWTMiddleware returns a bearer-token middleware for HMAC-signed tokens.
func JWTMiddleware(secret, algorithm string, skipper middleware.Skipper) echo.MiddlewareFunc {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{algorithm}),
		jwt.WithExpirationRequired(),
	)
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:  key,
		TokenLookup: "header:Authorization:Bearer ",
		ContextKey:  contextToken,
		Skipper:     skipper,
		// Tokens must carry exp and be signed with the configured algorithm.
		ParseTokenFunc: func(c echo.Context, raw string) (any, error) {
			token, err := parser.ParseWithClaims(raw, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil {
				return nil, err
			}
			if !token.Valid {
				return nil, errors.New("invalid token")
			}
			return token, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if errors.Is(err, echojwt.ErrJWTMissing) {
				return failure.New(failure.Unauthenticated, "missing bearer token")
			}
			return failure.New(failure.Unauthenticated, "invalid or expired token")
		},
	})
}

// SubjectFromContext returns the token subject (the user's email).
func SubjectFromContext(c echo.Context) (string, error) {
	token, ok := c.Get(contextToken).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", failure.New(failure.Unauthenticated, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", failure.New(failure.Unauthenticated, "invalid token claims")
	}
	sub := strings.TrimSpace(claimString(claims, claimSubject))
	if sub == "" {
		return "", failure.New(failure.Unauthenticated, "token subject missing")
	}
	return sub, nil
}

// GenerateToken creates a signed token whose subject is the user's email.
func GenerateToken(subject, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject: subject,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
