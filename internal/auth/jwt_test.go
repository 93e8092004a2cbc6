package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

const testSecret = "test-secret"

type fakeUsers map[string]store.User

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := f[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func newTestEcho(users fakeUsers) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		kind := failure.KindOf(err)
		_ = c.JSON(failure.HTTPStatus(kind), map[string]string{"kind": string(kind)})
	}
	r := NewResolver(logger.Discard(), users)
	e.Use(JWTMiddleware(testSecret, "HS256", nil), r.Middleware(nil))
	e.GET("/me", func(c echo.Context) error {
		p, err := FromEcho(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"tenant_id": p.TenantID.String()})
	})
	return e
}

func do(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func kindOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["kind"]
}

func TestGenerateTokenClaims(t *testing.T) {
	signed, expiresAt, err := GenerateToken("a@x.com", testSecret, 30*time.Minute)
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "a@x.com", claims["sub"])
	assert.Equal(t, expiresAt.Unix(), int64(claims["exp"].(float64)))
	assert.Equal(t, jwt.SigningMethodHS256.Alg(), token.Method.Alg())
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	_, _, err := GenerateToken("", testSecret, time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("a@x.com", "", time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("a@x.com", testSecret, 0)
	assert.Error(t, err)
}

func TestResolverAttachesTenantFromUserRow(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEcho(fakeUsers{"a@x.com": {ID: uuid.New(), TenantID: tenantID, Email: "a@x.com", IsActive: true}})
	token, _, err := GenerateToken("a@x.com", testSecret, time.Minute)
	require.NoError(t, err)

	rec := do(e, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, tenantID.String(), body["tenant_id"])
}

func TestResolverRejections(t *testing.T) {
	users := fakeUsers{"off@x.com": {ID: uuid.New(), TenantID: uuid.New(), Email: "off@x.com", IsActive: false}}
	e := newTestEcho(users)

	expired, _, err := GenerateToken("a@x.com", testSecret, time.Minute)
	require.NoError(t, err)
	parsed, _ := jwt.Parse(expired, func(*jwt.Token) (any, error) { return []byte(testSecret), nil })
	claims := parsed.Claims.(jwt.MapClaims)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	expired, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	inactive, _, err := GenerateToken("off@x.com", testSecret, time.Minute)
	require.NoError(t, err)
	unknown, _, err := GenerateToken("ghost@x.com", testSecret, time.Minute)
	require.NoError(t, err)
	forged, _, err := GenerateToken("off@x.com", "other-secret", time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "off@x.com"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "off@x.com", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		kind  failure.Kind
	}{
		{"missing", "", failure.Unauthenticated},
		{"malformed", "not-a-jwt", failure.Unauthenticated},
		{"expired", expired, failure.Unauthenticated},
		{"wrong secret", forged, failure.Unauthenticated},
		{"no expiry", noExpiry, failure.Unauthenticated},
		{"other algorithm", wrongAlg, failure.Unauthenticated},
		{"unknown subject", unknown, failure.Unauthenticated},
		{"inactive", inactive, failure.InactiveUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, tc.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, string(tc.kind), kindOf(t, rec))
		})
	}
}

func TestRequireSuperuser(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := RequireSuperuser(c)
	assert.True(t, failure.IsKind(err, failure.Unauthenticated))

	ctx := WithPrincipal(context.Background(), Principal{User: store.User{IsSuperuser: false}})
	c.SetRequest(c.Request().WithContext(ctx))
	_, err = RequireSuperuser(c)
	assert.True(t, failure.IsKind(err, failure.Forbidden))
}
