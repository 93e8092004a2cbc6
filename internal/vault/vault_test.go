package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

func newTestVault(t *testing.T) (*Vault, *memory.Store) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Vault.MasterKey = base64.StdEncoding.EncodeToString(key)
	st := memory.New()
	v, err := New(logger.Discard(), st, cfg)
	require.NoError(t, err)
	return v, st
}

func seedSkillConfig(t *testing.T, st *memory.Store, slug string) store.SkillConfig {
	t.Helper()
	ctx := context.Background()
	tenant, err := st.CreateTenant(ctx, store.Tenant{Name: slug, Slug: slug})
	require.NoError(t, err)
	cfg, err := st.CreateSkillConfig(ctx, store.SkillConfig{TenantID: tenant.ID, SkillName: "slack", Enabled: true, CredentialKeys: []string{"token"}})
	require.NoError(t, err)
	return cfg
}

func TestCipherRoundTripAndBinding(t *testing.T) {
	c, err := NewCipher(make([]byte, 32))
	require.NoError(t, err)
	tenant := uuid.New()

	sealed, err := c.Seal(tenant, []byte("s3cret"), []byte("aad-1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealPrefix))
	assert.NotContains(t, sealed, "s3cret")

	pt, err := c.Open(tenant, sealed, []byte("aad-1"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pt))

	_, err = c.Open(tenant, sealed, []byte("aad-2"))
	assert.Error(t, err)
	_, err = c.Open(tenant, "garbage", nil)
	assert.ErrorIs(t, err, errMalformed)

	again, err := c.Seal(tenant, []byte("s3cret"), []byte("aad-1"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")
}

func TestCipherSubkeyPerTenant(t *testing.T) {
	c, err := NewCipher(make([]byte, 32))
	require.NoError(t, err)
	t1, t2 := uuid.New(), uuid.New()

	// Same aad on both sides: only the tenant subkey tells them apart.
	sealed, err := c.Seal(t1, []byte("s3cret"), []byte("shared"))
	require.NoError(t, err)
	_, err = c.Open(t2, sealed, []byte("shared"))
	assert.Error(t, err)

	k1, err := c.aead(t1)
	require.NoError(t, err)
	k2, err := c.aead(t2)
	require.NoError(t, err)
	again, err := c.aead(t1)
	require.NoError(t, err)
	assert.NotSame(t, k1, k2)
	assert.Same(t, k1, again, "subkeys are derived once per tenant")

	// A fresh cipher over the same master derives the same subkey.
	other, err := NewCipher(make([]byte, 32))
	require.NoError(t, err)
	pt, err := other.Open(t1, sealed, []byte("shared"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pt))
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestPutGetStoresCiphertextOnly(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	sc := seedSkillConfig(t, st, "t1")

	cred, err := v.Put(ctx, sc.TenantID, PutRequest{SkillConfigID: sc.ID, CredentialKey: "token", Value: "xoxb-123"})
	require.NoError(t, err)
	assert.Equal(t, store.CredentialActive, cred.Status)
	assert.NotContains(t, cred.EncryptedValue, "xoxb-123")

	got, err := v.Get(ctx, sc.TenantID, sc.ID, "token")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-123", got)

	stored, err := st.LookupCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestCrossTenantAccessIsForbidden(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	a := seedSkillConfig(t, st, "a")
	b := seedSkillConfig(t, st, "b")

	cred, err := v.Put(ctx, a.TenantID, PutRequest{SkillConfigID: a.ID, CredentialKey: "token", Value: "v"})
	require.NoError(t, err)

	_, err = v.Get(ctx, b.TenantID, a.ID, "token")
	assert.True(t, failure.IsKind(err, failure.Forbidden))
	err = v.Revoke(ctx, b.TenantID, cred.ID)
	assert.True(t, failure.IsKind(err, failure.Forbidden))
	_, err = v.Put(ctx, b.TenantID, PutRequest{SkillConfigID: a.ID, CredentialKey: "token", Value: "x"})
	assert.True(t, failure.IsKind(err, failure.Forbidden))
}

func TestExpiredAndMissingCredentials(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	sc := seedSkillConfig(t, st, "t1")
	past := time.Now().Add(-time.Minute)

	_, err := v.Put(ctx, sc.TenantID, PutRequest{SkillConfigID: sc.ID, CredentialKey: "token", Value: "v", ExpiresAt: &past})
	require.NoError(t, err)

	got, err := v.Get(ctx, sc.TenantID, sc.ID, "token")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = v.Fetch(ctx, sc.TenantID, sc.ID, "token")
	assert.True(t, failure.IsKind(err, failure.CredentialExpired))
	_, err = v.Fetch(ctx, sc.TenantID, sc.ID, "other")
	assert.True(t, failure.IsKind(err, failure.CredentialMissing))
}

func TestRotateRevokesOldRow(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	sc := seedSkillConfig(t, st, "t1")

	first, err := v.Put(ctx, sc.TenantID, PutRequest{SkillConfigID: sc.ID, CredentialKey: "token", Value: "old"})
	require.NoError(t, err)
	second, err := v.Rotate(ctx, sc.TenantID, first.ID, RotateRequest{Value: "new"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := st.LookupCredential(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CredentialRevoked, old.Status)

	got, err := v.Get(ctx, sc.TenantID, sc.ID, "token")
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	_, err = v.Rotate(ctx, sc.TenantID, first.ID, RotateRequest{Value: "again"})
	assert.True(t, failure.IsKind(err, failure.Conflict))

	require.NoError(t, v.Revoke(ctx, sc.TenantID, second.ID))
	_, err = v.Fetch(ctx, sc.TenantID, sc.ID, "token")
	assert.True(t, failure.IsKind(err, failure.CredentialMissing))
}

func TestAPIKeySealIsTenantBound(t *testing.T) {
	v, _ := newTestVault(t)
	t1, t2 := uuid.New(), uuid.New()
	sealed, err := v.SealAPIKey(t1, "sk-live")
	require.NoError(t, err)
	got, err := v.OpenAPIKey(t1, sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live", got)
	_, err = v.OpenAPIKey(t2, sealed)
	assert.Error(t, err)
}
