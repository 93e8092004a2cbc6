// Package vault stores per-tenant skill credentials as authenticated
// ciphertext. Plaintext leaves the package only through Fetch and Get.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
)

type PutRequest struct {
	SkillConfigID  uuid.UUID  `json:"skill_config_id" validate:"required"`
	CredentialKey  string     `json:"credential_key" validate:"required"`
	Value          string     `json:"value" validate:"required"`
	CredentialType string     `json:"credential_type,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type RotateRequest struct {
	Value     string     `json:"value" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Vault encrypts credentials at rest and enforces tenant ownership on every read.
type Vault struct {
	store  store.Store
	cipher *Cipher
	now    func() time.Time
	logger *slog.Logger
}

func New(log *slog.Logger, st store.Store, cfg config.Config) (*Vault, error) {
	key, err := cfg.Vault.Key()
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{
		store:  st,
		cipher: c,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With(slog.String("service", "vault")),
	}, nil
}

func credentialAAD(tenantID, skillConfigID uuid.UUID, key string) []byte {
	return []byte("cred|" + tenantID.String() + "|" + skillConfigID.String() + "|" + key)
}

// Put stores a new credential and revokes any earlier credential under the
// same key.
func (v *Vault) Put(ctx context.Context, tenantID uuid.UUID, req PutRequest) (store.SkillCredential, error) {
	key := strings.TrimSpace(req.CredentialKey)
	if key == "" || req.Value == "" {
		return store.SkillCredential{}, failure.New(failure.Validation, "credential_key and value are required")
	}
	if err := v.ownSkillConfig(ctx, tenantID, req.SkillConfigID); err != nil {
		return store.SkillCredential{}, err
	}
	credType := req.CredentialType
	if credType == "" {
		credType = "api_key"
	}
	sealed, err := v.cipher.Seal(tenantID, []byte(req.Value), credentialAAD(tenantID, req.SkillConfigID, key))
	if err != nil {
		return store.SkillCredential{}, failure.Wrap(failure.Internal, err, "encrypt credential")
	}
	var out store.SkillCredential
	err = v.store.InTx(ctx, func(tx store.Store) error {
		existing, err := tx.ListCredentials(ctx, tenantID, req.SkillConfigID)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.CredentialKey == key && c.Status != store.CredentialRevoked {
				if err := tx.SetCredentialStatus(ctx, c.ID, store.CredentialRevoked); err != nil {
					return err
				}
			}
		}
		out, err = tx.CreateCredential(ctx, store.SkillCredential{
			TenantID:       tenantID,
			SkillConfigID:  req.SkillConfigID,
			CredentialKey:  key,
			EncryptedValue: sealed,
			CredentialType: credType,
			Status:         store.CredentialActive,
			ExpiresAt:      req.ExpiresAt,
		})
		return err
	})
	if err != nil {
		return store.SkillCredential{}, failure.Wrap(failure.Internal, err, "store credential")
	}
	v.logger.Info("credential stored",
		slog.String("tenant_id", tenantID.String()),
		slog.String("skill_config_id", req.SkillConfigID.String()),
		slog.String("credential_key", key))
	return out, nil
}

// Get returns the plaintext for key, or "" when there is no usable
// credential (missing, revoked or expired).
func (v *Vault) Get(ctx context.Context, tenantID, skillConfigID uuid.UUID, key string) (string, error) {
	value, err := v.Fetch(ctx, tenantID, skillConfigID, key)
	if failure.IsKind(err, failure.CredentialMissing) || failure.IsKind(err, failure.CredentialExpired) {
		return "", nil
	}
	return value, err
}

// Fetch is Get with the reason for an absent credential reported as
// credential_missing or credential_expired.
func (v *Vault) Fetch(ctx context.Context, tenantID, skillConfigID uuid.UUID, key string) (string, error) {
	if err := v.ownSkillConfig(ctx, tenantID, skillConfigID); err != nil {
		return "", err
	}
	cred, err := v.store.GetLatestCredential(ctx, tenantID, skillConfigID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", failure.New(failure.CredentialMissing, "credential %q is not configured", key).
				WithDetails(map[string]any{"credential_key": key})
		}
		return "", failure.Wrap(failure.Internal, err, "load credential")
	}
	if cred.TenantID != tenantID {
		return "", failure.New(failure.Forbidden, "credential belongs to another tenant")
	}
	now := v.now()
	if cred.Status == store.CredentialExpired || (cred.ExpiresAt != nil && now.After(*cred.ExpiresAt)) {
		return "", failure.New(failure.CredentialExpired, "credential %q has expired", key).
			WithDetails(map[string]any{"credential_key": key})
	}
	pt, err := v.cipher.Open(cred.TenantID, cred.EncryptedValue, credentialAAD(cred.TenantID, cred.SkillConfigID, cred.CredentialKey))
	if err != nil {
		return "", failure.Wrap(failure.Internal, err, "decrypt credential")
	}
	if err := v.store.TouchCredential(ctx, cred.ID, now); err != nil {
		v.logger.Warn("touch credential failed", slog.String("credential_id", cred.ID.String()), slog.Any("error", err))
	}
	return string(pt), nil
}

// Rotate replaces credential id with a new value under the same key and
// revokes the old row.
func (v *Vault) Rotate(ctx context.Context, tenantID, id uuid.UUID, req RotateRequest) (store.SkillCredential, error) {
	old, err := v.owned(ctx, tenantID, id)
	if err != nil {
		return store.SkillCredential{}, err
	}
	if old.Status == store.CredentialRevoked {
		return store.SkillCredential{}, failure.New(failure.Conflict, "credential is revoked")
	}
	return v.Put(ctx, tenantID, PutRequest{
		SkillConfigID:  old.SkillConfigID,
		CredentialKey:  old.CredentialKey,
		Value:          req.Value,
		CredentialType: old.CredentialType,
		ExpiresAt:      req.ExpiresAt,
	})
}

func (v *Vault) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	if _, err := v.owned(ctx, tenantID, id); err != nil {
		return err
	}
	if err := v.store.SetCredentialStatus(ctx, id, store.CredentialRevoked); err != nil {
		return failure.Wrap(failure.Internal, err, "revoke credential")
	}
	return nil
}

// List returns credential metadata. EncryptedValue never serialises.
func (v *Vault) List(ctx context.Context, tenantID, skillConfigID uuid.UUID) ([]store.SkillCredential, error) {
	if err := v.ownSkillConfig(ctx, tenantID, skillConfigID); err != nil {
		return nil, err
	}
	creds, err := v.store.ListCredentials(ctx, tenantID, skillConfigID)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "list credentials")
	}
	return creds, nil
}

// SealAPIKey encrypts a tenant LLM API key.
func (v *Vault) SealAPIKey(tenantID uuid.UUID, plaintext string) (string, error) {
	sealed, err := v.cipher.Seal(tenantID, []byte(plaintext), []byte("llm|"+tenantID.String()))
	if err != nil {
		return "", failure.Wrap(failure.Internal, err, "encrypt api key")
	}
	return sealed, nil
}

// OpenAPIKey decrypts a value produced by SealAPIKey for the same tenant.
func (v *Vault) OpenAPIKey(tenantID uuid.UUID, sealed string) (string, error) {
	pt, err := v.cipher.Open(tenantID, sealed, []byte("llm|"+tenantID.String()))
	if err != nil {
		return "", failure.Wrap(failure.Internal, err, "decrypt api key")
	}
	return string(pt), nil
}

func (v *Vault) owned(ctx context.Context, tenantID, id uuid.UUID) (store.SkillCredential, error) {
	cred, err := v.store.LookupCredential(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.SkillCredential{}, failure.New(failure.NotFound, "credential not found")
		}
		return store.SkillCredential{}, failure.Wrap(failure.Internal, err, "load credential")
	}
	if cred.TenantID != tenantID {
		return store.SkillCredential{}, failure.New(failure.Forbidden, "credential belongs to another tenant")
	}
	return cred, nil
}

func (v *Vault) ownSkillConfig(ctx context.Context, tenantID, skillConfigID uuid.UUID) error {
	cfg, err := v.store.LookupSkillConfig(ctx, skillConfigID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure.New(failure.NotFound, "skill config not found")
		}
		return failure.Wrap(failure.Internal, err, "load skill config")
	}
	if cfg.TenantID != tenantID {
		return failure.New(failure.Forbidden, "skill config belongs to another tenant")
	}
	return nil
}
