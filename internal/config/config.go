package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultConfigPath             = "config.toml"
	DefaultHTTPAddr               = ":8080"
	DefaultAlgorithm              = "HS256"
	DefaultAccessTokenMinutes     = 30
	DefaultWorkflowTimeoutSeconds = 600
	DefaultPGHost                 = "127.0.0.1"
	DefaultPGPort                 = 5432
	DefaultPGUser                 = "postgres"
	DefaultPGDatabase             = "agentprovision"
	DefaultPGSSLMode              = "disable"
	DefaultTemporalNamespace      = "default"
	DefaultSkillCallTimeout       = 30
	DefaultApprovalWindow         = "24h"
	DefaultMaxOutputBytes         = 1 << 20
	DefaultSkillMaxRetries        = 3
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Admin        AdminConfig        `toml:"admin"`
	Auth         AuthConfig         `toml:"auth"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Vault        VaultConfig        `toml:"vault"`
	MCP          MCPConfig          `toml:"mcp"`
	Workflow     WorkflowConfig     `toml:"workflow"`
	LLM          LLMConfig          `toml:"llm"`
	Skills       SkillsConfig       `toml:"skills"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Instances    InstancesConfig    `toml:"instances"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// RequestsPerMinute is the per-principal inbound budget. Zero disables the limiter.
	RequestsPerMinute int `toml:"requests_per_minute"`
	Burst             int `toml:"burst"`
}

// AdminConfig bootstraps a platform superuser on startup when Email is set.
type AdminConfig struct {
	Email      string `toml:"email"`
	Password   string `toml:"password"`
	TenantName string `toml:"tenant_name"`
}

type AuthConfig struct {
	SecretKey                string `toml:"secret_key"`
	Algorithm                string `toml:"algorithm"`
	AccessTokenExpireMinutes int    `toml:"access_token_expire_minutes"`
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

type PostgresConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns URL when set, otherwise a URL assembled from the discrete fields.
func (c PostgresConfig) DSN() string {
	if strings.TrimSpace(c.URL) != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type VaultConfig struct {
	// MasterKey is 32 bytes encoded as base64 or hex.
	MasterKey string `toml:"master_key"`
}

type MCPConfig struct {
	Enabled   bool   `toml:"enabled"`
	ServerURL string `toml:"server_url"`
	APIKey    string `toml:"api_key"`
}

type WorkflowConfig struct {
	DefaultTimeoutSeconds int    `toml:"default_timeout_seconds"`
	TemporalAddress       string `toml:"temporal_address"`
	TemporalNamespace     string `toml:"temporal_namespace"`
}

func (c WorkflowConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

type LLMConfig struct {
	// DefaultProvider and DefaultModel name the platform default used when
	// neither the agent nor the tenant has an LLM config.
	DefaultProvider    string            `toml:"default_provider"`
	DefaultModel       string            `toml:"default_model"`
	DefaultTemperature float64           `toml:"default_temperature"`
	DefaultMaxTokens   int               `toml:"default_max_tokens"`
	PlatformKeys       map[string]string `toml:"platform_keys"`
}

type SkillsConfig struct {
	CatalogPath        string `toml:"catalog_path"`
	CallTimeoutSeconds int    `toml:"call_timeout_seconds"`
	// MaxRetries counts retries after the first call.
	MaxRetries         int    `toml:"max_retries"`
	BackoffBaseMillis  int    `toml:"backoff_base_ms"`
	BackoffCapMillis   int    `toml:"backoff_cap_ms"`
	BreakerMaxFailures uint32 `toml:"breaker_max_failures"`
	BreakerOpenSeconds int    `toml:"breaker_open_seconds"`
}

func (c SkillsConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

type OrchestratorConfig struct {
	ApprovalWindow string `toml:"approval_window"`
	SweepSchedule  string `toml:"sweep_schedule"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
}

func (c OrchestratorConfig) ApprovalWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.ApprovalWindow)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

type InstancesConfig struct {
	ProbeSchedule       string `toml:"probe_schedule"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	ProbeConcurrency    int    `toml:"probe_concurrency"`
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Exporter string `toml:"exporter"`
}

// envOverlay lists the environment keys recognised on top of the TOML file.
type envOverlay struct {
	SecretKey                string `envconfig:"SECRET_KEY"`
	Algorithm                string `envconfig:"ALGORITHM"`
	AccessTokenExpireMinutes int    `envconfig:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	DatabaseURL              string `envconfig:"DATABASE_URL"`
	VaultMasterKey           string `envconfig:"VAULT_MASTER_KEY"`
	MCPServerURL             string `envconfig:"MCP_SERVER_URL"`
	MCPAPIKey                string `envconfig:"MCP_API_KEY"`
	MCPEnabled               bool   `envconfig:"MCP_ENABLED"`
	WorkflowTimeoutSeconds   int    `envconfig:"DEFAULT_WORKFLOW_TIMEOUT_SECONDS"`
	TemporalAddress          string `envconfig:"TEMPORAL_ADDRESS"`
	TemporalNamespace        string `envconfig:"TEMPORAL_NAMESPACE"`
	HTTPAddr                 string `envconfig:"HTTP_ADDR"`
	LogLevel                 string `envconfig:"LOG_LEVEL"`
	LogFormat                string `envconfig:"LOG_FORMAT"`
}

func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:              DefaultHTTPAddr,
			RequestsPerMinute: 600,
			Burst:             60,
		},
		Admin: AdminConfig{
			TenantName: "Platform",
		},
		Auth: AuthConfig{
			Algorithm:                DefaultAlgorithm,
			AccessTokenExpireMinutes: DefaultAccessTokenMinutes,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Workflow: WorkflowConfig{
			DefaultTimeoutSeconds: DefaultWorkflowTimeoutSeconds,
			TemporalNamespace:     DefaultTemporalNamespace,
		},
		LLM: LLMConfig{
			DefaultProvider:    "anthropic",
			DefaultModel:       "claude-sonnet",
			DefaultTemperature: 0.7,
			DefaultMaxTokens:   4096,
			PlatformKeys:       map[string]string{},
		},
		Skills: SkillsConfig{
			CallTimeoutSeconds: DefaultSkillCallTimeout,
			MaxRetries:         DefaultSkillMaxRetries,
			BackoffBaseMillis:  500,
			BackoffCapMillis:   8000,
			BreakerMaxFailures: 5,
			BreakerOpenSeconds: 30,
		},
		Orchestrator: OrchestratorConfig{
			ApprovalWindow: DefaultApprovalWindow,
			SweepSchedule:  "@every 1m",
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		Instances: InstancesConfig{
			ProbeSchedule:       "@every 30s",
			ProbeTimeoutSeconds: 5,
			ProbeConcurrency:    8,
		},
		Telemetry: TelemetryConfig{
			Exporter: "noop",
		},
	}
}

// Load reads the TOML file at path (missing file is not an error) and then
// applies the environment overlay.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	env := envOverlay{
		SecretKey:                cfg.Auth.SecretKey,
		Algorithm:                cfg.Auth.Algorithm,
		AccessTokenExpireMinutes: cfg.Auth.AccessTokenExpireMinutes,
		DatabaseURL:              cfg.Postgres.URL,
		VaultMasterKey:           cfg.Vault.MasterKey,
		MCPServerURL:             cfg.MCP.ServerURL,
		MCPAPIKey:                cfg.MCP.APIKey,
		MCPEnabled:               cfg.MCP.Enabled,
		WorkflowTimeoutSeconds:   cfg.Workflow.DefaultTimeoutSeconds,
		TemporalAddress:          cfg.Workflow.TemporalAddress,
		TemporalNamespace:        cfg.Workflow.TemporalNamespace,
		HTTPAddr:                 cfg.Server.Addr,
		LogLevel:                 cfg.Log.Level,
		LogFormat:                cfg.Log.Format,
	}
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	cfg.Auth.SecretKey = env.SecretKey
	cfg.Auth.Algorithm = env.Algorithm
	cfg.Auth.AccessTokenExpireMinutes = env.AccessTokenExpireMinutes
	cfg.Postgres.URL = env.DatabaseURL
	cfg.Vault.MasterKey = env.VaultMasterKey
	cfg.MCP.ServerURL = env.MCPServerURL
	cfg.MCP.APIKey = env.MCPAPIKey
	cfg.MCP.Enabled = env.MCPEnabled
	cfg.Workflow.DefaultTimeoutSeconds = env.WorkflowTimeoutSeconds
	cfg.Workflow.TemporalAddress = env.TemporalAddress
	cfg.Workflow.TemporalNamespace = env.TemporalNamespace
	cfg.Server.Addr = env.HTTPAddr
	cfg.Log.Level = env.LogLevel
	cfg.Log.Format = env.LogFormat
	return nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if c.Auth.Algorithm != "HS256" {
		errs = append(errs, fmt.Errorf("unsupported token algorithm %q", c.Auth.Algorithm))
	}
	if c.Auth.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if _, err := c.Vault.Key(); err != nil {
		errs = append(errs, err)
	}
	if c.MCP.Enabled && strings.TrimSpace(c.MCP.APIKey) == "" {
		errs = append(errs, errors.New("MCP_API_KEY is required when MCP_ENABLED is set"))
	}
	return errors.Join(errs...)
}

// Key decodes the master key. Both base64 (std or url) and hex are accepted.
func (c VaultConfig) Key() ([]byte, error) {
	raw := strings.TrimSpace(c.MasterKey)
	if raw == "" {
		return nil, errors.New("VAULT_MASTER_KEY is required")
	}
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if key, err := decode(raw); err == nil && len(key) == 32 {
			return key, nil
		}
	}
	return nil, errors.New("VAULT_MASTER_KEY must decode to 32 bytes")
}
