// Package config loads the single immutable Config used to wire every
// other package together at process start, mirroring the environment-first
// loading style of registry/cmd/registry/main.go (envOr/envIntOr/
// envDurationOr) generalized to the rest of the control plane's settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/choreoflow/choreoctl/modelselect"
)

// Config is loaded once at process start and never mutated afterward; every
// component that needs a setting is handed the already-resolved value (or a
// narrower options struct derived from it) rather than reading Config
// itself, matching the teacher's registry.Config/pulse.Options pattern.
type Config struct {
	// Document store (docstore.RedisStore).
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Optional durable audit archive (auditstore/mongo).
	AuditArchiveEnabled bool   `yaml:"audit_archive_enabled"`
	MongoURI            string `yaml:"mongo_uri"`
	MongoDatabase       string `yaml:"mongo_database"`

	// Agent-runtime HTTP transport (agentruntime.HTTPClientConfig).
	AgentRuntimeBaseURL           string        `yaml:"agent_runtime_base_url"`
	AgentRuntimeRequestsPerSecond float64       `yaml:"agent_runtime_requests_per_second"`
	AgentRuntimeBurst             int           `yaml:"agent_runtime_burst"`
	AgentRuntimeTimeout           time.Duration `yaml:"agent_runtime_timeout"`

	// Tool-surface transport allowlists (spec §6.1).
	ListenAddr                   string   `yaml:"listen_addr"`
	EnableDNSRebindingProtection bool     `yaml:"enable_dns_rebinding_protection"`
	AllowedHosts                 []string `yaml:"allowed_hosts"`
	AllowedOrigins                []string `yaml:"allowed_origins"`

	// Workflow/skill source directories (validator, bootstrap).
	SchemaDir   string `yaml:"schema_dir"`
	WorkflowDir string `yaml:"workflow_dir"`
	SkillsDir   string `yaml:"skills_dir"`

	// Control-plane defaults.
	DefaultLeaseTTL time.Duration `yaml:"default_lease_ttl"`

	// modelselect defaults; ModelIDsByTier/PricingByTier default to
	// modelselect.DefaultModelIDs()/DefaultPricing() and are only
	// overridable via the YAML file (there is no sane flat env-var shape
	// for a per-tier table).
	DefaultCompanionModel string                        `yaml:"default_companion_model"`
	ModelIDsByTier        map[int]string                `yaml:"model_ids_by_tier"`
	PricingByTier         map[int]modelselect.Pricing    `yaml:"pricing_by_tier"`

	// Tier3UsesBedrock routes the top model tier through AWS Bedrock
	// instead of a direct Anthropic API client, for deployments that only
	// have Bedrock model access provisioned.
	Tier3UsesBedrock bool   `yaml:"tier3_uses_bedrock"`
	BedrockRegion    string `yaml:"bedrock_region"`
}

// Default returns the zero-config baseline, the same defaults
// registry/cmd/registry/main.go falls back to for Redis, generalized to the
// rest of the surface.
func Default() Config {
	return Config{
		RedisURL:                      "localhost:6379",
		RedisDB:                       0,
		AgentRuntimeBaseURL:           "http://localhost:8283",
		AgentRuntimeRequestsPerSecond: 10,
		AgentRuntimeBurst:             10,
		AgentRuntimeTimeout:           30 * time.Second,
		ListenAddr:                    ":8443",
		EnableDNSRebindingProtection:  true,
		AllowedHosts:                  []string{"localhost", "127.0.0.1"},
		AllowedOrigins:                []string{},
		SchemaDir:                     "schemas",
		WorkflowDir:                   "workflows",
		SkillsDir:                     "skills",
		DefaultLeaseTTL:               300 * time.Second,
		DefaultCompanionModel:         "openai/gpt-4o-mini",
		ModelIDsByTier:                modelselect.DefaultModelIDs(),
		PricingByTier:                 modelselect.DefaultPricing(),
		BedrockRegion:                 "us-east-1",
	}
}

// Load builds a Config from, in increasing precedence: the built-in
// defaults, an optional YAML file at yamlPath (skipped silently if
// yamlPath is empty; any other read/parse error is returned), then
// environment variables. Environment variables always override file
// values, matching the ordering SPEC_FULL.md's Configuration section
// describes.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
	}

	cfg.RedisURL = envOr("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envIntOr("REDIS_DB", cfg.RedisDB)

	cfg.AuditArchiveEnabled = envBoolOr("AUDIT_ARCHIVE_ENABLED", cfg.AuditArchiveEnabled)
	cfg.MongoURI = envOr("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = envOr("MONGO_DATABASE", cfg.MongoDatabase)

	cfg.AgentRuntimeBaseURL = envOr("AGENT_RUNTIME_BASE_URL", cfg.AgentRuntimeBaseURL)
	cfg.AgentRuntimeRequestsPerSecond = envFloatOr("AGENT_RUNTIME_REQUESTS_PER_SECOND", cfg.AgentRuntimeRequestsPerSecond)
	cfg.AgentRuntimeBurst = envIntOr("AGENT_RUNTIME_BURST", cfg.AgentRuntimeBurst)
	cfg.AgentRuntimeTimeout = envDurationOr("AGENT_RUNTIME_TIMEOUT", cfg.AgentRuntimeTimeout)

	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.EnableDNSRebindingProtection = envBoolOr("ENABLE_DNS_REBINDING_PROTECTION", cfg.EnableDNSRebindingProtection)
	cfg.AllowedHosts = envStringSliceOr("ALLOWED_HOSTS", cfg.AllowedHosts)
	cfg.AllowedOrigins = envStringSliceOr("ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.SchemaDir = envOr("SCHEMA_DIR", cfg.SchemaDir)
	cfg.WorkflowDir = envOr("WORKFLOW_DIR", cfg.WorkflowDir)
	cfg.SkillsDir = envOr("SKILLS_DIR", cfg.SkillsDir)

	cfg.DefaultLeaseTTL = envDurationOr("DEFAULT_LEASE_TTL", cfg.DefaultLeaseTTL)
	cfg.DefaultCompanionModel = envOr("DEFAULT_COMPANION_MODEL", cfg.DefaultCompanionModel)

	cfg.Tier3UsesBedrock = envBoolOr("TIER3_USES_BEDROCK", cfg.Tier3UsesBedrock)
	cfg.BedrockRegion = envOr("BEDROCK_REGION", cfg.BedrockRegion)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("config: redis_url must not be empty")
	}
	if c.AgentRuntimeBaseURL == "" {
		return fmt.Errorf("config: agent_runtime_base_url must not be empty")
	}
	if c.EnableDNSRebindingProtection && len(c.AllowedHosts) == 0 {
		return fmt.Errorf("config: allowed_hosts must not be empty when DNS-rebinding protection is enabled")
	}
	return nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// envStringSliceOr parses a comma-separated env var into a slice, trimming
// whitespace around each element; empty elements are dropped.
func envStringSliceOr(key string, defaultVal []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
