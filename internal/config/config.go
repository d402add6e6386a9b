package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

// ModelTier represents the model capability level
type ModelTier string

const (
	TierFast    ModelTier = "fast"    // Triage, summaries, simple answers
	TierDefault ModelTier = "default" // Tool-use loop
	TierComplex ModelTier = "complex" // Reserved for heavy requests
)

// AuthMethod selects how provider credentials are presented
type AuthMethod string

const (
	AuthAPIKey AuthMethod = "api_key"
	AuthOAuth  AuthMethod = "oauth"
)

// ProviderConfig holds model selection for the LLM provider
type ProviderConfig struct {
	DefaultModel string     `yaml:"default_model"`
	FastModel    string     `yaml:"fast_model"`
	ComplexModel string     `yaml:"complex_model"`
	MaxTokens    int        `yaml:"max_tokens"`
	AuthMethod   AuthMethod `yaml:"auth_method"`
	BaseURL      string     `yaml:"base_url,omitempty"`
}

// AgentConfig bounds a single run of the tool-use loop
type AgentConfig struct {
	MaxRounds          int               `yaml:"max_rounds"`           // Tool-use rounds before a forced final answer
	TokenBudget        int               `yaml:"token_budget"`         // input+output tokens per run
	ToolResultLimit    int               `yaml:"tool_result_limit"`    // Characters kept from each tool result
	ToolTimeout        time.Duration     `yaml:"tool_timeout"`         // Per tool call
	HistoryLimit       int               `yaml:"history_limit"`        // Persisted turns loaded per run
	SimpleHistoryLimit int               `yaml:"simple_history_limit"` // Turns loaded on the fast path
	DefaultPhase       permissions.Phase `yaml:"default_phase"`
}

// ContextConfig holds context window configuration
type ContextConfig struct {
	MaxTokens       int `yaml:"max_tokens"`       // Estimated tokens allowed in the window
	CharsPerToken   int `yaml:"chars_per_token"`  // Estimator divisor
	MessageOverhead int `yaml:"message_overhead"` // Estimated tokens added per message
}

// SummarizerConfig controls history compression
type SummarizerConfig struct {
	Enabled       bool `yaml:"enabled"`
	Threshold     int  `yaml:"threshold"`       // Summarize when more turns than this
	KeepRecent    int  `yaml:"keep_recent"`     // Newest turns kept verbatim
	MaxTokens     int  `yaml:"max_tokens"`      // Summary length cap
	ClipChars     int  `yaml:"clip_chars"`      // Per-message clip in the summarizer input
	ToolClipChars int  `yaml:"tool_clip_chars"` // Per-tool-result clip in the summarizer input
}

// ClassifierConfig controls request triage
type ClassifierConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxTokens int  `yaml:"max_tokens"`
}

// RetryConfig holds provider retry and rate limiting configuration
type RetryConfig struct {
	RateLimitRetries   int           `yaml:"rate_limit_retries"`
	RateLimitBase      time.Duration `yaml:"rate_limit_base"`
	OverloadRetries    int           `yaml:"overload_retries"`
	OverloadBase       time.Duration `yaml:"overload_base"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	TokensPerMinute    int           `yaml:"tokens_per_minute"`
	EnableRateLimiting bool          `yaml:"enable_rate_limiting"`
}

// StorageConfig selects the persistence backend for turns, tool calls and costs
type StorageConfig struct {
	Driver          string        `yaml:"driver"`     // memory | mysql
	DSNSecret       string        `yaml:"dsn_secret"` // Secret key holding the MySQL DSN
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ApprovalConfig selects the approval store and notifier
type ApprovalConfig struct {
	Store          string `yaml:"store"` // memory | mysql | redis
	RedisAddr      string `yaml:"redis_addr"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPassword  string `yaml:"redis_password_secret"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
	Notifier       string `yaml:"notifier"` // log | amqp
	AMQPURLSecret  string `yaml:"amqp_url_secret"`
	AMQPQueue      string `yaml:"amqp_queue"`
}

// SecretsConfig locates the file-backed secrets store
type SecretsConfig struct {
	Dir string `yaml:"dir"`
}

// InstanceConfig describes one tool-server instance. Fields ending in Secret
// name keys resolved through the secrets provider, never literal values.
type InstanceConfig struct {
	Type           string   `yaml:"type"`
	CredentialsDir string   `yaml:"credentials_dir,omitempty"`
	AccountID      string   `yaml:"account_id,omitempty"`
	ServerDir      string   `yaml:"server_dir,omitempty"`
	SiteName       string   `yaml:"site_name,omitempty"`
	UserEmail      string   `yaml:"user_email,omitempty"`
	APITokenSecret string   `yaml:"api_token_secret,omitempty"`
	APIIDSecret    string   `yaml:"api_id_secret,omitempty"`
	APIHashSecret  string   `yaml:"api_hash_secret,omitempty"`
	SessionSecret  string   `yaml:"session_secret,omitempty"`
	TokenSecret    string   `yaml:"token_secret,omitempty"`
	Command        string   `yaml:"command,omitempty"` // Overrides the type's launcher
	Args           []string `yaml:"args,omitempty"`
}

// ProjectConfig holds per-project settings
type ProjectConfig struct {
	DisplayName      string                `yaml:"display_name"`
	Phase            permissions.Phase     `yaml:"phase"`
	SystemPromptFile string                `yaml:"system_prompt_file"`
	ToolServers      []string              `yaml:"tool_servers"`
	ToolPolicy       permissions.PolicySet `yaml:"tool_policy"`
}

// Config holds the application configuration
type Config struct {
	Provider    ProviderConfig            `yaml:"provider"`
	Agent       AgentConfig               `yaml:"agent"`
	Context     ContextConfig             `yaml:"context"`
	Summarizer  SummarizerConfig          `yaml:"summarizer"`
	Classifier  ClassifierConfig          `yaml:"classifier"`
	Retry       RetryConfig               `yaml:"retry"`
	Storage     StorageConfig             `yaml:"storage"`
	Approvals   ApprovalConfig            `yaml:"approvals"`
	Secrets     SecretsConfig             `yaml:"secrets"`
	ToolServers map[string]InstanceConfig `yaml:"tool_servers"`
	Projects    map[string]ProjectConfig  `yaml:"projects"`

	// Credentials come from the environment only
	APIKey       string `yaml:"-"`
	AuthToken    string `yaml:"-"`
	RefreshToken string `yaml:"-"`

	// Internal: where config was loaded from
	configPath string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			DefaultModel: "claude-sonnet-4-6",
			FastModel:    "claude-haiku-4-5",
			ComplexModel: "claude-opus-4-6",
			MaxTokens:    2048,
			AuthMethod:   AuthAPIKey,
		},
		Agent: AgentConfig{
			MaxRounds:          15,
			TokenBudget:        50000,
			ToolResultLimit:    2000,
			ToolTimeout:        60 * time.Second,
			HistoryLimit:       40,
			SimpleHistoryLimit: 6,
			DefaultPhase:       permissions.PhaseReadOnly,
		},
		Context: ContextConfig{
			MaxTokens:       150000,
			CharsPerToken:   3,
			MessageOverhead: 10,
		},
		Summarizer: SummarizerConfig{
			Enabled:       true,
			Threshold:     20,
			KeepRecent:    10,
			MaxTokens:     500,
			ClipChars:     500,
			ToolClipChars: 200,
		},
		Classifier: ClassifierConfig{
			Enabled:   true,
			MaxTokens: 100,
		},
		Retry: RetryConfig{
			RateLimitRetries:   3,
			RateLimitBase:      15 * time.Second,
			OverloadRetries:    3,
			OverloadBase:       10 * time.Second,
			MaxDelay:           2 * time.Minute,
			TokensPerMinute:    30000,
			EnableRateLimiting: false,
		},
		Storage: StorageConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Approvals: ApprovalConfig{
			Store:          "memory",
			RedisKeyPrefix: "agentd:approval:",
			Notifier:       "log",
			AMQPQueue:      "agentd.approvals",
		},
		Secrets: SecretsConfig{
			Dir: defaultSecretsDir(),
		},
		ToolServers: map[string]InstanceConfig{},
		Projects:    map[string]ProjectConfig{},
	}
}

func defaultSecretsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "agentd", "secrets")
	}
	return filepath.Join(".agentd", "secrets")
}

// Load loads configuration from path (or the first file found in the search
// paths when path is empty) and credentials from the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	candidates := getConfigPaths()
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			if path != "" {
				return nil, agenterr.ConfigLoadFailed(p, err)
			}
			continue
		}
		if err := cfg.loadFromFile(p); err != nil {
			return nil, agenterr.ConfigLoadFailed(p, err)
		}
		cfg.configPath = p
		break
	}

	cfg.loadCredentialsFromEnv()
	if cfg.APIKey == "" && cfg.AuthToken == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN environment variable is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getConfigPaths returns config file paths in priority order
func getConfigPaths() []string {
	paths := []string{
		"agentd.yaml",
		".agentd/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentd", "config.yaml"))
	}
	return paths
}

// loadFromFile loads config from a YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadCredentialsFromEnv() {
	c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	c.AuthToken = os.Getenv("ANTHROPIC_AUTH_TOKEN")
	c.RefreshToken = os.Getenv("ANTHROPIC_REFRESH_TOKEN")
	if c.AuthToken != "" && c.APIKey == "" {
		c.Provider.AuthMethod = AuthOAuth
	}
}

// Validate checks cross references and phase policies.
func (c *Config) Validate() error {
	if _, err := permissions.ParsePhase(string(c.Agent.DefaultPhase)); err != nil {
		return fmt.Errorf("agent.default_phase: %w", err)
	}
	if sum := c.Summarizer; sum.Enabled {
		// A run that never loads more than the threshold never summarizes.
		if c.Agent.HistoryLimit <= sum.Threshold {
			return fmt.Errorf("agent.history_limit (%d) must exceed summarizer.threshold (%d)",
				c.Agent.HistoryLimit, sum.Threshold)
		}
		if sum.KeepRecent >= sum.Threshold {
			return fmt.Errorf("summarizer.keep_recent (%d) must be below summarizer.threshold (%d)",
				sum.KeepRecent, sum.Threshold)
		}
	}
	for id, inst := range c.ToolServers {
		if inst.Type == "" {
			return fmt.Errorf("tool server %q: type is required", id)
		}
	}
	for _, id := range c.ProjectIDs() {
		p := c.Projects[id]
		if p.Phase != "" {
			if _, err := permissions.ParsePhase(string(p.Phase)); err != nil {
				return fmt.Errorf("project %q: %w", id, err)
			}
		}
		for _, inst := range p.ToolServers {
			if _, ok := c.ToolServers[inst]; !ok {
				return fmt.Errorf("project %q references unknown tool server %q", id, inst)
			}
		}
		if err := p.ToolPolicy.Validate(); err != nil {
			return fmt.Errorf("project %q: %w", id, err)
		}
	}
	return nil
}

// Project returns a project's settings with the phase defaulted.
func (c *Config) Project(id string) (ProjectConfig, error) {
	p, ok := c.Projects[id]
	if !ok {
		return ProjectConfig{}, agenterr.ProjectNotFound(id)
	}
	if p.Phase == "" {
		p.Phase = c.Agent.DefaultPhase
	}
	if p.DisplayName == "" {
		p.DisplayName = id
	}
	return p, nil
}

// ProjectIDs returns configured project ids in sorted order.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetModel returns the model ID for a tier
func (c *Config) GetModel(tier ModelTier) string {
	switch tier {
	case TierFast:
		return c.Provider.FastModel
	case TierComplex:
		return c.Provider.ComplexModel
	default:
		return c.Provider.DefaultModel
	}
}

// ResolvePath resolves p relative to the directory of the loaded config file.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.configPath), p)
}

// ConfigPath returns where the config was loaded from
func (c *Config) ConfigPath() string {
	return c.configPath
}
