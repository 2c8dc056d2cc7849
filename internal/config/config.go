// Package config loads the service's YAML configuration file with viper,
// at environment > file > defaults precedence, into the
// server/neo4j/retention/query/hooks/task/llm/embeddings tree the service
// is configured by.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimit mirrors one llm.rate_limit or embeddings.rate_limit block.
type RateLimit struct {
	RPM int `mapstructure:"rpm"`
	TPM int `mapstructure:"tpm"`
}

// Concurrency mirrors one llm.concurrency or embeddings.concurrency block.
type Concurrency struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// Retry mirrors one llm.retry or embeddings.retry block.
type Retry struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffS   float64 `mapstructure:"initial_backoff_s"`
	MaxBackoffS       float64 `mapstructure:"max_backoff_s"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

func (r Retry) initialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffS * float64(time.Second))
}

func (r Retry) maxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffS * float64(time.Second))
}

// UpstreamEndpoint is the shape shared by the llm and embeddings blocks.
type UpstreamEndpoint struct {
	APIKey            string      `mapstructure:"api_key"`
	APIKeyEnv         string      `mapstructure:"api_key_env"`
	APIBaseURL        string      `mapstructure:"api_base_url"`
	Model             string      `mapstructure:"model"`
	RateLimit         RateLimit   `mapstructure:"rate_limit"`
	Concurrency       Concurrency `mapstructure:"concurrency"`
	Retry             Retry       `mapstructure:"retry"`
	MaxTokens         int         `mapstructure:"max_tokens"`
	Temperature       float64     `mapstructure:"temperature"`
	RepetitionPenalty float64     `mapstructure:"repetition_penalty"`
}

// ResolvedAPIKey returns APIKey, falling back to the environment variable
// named by APIKeyEnv.
func (e UpstreamEndpoint) ResolvedAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" {
		return os.Getenv(e.APIKeyEnv)
	}
	return ""
}

// Server is the server.* block.
type Server struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	ReadTimeoutS     float64  `mapstructure:"read_timeout_s"`
	WriteTimeoutS    float64  `mapstructure:"write_timeout_s"`
	ShutdownTimeoutS float64  `mapstructure:"shutdown_timeout_s"`
}

// ShutdownTimeout converts ShutdownTimeoutS, defaulting to 10s when unset.
func (s Server) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.ShutdownTimeoutS * float64(time.Second))
}

// ReadTimeout converts ReadTimeoutS, defaulting to 30s when unset.
func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.ReadTimeoutS * float64(time.Second))
}

// WriteTimeout converts WriteTimeoutS, defaulting to 30s when unset.
func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.WriteTimeoutS * float64(time.Second))
}

// Neo4j is the neo4j.* block.
type Neo4j struct {
	URI         string `mapstructure:"uri"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
	Database    string `mapstructure:"database"`
}

// ResolvedPassword returns Password, falling back to PasswordEnv.
func (n Neo4j) ResolvedPassword() string {
	if n.Password != "" {
		return n.Password
	}
	if n.PasswordEnv != "" {
		return os.Getenv(n.PasswordEnv)
	}
	return ""
}

// Retention is the retention.* block.
type Retention struct {
	MaxVersions   int  `mapstructure:"max_versions"`
	EnableCleanup bool `mapstructure:"enable_cleanup"`
}

// Query is the query.* block, the QueryService's default limits.
type Query struct {
	DefaultLimitNodes int `mapstructure:"default_limit_nodes"`
	DefaultLimitEdges int `mapstructure:"default_limit_edges"`
	DefaultDepth      int `mapstructure:"default_depth"`
}

// Hooks is the hooks.* block naming which DataHooks implementation to load
// and its two data-path arguments.
type Hooks struct {
	Module      string `mapstructure:"module"`
	Full        string `mapstructure:"full"`
	Incremental string `mapstructure:"incremental"`
}

// Task is the task.* block.
type Task struct {
	TimeoutS float64 `mapstructure:"timeout_s"`
}

func (t Task) Timeout() time.Duration {
	if t.TimeoutS <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutS * float64(time.Second))
}

// Config is the full tree the service is configured by.
type Config struct {
	Server     Server           `mapstructure:"server"`
	Neo4j      Neo4j            `mapstructure:"neo4j"`
	Retention  Retention        `mapstructure:"retention"`
	Query      Query            `mapstructure:"query"`
	Hooks      Hooks            `mapstructure:"hooks"`
	Task       Task             `mapstructure:"task"`
	LLM        UpstreamEndpoint `mapstructure:"llm"`
	Embeddings UpstreamEndpoint `mapstructure:"embeddings"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_s", 30.0)
	v.SetDefault("server.write_timeout_s", 30.0)
	v.SetDefault("server.shutdown_timeout_s", 10.0)
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("retention.max_versions", 5)
	v.SetDefault("retention.enable_cleanup", true)
	v.SetDefault("query.default_limit_nodes", 500)
	v.SetDefault("query.default_limit_edges", 1000)
	v.SetDefault("query.default_depth", 2)
	v.SetDefault("llm.retry.max_retries", 5)
	v.SetDefault("llm.retry.initial_backoff_s", 1.0)
	v.SetDefault("llm.retry.max_backoff_s", 60.0)
	v.SetDefault("llm.retry.backoff_multiplier", 2.0)
	v.SetDefault("llm.concurrency.max_in_flight", 4)
	v.SetDefault("embeddings.retry.max_retries", 5)
	v.SetDefault("embeddings.retry.initial_backoff_s", 1.0)
	v.SetDefault("embeddings.retry.max_backoff_s", 60.0)
	v.SetDefault("embeddings.retry.backoff_multiplier", 2.0)
	v.SetDefault("embeddings.concurrency.max_in_flight", 4)
}

// Load reads path (if non-empty) or searches for config.yaml in the
// working directory and then in $HOME, with environment variables (KG_
// prefixed, nested keys joined by underscore) overriding file values, at
// env > file > defaults precedence. No command-line flag is bound to a
// config key; flags do not override file or environment values.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("KG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
