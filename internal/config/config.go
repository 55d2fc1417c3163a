// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	CredentialsSSM = "ssm"
	CredentialsEnv = "env"

	SessionsMemory   = "memory"
	SessionsDynamoDB = "dynamodb"
	SessionsRedis    = "redis"

	IndexQdrant   = "qdrant"
	IndexPgvector = "pgvector"

	// Parameter names used with the env credential source.
	openAIEnvParam = "openai"
	tavilyEnvParam = "tavily"
)

type ModelsConfig struct {
	Chat      string `yaml:"chat"`
	Embedding string `yaml:"embedding"`
	BaseURL   string `yaml:"base_url"`
}

// CredentialsConfig says where API tokens come from. With the ssm source the
// tokens are SecureString parameters under ParamPrefix holding {"token": "..."}.
type CredentialsConfig struct {
	Source      string `yaml:"source"`
	ParamPrefix string `yaml:"param_prefix"`
}

type SessionsConfig struct {
	Backend     string        `yaml:"backend"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// TTL bounds how long an idle session's data is kept by the backend.
	TTL      time.Duration `yaml:"ttl"`
	Table    string        `yaml:"table"`
	RedisURL string        `yaml:"redis_url"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

type PgvectorConfig struct {
	DSN string `yaml:"dsn"`
}

type IndexConfig struct {
	Backend  string         `yaml:"backend"`
	TopK     int            `yaml:"top_k"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Pgvector PgvectorConfig `yaml:"pgvector"`
}

type WebConfig struct {
	MaxResults int    `yaml:"max_results"`
	Topic      string `yaml:"topic"`
	BaseURL    string `yaml:"base_url"`
}

type AgentConfig struct {
	StageTimeout      time.Duration `yaml:"stage_timeout"`
	MaxQuestionLength int           `yaml:"max_question_length"`
}

type DocumentConfig struct {
	Pages    int `yaml:"pages"`
	MaxBytes int `yaml:"max_bytes"`
}

type ChunkingConfig struct {
	Size      int `yaml:"size"`
	Overlap   int `yaml:"overlap"`
	BatchSize int `yaml:"batch_size"`
}

type Config struct {
	Models      ModelsConfig      `yaml:"models"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Index       IndexConfig       `yaml:"index"`
	Web         WebConfig         `yaml:"web"`
	Agent       AgentConfig       `yaml:"agent"`
	Document    DocumentConfig    `yaml:"document"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Chat:      "gpt-4.1-mini",
			Embedding: "text-embedding-3-small",
		},
		Credentials: CredentialsConfig{Source: CredentialsEnv},
		Sessions: SessionsConfig{
			Backend:     SessionsMemory,
			IdleTimeout: 10 * time.Minute,
			TTL:         24 * time.Hour,
		},
		Index: IndexConfig{
			Backend: IndexQdrant,
			TopK:    3,
			Qdrant: QdrantConfig{
				URL:        "http://localhost:6333",
				Collection: "kb_collection",
			},
		},
		Web:      WebConfig{MaxResults: 3, Topic: "general"},
		Agent:    AgentConfig{StageTimeout: 30 * time.Second, MaxQuestionLength: 4000},
		Document: DocumentConfig{Pages: 2, MaxBytes: 12000},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200, BatchSize: 64},
	}
}

// Load reads path (if non-empty and present) over the defaults and then
// applies environment overrides, including any set by a local .env file.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	return load(path, os.LookupEnv)
}

// LoadEnvFile exports the variables in a dotenv file without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("CHAT_MODEL", &cfg.Models.Chat)
	str("EMBEDDING_MODEL", &cfg.Models.Embedding)
	str("OPENAI_BASE_URL", &cfg.Models.BaseURL)
	str("CREDENTIALS_SOURCE", &cfg.Credentials.Source)
	str("PARAM_PREFIX", &cfg.Credentials.ParamPrefix)
	str("SESSION_BACKEND", &cfg.Sessions.Backend)
	str("STATE_TABLE", &cfg.Sessions.Table)
	str("REDIS_URL", &cfg.Sessions.RedisURL)
	str("INDEX_BACKEND", &cfg.Index.Backend)
	str("QDRANT_URL", &cfg.Index.Qdrant.URL)
	str("QDRANT_API_KEY", &cfg.Index.Qdrant.APIKey)
	str("QDRANT_COLLECTION", &cfg.Index.Qdrant.Collection)
	str("PGVECTOR_DSN", &cfg.Index.Pgvector.DSN)
	str("TAVILY_BASE_URL", &cfg.Web.BaseURL)

	return errors.Join(
		dur("SESSION_IDLE_TIMEOUT", &cfg.Sessions.IdleTimeout),
		dur("SESSION_TTL", &cfg.Sessions.TTL),
		dur("STAGE_TIMEOUT", &cfg.Agent.StageTimeout),
		num("MAX_QUESTION_LENGTH", &cfg.Agent.MaxQuestionLength),
		num("KB_TOP_K", &cfg.Index.TopK),
		num("WEB_MAX_RESULTS", &cfg.Web.MaxResults),
	)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch c.Credentials.Source {
	case CredentialsEnv:
	case CredentialsSSM:
		if strings.TrimSpace(c.Credentials.ParamPrefix) == "" {
			fail("credentials.param_prefix is required with the ssm source")
		}
	default:
		fail("unknown credentials source %q", c.Credentials.Source)
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsDynamoDB:
		if strings.TrimSpace(c.Sessions.Table) == "" {
			fail("sessions.table is required with the dynamodb backend")
		}
	case SessionsRedis:
		if strings.TrimSpace(c.Sessions.RedisURL) == "" {
			fail("sessions.redis_url is required with the redis backend")
		}
	default:
		fail("unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.IdleTimeout <= 0 {
		fail("sessions.idle_timeout must be positive")
	}
	if c.Sessions.TTL < c.Sessions.IdleTimeout {
		fail("sessions.ttl must not be shorter than sessions.idle_timeout")
	}

	switch c.Index.Backend {
	case IndexQdrant:
		if strings.TrimSpace(c.Index.Qdrant.URL) == "" || strings.TrimSpace(c.Index.Qdrant.Collection) == "" {
			fail("index.qdrant.url and index.qdrant.collection are required with the qdrant backend")
		}
	case IndexPgvector:
		if strings.TrimSpace(c.Index.Pgvector.DSN) == "" {
			fail("index.pgvector.dsn is required with the pgvector backend")
		}
	default:
		fail("unknown index backend %q", c.Index.Backend)
	}

	if strings.TrimSpace(c.Models.Chat) == "" || strings.TrimSpace(c.Models.Embedding) == "" {
		fail("models.chat and models.embedding are required")
	}
	if c.Index.TopK <= 0 || c.Web.MaxResults <= 0 {
		fail("index.top_k and web.max_results must be positive")
	}
	if c.Agent.StageTimeout <= 0 || c.Agent.MaxQuestionLength <= 0 {
		fail("agent.stage_timeout and agent.max_question_length must be positive")
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		fail("chunking.overlap must be in [0, chunking.size)")
	}
	return errors.Join(errs...)
}

// TokenNames returns the parameter names under which the OpenAI and Tavily
// tokens are read from the configured credential source.
func (c CredentialsConfig) TokenNames() (openAI, tavily string) {
	if c.Source == CredentialsSSM {
		prefix := strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
		return prefix + "/openai_api_key", prefix + "/tavily_api_key"
	}
	return openAIEnvParam, tavilyEnvParam
}

// EnvVars maps env-source parameter names to environment variables.
func (c CredentialsConfig) EnvVars() map[string]string {
	return map[string]string{
		openAIEnvParam: "OPENAI_API_KEY",
		tavilyEnvParam: "TAVILY_API_KEY",
	}
}
