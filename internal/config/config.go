package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/tokenizer"
)

const (
	BackendInference = "inference"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Entity recognition collaborator
	NERURL     string        `yaml:"ner_url"`
	NERTimeout time.Duration `yaml:"ner_timeout"`

	// Summarization collaborator
	SummarizerBackend string        `yaml:"summarizer_backend"`
	SummarizerTimeout time.Duration `yaml:"summarizer_timeout"`
	InferenceURL      string        `yaml:"inference_url"`
	InferenceToken    string        `yaml:"inference_token"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	AnthropicModel    string        `yaml:"anthropic_model"`

	// Chunking. An empty encoding is resolved from the summarizer backend.
	TokenizerEncoding string `yaml:"tokenizer_encoding"`
	ChunkTokens       int    `yaml:"chunk_tokens"`
	MinSummaryWords   int    `yaml:"min_summary_words"`
	SecondPassWords   int    `yaml:"second_pass_words"`
	ChunkConcurrency  int    `yaml:"chunk_concurrency"`

	StrictEntityExtraction bool `yaml:"strict_entity_extraction"`
	CollaboratorRetries    int  `yaml:"collaborator_retries"`

	// Cache is disabled when empty
	CacheDBPath string `yaml:"cache_db_path"`

	// Rate limiting is disabled when RPS is zero
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

func defaults() *Config {
	return &Config{
		Port:                "8080",
		LogLevel:            "info",
		NERURL:              "http://localhost:5001/ner",
		NERTimeout:          10 * time.Second,
		SummarizerBackend:   BackendInference,
		SummarizerTimeout:   60 * time.Second,
		InferenceURL:        "http://localhost:5002/summarize",
		OpenAIModel:         "openai/gpt-4o-mini",
		AnthropicModel:      "claude-3-5-haiku-latest",
		ChunkTokens:         900,
		MinSummaryWords:     80,
		SecondPassWords:     160,
		ChunkConcurrency:    4,
		CollaboratorRetries: 2,
		RateLimitRPS:        2,
		RateLimitBurst:      5,
		MaxUploadBytes:      5 << 20,
	}
}

// Load builds the configuration from defaults, the YAML file named by CONFIG_FILE if set,
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.TokenizerEncoding == "" {
		cfg.TokenizerEncoding = cfg.DefaultEncoding()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultEncoding is the vocabulary the configured backend measures its input in, so that
// chunk windows are counted in the model's own tokens. Anthropic publishes no tokenizer;
// cl100k_base approximates it and its context is far larger than a chunk window.
func (c *Config) DefaultEncoding() string {
	switch c.SummarizerBackend {
	case BackendInference:
		return tokenizer.GPT2Encoding
	case BackendOpenAI:
		return tokenizer.EncodingForModel(c.OpenAIModel)
	default:
		return tokenizer.DefaultEncoding
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) loadEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.NERURL = getEnv("NER_URL", c.NERURL)
	c.SummarizerBackend = strings.ToLower(getEnv("SUMMARIZER_BACKEND", c.SummarizerBackend))
	c.InferenceURL = getEnv("INFERENCE_URL", c.InferenceURL)
	c.InferenceToken = getEnv("INFERENCE_TOKEN", c.InferenceToken)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = getEnv("ANTHROPIC_MODEL", c.AnthropicModel)
	c.TokenizerEncoding = getEnv("TOKENIZER_ENCODING", c.TokenizerEncoding)
	c.CacheDBPath = getEnv("CACHE_DB_PATH", c.CacheDBPath)

	var err error
	if c.NERTimeout, err = getEnvDuration("NER_TIMEOUT", c.NERTimeout); err != nil {
		return err
	}
	if c.SummarizerTimeout, err = getEnvDuration("SUMMARIZER_TIMEOUT", c.SummarizerTimeout); err != nil {
		return err
	}
	if c.ChunkTokens, err = getEnvInt("CHUNK_TOKENS", c.ChunkTokens); err != nil {
		return err
	}
	if c.MinSummaryWords, err = getEnvInt("MIN_SUMMARY_WORDS", c.MinSummaryWords); err != nil {
		return err
	}
	if c.SecondPassWords, err = getEnvInt("SECOND_PASS_WORDS", c.SecondPassWords); err != nil {
		return err
	}
	if c.ChunkConcurrency, err = getEnvInt("CHUNK_CONCURRENCY", c.ChunkConcurrency); err != nil {
		return err
	}
	if c.CollaboratorRetries, err = getEnvInt("COLLABORATOR_RETRIES", c.CollaboratorRetries); err != nil {
		return err
	}
	if c.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst); err != nil {
		return err
	}
	if c.StrictEntityExtraction, err = getEnvBool("STRICT_ENTITY_EXTRACTION", c.StrictEntityExtraction); err != nil {
		return err
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		c.RateLimitRPS = rps
	}

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}

	return nil
}

// Validate reports the first setting that would prevent the service from starting.
func (c *Config) Validate() error {
	switch c.SummarizerBackend {
	case BackendInference:
		if c.InferenceURL == "" {
			return fmt.Errorf("INFERENCE_URL is required for the inference backend")
		}
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
	case BackendAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic backend")
		}
	default:
		return fmt.Errorf("unknown SUMMARIZER_BACKEND %q", c.SummarizerBackend)
	}

	if c.NERURL == "" {
		return fmt.Errorf("NER_URL is required")
	}
	if !tokenizer.KnownEncoding(c.TokenizerEncoding) {
		return fmt.Errorf("unknown TOKENIZER_ENCODING %q", c.TokenizerEncoding)
	}
	if c.ChunkTokens <= 0 {
		return fmt.Errorf("CHUNK_TOKENS must be positive, got %d", c.ChunkTokens)
	}
	if c.MinSummaryWords <= 0 {
		return fmt.Errorf("MIN_SUMMARY_WORDS must be positive, got %d", c.MinSummaryWords)
	}
	if c.SecondPassWords <= 0 {
		return fmt.Errorf("SECOND_PASS_WORDS must be positive, got %d", c.SecondPassWords)
	}
	if c.ChunkConcurrency <= 0 {
		return fmt.Errorf("CHUNK_CONCURRENCY must be positive, got %d", c.ChunkConcurrency)
	}
	if c.CollaboratorRetries < 0 {
		return fmt.Errorf("COLLABORATOR_RETRIES must not be negative, got %d", c.CollaboratorRetries)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %g", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
