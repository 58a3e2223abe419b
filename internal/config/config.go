package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	WorkDir  string `toml:"work_dir"`
	CacheDir string `toml:"cache_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Workflow contains worker loop and heartbeat settings.
type Workflow struct {
	Workers               int `toml:"workers"`
	DequeueTimeoutSeconds int `toml:"dequeue_timeout"`
	HeartbeatInterval     int `toml:"heartbeat_interval"`
	HeartbeatTimeout      int `toml:"heartbeat_timeout"`
	ErrorRetryInterval    int `toml:"error_retry_interval"`
}

// Validation contains the accepted media duration window. Zero disables a bound.
type Validation struct {
	MinDurationSeconds int `toml:"min_duration_seconds"`
	MaxDurationSeconds int `toml:"max_duration_seconds"`
}

// Transcription configures the three resolver tiers and their cache.
type Transcription struct {
	CaptionLanguages    []string `toml:"caption_languages"`
	IncludeAutoCaptions bool     `toml:"include_auto_captions"`
	YtDlpBinary         string   `toml:"ytdlp_binary"`
	FFmpegBinary        string   `toml:"ffmpeg_binary"`
	FFprobeBinary       string   `toml:"ffprobe_binary"`

	// APIBaseURL enables tier 2 when set.
	APIBaseURL string `toml:"api_base_url"`
	APIKey     string `toml:"api_key"`

	WhisperXModel     string `toml:"whisperx_model"`
	WhisperXCUDA      bool   `toml:"whisperx_cuda"`
	WhisperXVADMethod string `toml:"whisperx_vad_method"`
	HFToken           string `toml:"hf_token"`

	RetryAttempts    int  `toml:"retry_attempts"`
	RetryBaseDelayMS int  `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int  `toml:"retry_max_delay_ms"`
	CacheEnabled     bool `toml:"cache_enabled"`
	CacheTTLHours    int  `toml:"cache_ttl_hours"`
	MissTTLHours     int  `toml:"miss_ttl_hours"`
}

// LLM contains the chat-completion connection used for content-start
// detection, analysis and answers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Embedding selects the embedding provider and segment windowing.
type Embedding struct {
	Provider    string `toml:"provider"`
	Model       string `toml:"model"`
	Dimensions  int    `toml:"dimensions"`
	APIKey      string `toml:"api_key"`
	BaseURL     string `toml:"base_url"`
	WindowWords int    `toml:"window_words"`
	Concurrency int    `toml:"concurrency"`
}

// Gateway configures the per-minute call and token budgets applied to every
// external inference call.
type Gateway struct {
	MaxCallsPerMinute  int    `toml:"max_calls_per_minute"`
	MaxTokensPerMinute int    `toml:"max_tokens_per_minute"`
	MaxRetries         int    `toml:"max_retries"`
	BackoffBaseMS      int    `toml:"backoff_base_ms"`
	BackoffMaxMS       int    `toml:"backoff_max_ms"`
	SharedBudget       bool   `toml:"shared_budget"`
	TokenEncoding      string `toml:"token_encoding"`
}

// Retrieval configures the hybrid search backend and score fusion.
type Retrieval struct {
	Backend           string  `toml:"backend"`
	PostgresDSN       string  `toml:"postgres_dsn"`
	CandidatesPerPass int     `toml:"candidates_per_pass"`
	DefaultTopK       int     `toml:"default_top_k"`
	LexicalWeight     float64 `toml:"lexical_weight"`
	VectorWeight      float64 `toml:"vector_weight"`
	LexicalSaturation float64 `toml:"lexical_saturation"`
}

// Progress configures the progress broadcaster and its optional Kafka sink.
type Progress struct {
	HistorySize      int      `toml:"history_size"`
	SubscriberBuffer int      `toml:"subscriber_buffer"`
	KafkaBrokers     []string `toml:"kafka_brokers"`
	KafkaTopic       string   `toml:"kafka_topic"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for scribe.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Workflow: worker count, dequeue timeout, heartbeats
//   - Validation: accepted media duration window
//   - Transcription: caption, transcript API and speech-to-text tiers
//   - LLM: chat-completion settings
//   - Embedding: embedding provider and segment window size
//   - Gateway: call and token budgets for external inference
//   - Retrieval: search backend and score fusion weights
//   - Progress: event history and Kafka fan-out
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Validation    Validation    `toml:"validation"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Embedding     Embedding     `toml:"embedding"`
	Gateway       Gateway       `toml:"gateway"`
	Retrieval     Retrieval     `toml:"retrieval"`
	Progress      Progress      `toml:"progress"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(resolvedPath)

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files from the working directory and next to the
// config file. Existing environment variables win.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/scribe/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "scribe.db")
}

// TranscriptCacheDir returns the badger directory used by the resolver cache.
func (c *Config) TranscriptCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "transcripts")
}

// DequeueTimeout returns the blocking dequeue timeout used by workers.
func (c *Config) DequeueTimeout() time.Duration {
	return time.Duration(c.Workflow.DequeueTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the LLM connection settings shared by every feature.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// LLMEnabled reports whether an LLM API key is configured.
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}
