package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeLLM()
	c.normalizeEmbedding()
	c.normalizeGateway()
	c.normalizeRetrieval()
	c.normalizeProgress()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = firstNonEmpty(c.Paths.APIToken, os.Getenv("SCRIBE_API_TOKEN"))
	return nil
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.APIBaseURL = strings.TrimRight(strings.TrimSpace(t.APIBaseURL), "/")
	t.APIKey = firstNonEmpty(t.APIKey, os.Getenv("SCRIBE_TRANSCRIPT_API_KEY"))
	t.HFToken = firstNonEmpty(t.HFToken, os.Getenv("HF_TOKEN"))
	t.YtDlpBinary = firstNonEmpty(t.YtDlpBinary, defaultYtDlpBinary)
	t.FFmpegBinary = firstNonEmpty(t.FFmpegBinary, defaultFFmpegBinary)
	t.FFprobeBinary = firstNonEmpty(t.FFprobeBinary, defaultFFprobeBinary)
	t.WhisperXModel = firstNonEmpty(t.WhisperXModel, defaultWhisperXModel)
	t.WhisperXVADMethod = strings.ToLower(firstNonEmpty(t.WhisperXVADMethod, defaultWhisperXVADMethod))

	langs := make([]string, 0, len(t.CaptionLanguages))
	for _, lang := range t.CaptionLanguages {
		if lang = strings.TrimSpace(lang); lang != "" {
			langs = append(langs, lang)
		}
	}
	t.CaptionLanguages = langs
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = firstNonEmpty(c.LLM.APIKey, os.Getenv("SCRIBE_LLM_API_KEY"), os.Getenv("OPENROUTER_API_KEY"))
	c.LLM.BaseURL = firstNonEmpty(c.LLM.BaseURL, defaultLLMBaseURL)
	c.LLM.Model = firstNonEmpty(c.LLM.Model, defaultLLMModel)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeEmbedding() {
	e := &c.Embedding
	e.Provider = strings.ToLower(firstNonEmpty(e.Provider, defaultEmbeddingProvider))
	e.Model = strings.TrimSpace(e.Model)
	e.BaseURL = strings.TrimSpace(e.BaseURL)
	if e.Provider == "openai" {
		e.APIKey = firstNonEmpty(e.APIKey, os.Getenv("OPENAI_API_KEY"))
	}
	if e.Provider == "ollama" && e.BaseURL == "" {
		e.BaseURL = defaultOllamaBaseURL
	}
	if e.WindowWords <= 0 {
		e.WindowWords = defaultWindowWords
	}
	if e.Concurrency <= 0 {
		e.Concurrency = 1
	}
}

func (c *Config) normalizeGateway() {
	c.Gateway.TokenEncoding = firstNonEmpty(c.Gateway.TokenEncoding, defaultTokenEncoding)
	if c.Gateway.BackoffBaseMS <= 0 {
		c.Gateway.BackoffBaseMS = defaultGatewayBackoffBaseMS
	}
	if c.Gateway.BackoffMaxMS < c.Gateway.BackoffBaseMS {
		c.Gateway.BackoffMaxMS = c.Gateway.BackoffBaseMS
	}
}

func (c *Config) normalizeRetrieval() {
	r := &c.Retrieval
	r.Backend = strings.ToLower(firstNonEmpty(r.Backend, defaultRetrievalBackend))
	r.PostgresDSN = firstNonEmpty(r.PostgresDSN, os.Getenv("SCRIBE_POSTGRES_DSN"))
	if r.CandidatesPerPass <= 0 {
		r.CandidatesPerPass = defaultCandidatesPerPass
	}
	if r.DefaultTopK <= 0 {
		r.DefaultTopK = defaultTopK
	}
	if r.LexicalSaturation <= 0 {
		r.LexicalSaturation = defaultLexicalSaturation
	}
}

func (c *Config) normalizeProgress() {
	brokers := make([]string, 0, len(c.Progress.KafkaBrokers))
	for _, broker := range c.Progress.KafkaBrokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.Progress.KafkaBrokers = brokers
	c.Progress.KafkaTopic = firstNonEmpty(c.Progress.KafkaTopic, defaultProgressKafkaTopic)
	if c.Progress.HistorySize <= 0 {
		c.Progress.HistorySize = defaultProgressHistory
	}
	if c.Progress.SubscriberBuffer <= 0 {
		c.Progress.SubscriberBuffer = defaultSubscriberBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(firstNonEmpty(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(firstNonEmpty(c.Logging.Level, defaultLogLevel))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
