package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateDurationWindow(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.DequeueTimeoutSeconds <= 0 {
		return errors.New("workflow.dequeue_timeout must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than heartbeat_interval")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	return nil
}

func (c *Config) validateDurationWindow() error {
	minimum, maximum := c.Validation.MinDurationSeconds, c.Validation.MaxDurationSeconds
	if minimum < 0 || maximum < 0 {
		return errors.New("validation duration bounds must not be negative")
	}
	if maximum > 0 && minimum > maximum {
		return fmt.Errorf("validation.min_duration_seconds (%d) exceeds max_duration_seconds (%d)", minimum, maximum)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.WhisperXVADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcription.whisperx_vad_method: unsupported value %q", c.Transcription.WhisperXVADMethod)
	}
	if c.Transcription.RetryAttempts < 1 {
		return errors.New("transcription.retry_attempts must be at least 1")
	}
	if c.Transcription.RetryBaseDelayMS < 0 || c.Transcription.RetryMaxDelayMS < 0 {
		return errors.New("transcription retry delays must not be negative")
	}
	if c.Transcription.CacheEnabled && c.Transcription.CacheTTLHours <= 0 {
		return errors.New("transcription.cache_ttl_hours must be positive when the cache is enabled")
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Provider {
	case "openai", "ollama":
	case "compatible":
		if c.Embedding.BaseURL == "" {
			return errors.New("embedding.base_url must be set for the compatible provider")
		}
	default:
		return fmt.Errorf("embedding.provider: unsupported value %q (want openai, ollama or compatible)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding.dimensions must be positive")
	}
	if c.Embedding.Model == "" {
		return errors.New("embedding.model must be set")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.MaxCallsPerMinute < 0 || c.Gateway.MaxTokensPerMinute < 0 {
		return errors.New("gateway budgets must not be negative (0 disables a budget)")
	}
	if c.Gateway.MaxRetries < 0 {
		return errors.New("gateway.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	switch c.Retrieval.Backend {
	case "sqlite":
	case "postgres":
		if c.Retrieval.PostgresDSN == "" {
			return errors.New("retrieval.postgres_dsn must be set when retrieval.backend is postgres (or set SCRIBE_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("retrieval.backend: unsupported value %q", c.Retrieval.Backend)
	}
	if c.Retrieval.LexicalWeight <= 0 || c.Retrieval.VectorWeight <= 0 {
		return errors.New("retrieval weights must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
