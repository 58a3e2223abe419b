package config

const (
	defaultDataDir              = "~/.local/share/scribe"
	defaultLogDir               = "~/.local/share/scribe/logs"
	defaultWorkDir              = "~/.local/share/scribe/work"
	defaultCacheDir             = "~/.cache/scribe"
	defaultAPIBind              = "127.0.0.1:7611"
	defaultWorkers              = 1
	defaultDequeueTimeout       = 5
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 300
	defaultErrorRetryInterval   = 10
	defaultYtDlpBinary          = "yt-dlp"
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultWhisperXModel        = "large-v3"
	defaultWhisperXVADMethod    = "silero"
	defaultTierRetryAttempts    = 3
	defaultTierRetryBaseDelayMS = 1000
	defaultTierRetryMaxDelayMS  = 15000
	defaultCacheTTLHours        = 24 * 30
	defaultMissTTLHours         = 12
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultLLMReferer           = "https://github.com/scribe-media/scribe"
	defaultLLMTitle             = "Scribe"
	defaultLLMTimeoutSeconds    = 60
	defaultEmbeddingProvider    = "openai"
	defaultEmbeddingModel       = "text-embedding-3-small"
	defaultEmbeddingDimensions  = 768
	defaultOllamaBaseURL        = "http://127.0.0.1:11434"
	defaultWindowWords          = 250
	defaultEmbeddingConcurrency = 4
	defaultMaxCallsPerMinute    = 60
	defaultMaxTokensPerMinute   = 150000
	defaultGatewayMaxRetries    = 5
	defaultGatewayBackoffBaseMS = 1000
	defaultGatewayBackoffMaxMS  = 30000
	defaultTokenEncoding        = "cl100k_base"
	defaultRetrievalBackend     = "sqlite"
	defaultCandidatesPerPass    = 5
	defaultTopK                 = 5
	defaultLexicalWeight        = 0.4
	defaultVectorWeight         = 0.6
	defaultLexicalSaturation    = 1.0
	defaultProgressHistory      = 512
	defaultSubscriberBuffer     = 64
	defaultProgressKafkaTopic   = "scribe.progress"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			WorkDir:  defaultWorkDir,
			CacheDir: defaultCacheDir,
			APIBind:  defaultAPIBind,
		},
		Workflow: Workflow{
			Workers:               defaultWorkers,
			DequeueTimeoutSeconds: defaultDequeueTimeout,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
			ErrorRetryInterval:    defaultErrorRetryInterval,
		},
		Transcription: Transcription{
			CaptionLanguages:    []string{"en"},
			IncludeAutoCaptions: true,
			YtDlpBinary:         defaultYtDlpBinary,
			FFmpegBinary:        defaultFFmpegBinary,
			FFprobeBinary:       defaultFFprobeBinary,
			WhisperXModel:       defaultWhisperXModel,
			WhisperXVADMethod:   defaultWhisperXVADMethod,
			RetryAttempts:       defaultTierRetryAttempts,
			RetryBaseDelayMS:    defaultTierRetryBaseDelayMS,
			RetryMaxDelayMS:     defaultTierRetryMaxDelayMS,
			CacheEnabled:        true,
			CacheTTLHours:       defaultCacheTTLHours,
			MissTTLHours:        defaultMissTTLHours,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Embedding: Embedding{
			Provider:    defaultEmbeddingProvider,
			Model:       defaultEmbeddingModel,
			Dimensions:  defaultEmbeddingDimensions,
			WindowWords: defaultWindowWords,
			Concurrency: defaultEmbeddingConcurrency,
		},
		Gateway: Gateway{
			MaxCallsPerMinute:  defaultMaxCallsPerMinute,
			MaxTokensPerMinute: defaultMaxTokensPerMinute,
			MaxRetries:         defaultGatewayMaxRetries,
			BackoffBaseMS:      defaultGatewayBackoffBaseMS,
			BackoffMaxMS:       defaultGatewayBackoffMaxMS,
			TokenEncoding:      defaultTokenEncoding,
		},
		Retrieval: Retrieval{
			Backend:           defaultRetrievalBackend,
			CandidatesPerPass: defaultCandidatesPerPass,
			DefaultTopK:       defaultTopK,
			LexicalWeight:     defaultLexicalWeight,
			VectorWeight:      defaultVectorWeight,
			LexicalSaturation: defaultLexicalSaturation,
		},
		Progress: Progress{
			HistorySize:      defaultProgressHistory,
			SubscriberBuffer: defaultSubscriberBuffer,
			KafkaTopic:       defaultProgressKafkaTopic,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
