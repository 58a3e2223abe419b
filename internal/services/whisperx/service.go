package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	langpkg "scribe/internal/language"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ErrExtract marks ffmpeg audio extraction failures.
var ErrExtract = errors.New("audio extraction failed")

// ErrTranscribe marks WhisperX execution or output failures.
var ErrTranscribe = errors.New("whisperx transcription failed")

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg    Config
	runner Runner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = ffmpegCommand
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Service{cfg: cfg, runner: execRunner}
}

// WithRunner sets a custom command runner (for testing).
func (s *Service) WithRunner(runner Runner) *Service {
	if runner != nil {
		s.runner = runner
	}
	return s
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	return cmd.CombinedOutput()
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	output, err := s.runner(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// ExtractAudio writes the first audio stream of source to dest as WAV.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string) error {
	if source == "" || dest == "" {
		return fmt.Errorf("%w: source and destination required", ErrExtract)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: ensure output dir: %v", ErrExtract, err)
	}
	if err := s.run(ctx, s.cfg.FFmpegBinary, buildExtractArgs(source, dest)...); err != nil {
		return fmt.Errorf("%w: %v", ErrExtract, err)
	}
	return nil
}

// Result contains the outcome of a transcription.
type Result struct {
	Text     string
	Language string
	Segments []Segment
	JSONPath string
}

// TranscribeFile transcribes a WAV file produced by ExtractAudio. outputDir
// receives the WhisperX JSON; language may be empty for auto-detection.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir, language string) (Result, error) {
	var result Result
	if source == "" {
		return result, fmt.Errorf("%w: source path required", ErrTranscribe)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("%w: ensure output dir: %v", ErrTranscribe, err)
	}

	if err := s.run(ctx, uvxCommand, s.buildArgs(source, outputDir, language)...); err != nil {
		return result, fmt.Errorf("%w: %v", ErrTranscribe, err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")
	payload, err := loadPayload(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrTranscribe, err)
	}
	result.Segments = payload.Segments
	result.Language = payload.Language
	result.Text = joinText(payload.Segments)
	return result, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	args := make([]string, 0, 32)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", cudaIndexURL,
			"--extra-index-url", pypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", pypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.cfg.Model,
		"--batch_size", batchSize,
		"--output_dir", outputDir,
		"--output_format", outputFormat,
		"--segment_resolution", segmentResolution,
		"--chunk_size", chunkSize,
		"--beam_size", beamSize,
		"--temperature", temperature,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = vadSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == vadPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang := langpkg.ToISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", cudaDevice)
	} else {
		args = append(args, "--device", cpuDevice, "--compute_type", cpuComputeType)
	}

	return args
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

type whisperXPayload struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return payload.Segments, nil
}

func joinText(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
