package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	langpkg "scribe/internal/language"
)

// DefaultBinary is the executable name used when none is configured.
const DefaultBinary = "yt-dlp"

// Service runs yt-dlp.
type Service struct {
	binary string
	runner Runner
}

// New creates a service for binary (DefaultBinary when empty).
func New(binary string) *Service {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	return &Service{binary: binary, runner: execRunner{}}
}

// WithRunner overrides process execution.
func (s *Service) WithRunner(runner Runner) *Service {
	if runner != nil {
		s.runner = runner
	}
	return s
}

// Binary returns the configured executable.
func (s *Service) Binary() string {
	return s.binary
}

func (s *Service) run(ctx context.Context, op string, args ...string) (CommandResult, error) {
	result, err := s.runner.Run(ctx, s.binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, &CommandError{
			Op:       op,
			Kind:     ClassifyStderr(result.Stderr),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}
	return result, nil
}

// Metadata is the subset of yt-dlp's info JSON the pipeline uses.
type Metadata struct {
	ID                string                `json:"id"`
	Title             string                `json:"title"`
	Uploader          string                `json:"uploader"`
	Duration          float64               `json:"duration"`
	Language          string                `json:"language"`
	WebpageURL        string                `json:"webpage_url"`
	Subtitles         map[string][]SubTrack `json:"subtitles"`
	AutomaticCaptions map[string][]SubTrack `json:"automatic_captions"`
}

// SubTrack is one downloadable caption rendition.
type SubTrack struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// CaptionLanguages lists the languages with captions, manual ones first.
func (m Metadata) CaptionLanguages(includeAuto bool) []string {
	langs := sortedKeys(m.Subtitles)
	if includeAuto {
		for _, lang := range sortedKeys(m.AutomaticCaptions) {
			if _, dup := m.Subtitles[lang]; !dup {
				langs = append(langs, lang)
			}
		}
	}
	return langs
}

func sortedKeys(m map[string][]SubTrack) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		if key == "live_chat" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Probe fetches metadata for ref without downloading media.
func (s *Service) Probe(ctx context.Context, ref string) (Metadata, error) {
	result, err := s.run(ctx, "probe",
		"--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings", "--", ref)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(result.Stdout), &meta); err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp probe: decode info json: %w", err)
	}
	return meta, nil
}

// CaptionRequest selects which captions to fetch.
type CaptionRequest struct {
	Ref         string
	Languages   []string
	IncludeAuto bool
	OutputDir   string
}

// CaptionFile is a downloaded WebVTT caption file.
type CaptionFile struct {
	Path     string
	Language string
}

// ErrNoCaptions is returned when the source offers no caption in the
// requested languages.
var ErrNoCaptions = errors.New("no captions available")

// DownloadCaptions fetches WebVTT captions for ref into req.OutputDir and
// returns the file whose language best matches req.Languages.
func (s *Service) DownloadCaptions(ctx context.Context, req CaptionRequest) (CaptionFile, error) {
	if req.OutputDir == "" {
		return CaptionFile{}, errors.New("yt-dlp captions: output dir required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return CaptionFile{}, fmt.Errorf("yt-dlp captions: ensure output dir: %w", err)
	}
	langs := req.Languages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	patterns := make([]string, 0, len(langs))
	for _, lang := range langs {
		// Match regional variants such as en-US alongside the bare code.
		patterns = append(patterns, lang, lang+"-.*")
	}

	args := []string{
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--write-subs",
		"--sub-format", "vtt/best",
		"--convert-subs", "vtt",
		"--sub-langs", strings.Join(patterns, ","),
		"-o", filepath.Join(req.OutputDir, "captions.%(ext)s"),
	}
	if req.IncludeAuto {
		args = append(args, "--write-auto-subs")
	}
	args = append(args, "--", req.Ref)
	if _, err := s.run(ctx, "captions", args...); err != nil {
		return CaptionFile{}, err
	}

	files, err := filepath.Glob(filepath.Join(req.OutputDir, "captions.*.vtt"))
	if err != nil {
		return CaptionFile{}, fmt.Errorf("yt-dlp captions: list files: %w", err)
	}
	if len(files) == 0 {
		return CaptionFile{}, ErrNoCaptions
	}
	sort.Strings(files)
	available := make([]string, len(files))
	for i, file := range files {
		available[i] = captionLanguage(file)
	}
	if lang, ok := langpkg.Match(langs, available); ok {
		for i, candidate := range available {
			if candidate == lang {
				return CaptionFile{Path: files[i], Language: lang}, nil
			}
		}
	}
	return CaptionFile{Path: files[0], Language: available[0]}, nil
}

// captionLanguage extracts "en" from ".../captions.en.vtt".
func captionLanguage(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".vtt")
	return strings.TrimPrefix(name, "captions.")
}

// DownloadAudio fetches the best audio rendition of ref into outputDir and
// returns the written file path.
func (s *Service) DownloadAudio(ctx context.Context, ref, outputDir string) (string, error) {
	if outputDir == "" {
		return "", errors.New("yt-dlp audio: output dir required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("yt-dlp audio: ensure output dir: %w", err)
	}
	result, err := s.run(ctx, "audio",
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"-o", filepath.Join(outputDir, "audio.%(ext)s"),
		"--print", "after_move:filepath",
		"--", ref,
	)
	if err != nil {
		return "", err
	}
	path := lastLine(result.Stdout)
	if path == "" {
		matches, _ := filepath.Glob(filepath.Join(outputDir, "audio.*"))
		if len(matches) == 0 {
			return "", errors.New("yt-dlp audio: no file written")
		}
		path = matches[0]
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp audio: %w", err)
	}
	return path, nil
}
