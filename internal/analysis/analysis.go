// Package analysis summarizes a transcript and extracts its topics and
// keywords with an LLM routed through the gateway.
package analysis

import (
	"context"
	"log/slog"
	"strings"

	"scribe/internal/gateway"
	"scribe/internal/indexer"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/services/llm"
	"scribe/internal/stage"
	"scribe/internal/transcript"
)

const (
	stageName       = "analysis"
	defaultMaxWords = 6000
	maxTopics       = 8
	maxKeywords     = 20
)

// AnalysisPrompt is the system prompt for transcript analysis.
const AnalysisPrompt = `You analyse the transcript of a recorded talk, lecture or video.

Write a neutral summary of at most five sentences.
List the main topics as short noun phrases, most important first.
List distinctive keywords a viewer might search for.

Respond ONLY with JSON: {"summary": "text", "topics": ["..."], "keywords": ["..."]}`

// Report is the parsed LLM response.
type Report struct {
	Summary  string   `json:"summary"`
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords"`
}

// Completer is the JSON chat completion the stage needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Stage is the analysis stage handler.
type Stage struct {
	client   Completer
	gateway  *gateway.Gateway
	maxWords int
	logger   *slog.Logger
}

// NewStage builds the stage. A nil client skips analysis.
func NewStage(client Completer, gw *gateway.Gateway, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		client:   client,
		gateway:  gw,
		maxWords: defaultMaxWords,
		logger:   logger.With(logging.String(logging.FieldComponent, stageName)),
	}
}

func (s *Stage) Prepare(_ context.Context, run *stage.Run) error {
	if err := stage.RequireMedia(run, stageName); err != nil {
		return err
	}
	if !run.Media.HasTranscript() {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "media item has no transcript", nil)
	}
	return nil
}

func (s *Stage) Execute(ctx context.Context, run *stage.Run) error {
	logger := logging.WithContext(ctx, s.logger)
	item := run.Media
	if stage.Reusable(run, strings.TrimSpace(item.Summary) != "") {
		logger.Info("analysis already stored",
			logging.Args(logging.DecisionAttrs("analysis_reuse", "skip", "summary present and reprocess not requested")...)...)
		return nil
	}
	if s.client == nil {
		logger.Info("analysis skipped",
			logging.Args(logging.DecisionAttrs("analysis", "skip", "llm disabled")...)...)
		return nil
	}

	cues, _ := transcript.DecodeCues(item.TranscriptCuesJSON)
	from := indexer.ContentStartOffset(item.TranscriptText, cues, item.ContentStart(), item.DurationSeconds)
	prompt := buildPrompt(item.Title, excerpt(item.TranscriptText[from:], s.maxWords))

	units := s.gateway.CountTokens(AnalysisPrompt, prompt)
	raw, err := gateway.Call(ctx, s.gateway, stageName, units, func(ctx context.Context) (string, error) {
		return s.client.CompleteJSON(ctx, AnalysisPrompt, prompt)
	})
	if err != nil {
		if services.Retryable(err) {
			return err
		}
		return services.Wrap(services.ErrExternalTool, stageName, "complete", "", err)
	}
	var report Report
	if err := llm.DecodeLLMJSON(raw, &report); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "decode", "llm returned malformed analysis", err)
	}
	if strings.TrimSpace(report.Summary) == "" {
		return services.Wrap(services.ErrExternalTool, stageName, "decode", "llm returned an empty summary", nil)
	}

	item.Summary = strings.TrimSpace(report.Summary)
	item.Topics = cleanList(report.Topics, maxTopics)
	item.Keywords = cleanList(report.Keywords, maxKeywords)
	logger.Info("transcript analysed",
		logging.Int("topics", len(item.Topics)),
		logging.Int("keywords", len(item.Keywords)),
	)
	return nil
}

func (s *Stage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stageName)
}

func buildPrompt(title, body string) string {
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString("Title: " + title + "\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(body)
	return b.String()
}

// excerpt keeps the first maxWords words of text.
func excerpt(text string, maxWords int) string {
	fields := strings.Fields(text)
	if len(fields) > maxWords {
		fields = fields[:maxWords]
	}
	return strings.Join(fields, " ")
}

// cleanList trims entries, drops blanks and case-insensitive duplicates and
// caps the length.
func cleanList(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, min(len(values), limit))
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
