// Package assistant answers questions from indexed transcripts. It retrieves
// the best matching segments, hands them to the LLM as numbered context
// blocks and returns the answer with citations pointing back into the media.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scribe/internal/gateway"
	"scribe/internal/logging"
	"scribe/internal/retrieval"
	"scribe/internal/services"
)

const (
	component     = "assistant"
	operation     = "ask"
	defaultTopK   = 8
	maxBlockWords = 400
)

// NoContextAnswer is returned when retrieval finds nothing to ground an answer on.
const NoContextAnswer = "No indexed transcript covers this question."

// SystemPrompt instructs the model to answer only from the supplied context.
const SystemPrompt = `You answer questions about recorded talks, lectures and videos using transcript excerpts.

Each excerpt is numbered like [1]. Use only the excerpts to answer.
Cite every claim with the excerpt numbers it relies on, for example [2] or [1][3].
If the excerpts do not contain the answer, say so plainly instead of guessing.`

// Searcher is the retrieval the assistant grounds answers on.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]retrieval.Result, error)
}

// Completer is the plain chat completion the assistant needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Request is one question.
type Request struct {
	Question string `json:"question"`
	ScopeID  string `json:"scope_id,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// Citation links a numbered context block back to its transcript segment.
type Citation struct {
	Number       int     `json:"number"`
	SegmentID    int64   `json:"segment_id"`
	MediaID      int64   `json:"media_id"`
	ExternalRef  string  `json:"external_ref"`
	Title        string  `json:"title,omitempty"`
	StartOffset  int     `json:"start_offset"`
	EndOffset    int     `json:"end_offset"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Score        float64 `json:"score"`
}

// Answer is the composed response.
type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Assistant composes retrieval-augmented answers.
type Assistant struct {
	searcher Searcher
	client   Completer
	gateway  *gateway.Gateway
	logger   *slog.Logger
}

// New builds an assistant. A nil client makes Ask fail with a configuration error.
func New(searcher Searcher, client Completer, gw *gateway.Gateway, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Assistant{
		searcher: searcher,
		client:   client,
		gateway:  gw,
		logger:   logger.With(logging.String(logging.FieldComponent, component)),
	}
}

// Ask retrieves context for the question and asks the LLM to answer from it.
func (a *Assistant) Ask(ctx context.Context, req Request) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, services.Wrap(services.ErrValidation, component, operation, "question is required", nil)
	}
	if a.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, operation,
			"llm is not configured; set llm.api_key", nil)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	logger := logging.WithContext(ctx, a.logger)

	results, err := a.searcher.Search(ctx, retrieval.Request{Query: question, ScopeID: req.ScopeID, TopK: topK})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		logger.Info("no context for question",
			logging.Args(logging.DecisionAttrs("ask_context", "skip_llm", "retrieval returned no segments")...)...)
		return &Answer{Answer: NoContextAnswer, Citations: []Citation{}}, nil
	}

	prompt := BuildPrompt(question, results)
	units := a.gateway.CountTokens(SystemPrompt, prompt)
	raw, err := gateway.Call(ctx, a.gateway, operation, units, func(ctx context.Context) (string, error) {
		return a.client.Complete(ctx, SystemPrompt, prompt)
	})
	if err != nil {
		if services.Retryable(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrExternalTool, component, "complete", "", err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return nil, services.Wrap(services.ErrExternalTool, component, "complete", "llm returned an empty answer", nil)
	}

	citations := cite(answer, results)
	logger.Info("answer composed",
		logging.Int("context_blocks", len(results)),
		logging.Int("citations", len(citations)),
	)
	return &Answer{Answer: answer, Citations: citations}, nil
}

// BuildPrompt renders results as numbered context blocks followed by the question.
func BuildPrompt(question string, results []retrieval.Result) string {
	var sb strings.Builder
	sb.WriteString("Transcript excerpts:\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s (%s-%s)\n", i+1, sourceLabel(r), clock(r.StartSeconds), clock(r.EndSeconds))
		sb.WriteString(truncateWords(r.Text, maxBlockWords))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// cite returns the blocks the answer references, in first-mention order.
// An answer without markers cites every block it was given.
func cite(answer string, results []retrieval.Result) []Citation {
	seen := make(map[int]bool)
	var numbers []int
	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(results) || seen[n] {
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}
	if len(numbers) == 0 {
		for i := range results {
			numbers = append(numbers, i+1)
		}
	}
	citations := make([]Citation, 0, len(numbers))
	for _, n := range numbers {
		r := results[n-1]
		citations = append(citations, Citation{
			Number:       n,
			SegmentID:    r.SegmentID,
			MediaID:      r.MediaID,
			ExternalRef:  r.ExternalRef,
			Title:        r.Title,
			StartOffset:  r.StartOffset,
			EndOffset:    r.EndOffset,
			StartSeconds: r.StartSeconds,
			EndSeconds:   r.EndSeconds,
			Score:        r.CombinedScore,
		})
	}
	return citations
}

func sourceLabel(r retrieval.Result) string {
	if strings.TrimSpace(r.Title) != "" {
		return r.Title
	}
	return r.ExternalRef
}

func clock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func truncateWords(text string, limit int) string {
	fields := strings.Fields(text)
	if len(fields) <= limit {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:limit], " ") + " ..."
}
