package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/gateway"
	"scribe/internal/retrieval"
	"scribe/internal/services"
)

type stubSearcher struct {
	results []retrieval.Result
	err     error
	got     retrieval.Request
}

func (s *stubSearcher) Search(_ context.Context, req retrieval.Request) ([]retrieval.Result, error) {
	s.got = req
	return s.results, s.err
}

type stubCompleter struct {
	answers []string
	errs    []error
	prompts []string
}

func (c *stubCompleter) Complete(_ context.Context, _, user string) (string, error) {
	i := len(c.prompts)
	c.prompts = append(c.prompts, user)
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	answer := ""
	if i < len(c.answers) {
		answer = c.answers[i]
	}
	return answer, err
}

func sampleResults() []retrieval.Result {
	return []retrieval.Result{
		{SegmentID: 11, MediaID: 1, ExternalRef: "https://video.example/a", Title: "Sourdough basics",
			StartOffset: 0, EndOffset: 120, StartSeconds: 0, EndSeconds: 95, Text: "feed the starter twice a day", CombinedScore: 0.9},
		{SegmentID: 12, MediaID: 1, ExternalRef: "https://video.example/a", Title: "Sourdough basics",
			StartOffset: 121, EndOffset: 260, StartSeconds: 95, EndSeconds: 3725, Text: "hydration around seventy percent", CombinedScore: 0.7},
		{SegmentID: 30, MediaID: 2, ExternalRef: "https://video.example/b",
			StartOffset: 40, EndOffset: 90, StartSeconds: 12, EndSeconds: 30, Text: "bake at two hundred fifty degrees", CombinedScore: 0.5},
	}
}

func TestAskCitesReferencedBlocks(t *testing.T) {
	searcher := &stubSearcher{results: sampleResults()}
	client := &stubCompleter{answers: []string{"  Bake hot [3] and keep hydration near 70% [2][3].  "}}

	answer, err := New(searcher, client, nil, nil).Ask(context.Background(), Request{Question: " how do I bake? ", ScopeID: "bread", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, retrieval.Request{Query: "how do I bake?", ScopeID: "bread", TopK: 3}, searcher.got)
	assert.Equal(t, "Bake hot [3] and keep hydration near 70% [2][3].", answer.Answer)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, 3, answer.Citations[0].Number)
	assert.Equal(t, int64(2), answer.Citations[0].MediaID)
	assert.Equal(t, 40, answer.Citations[0].StartOffset)
	assert.Equal(t, 90, answer.Citations[0].EndOffset)
	assert.Equal(t, int64(12), answer.Citations[1].SegmentID)
	assert.InDelta(t, 0.7, answer.Citations[1].Score, 1e-9)
}

func TestAskWithoutMarkersCitesAllBlocks(t *testing.T) {
	client := &stubCompleter{answers: []string{"Feed the starter and bake hot."}}
	answer, err := New(&stubSearcher{results: sampleResults()}, client, nil, nil).Ask(context.Background(), Request{Question: "bread?"})
	require.NoError(t, err)
	require.Len(t, answer.Citations, 3)
	for i, c := range answer.Citations {
		assert.Equal(t, i+1, c.Number)
	}
}

func TestAskIgnoresOutOfRangeMarkers(t *testing.T) {
	client := &stubCompleter{answers: []string{"See [9] and [0] and [1]."}}
	answer, err := New(&stubSearcher{results: sampleResults()}, client, nil, nil).Ask(context.Background(), Request{Question: "bread?"})
	require.NoError(t, err)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, int64(11), answer.Citations[0].SegmentID)
}

func TestAskDefaultsTopK(t *testing.T) {
	searcher := &stubSearcher{results: sampleResults()}
	_, err := New(searcher, &stubCompleter{answers: []string{"ok [1]"}}, nil, nil).Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, searcher.got.TopK)
}

func TestAskWithoutResultsSkipsLLM(t *testing.T) {
	client := &stubCompleter{}
	answer, err := New(&stubSearcher{}, client, nil, nil).Ask(context.Background(), Request{Question: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, answer.Answer)
	assert.Empty(t, answer.Citations)
	assert.NotNil(t, answer.Citations)
	assert.Empty(t, client.prompts)
}

func TestAskValidation(t *testing.T) {
	_, err := New(&stubSearcher{}, &stubCompleter{}, nil, nil).Ask(context.Background(), Request{Question: "   "})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = New(&stubSearcher{}, nil, nil, nil).Ask(context.Background(), Request{Question: "q"})
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestAskPropagatesSearchError(t *testing.T) {
	searchErr := services.Wrap(services.ErrValidation, "retrieval", "search", "query is empty", nil)
	_, err := New(&stubSearcher{err: searchErr}, &stubCompleter{}, nil, nil).Ask(context.Background(), Request{Question: "q"})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestAskWrapsLLMFailures(t *testing.T) {
	client := &stubCompleter{errs: []error{errors.New("bad gateway")}}
	_, err := New(&stubSearcher{results: sampleResults()}, client, nil, nil).Ask(context.Background(), Request{Question: "q"})
	assert.ErrorIs(t, err, services.ErrExternalTool)

	client = &stubCompleter{answers: []string{"   "}}
	_, err = New(&stubSearcher{results: sampleResults()}, client, nil, nil).Ask(context.Background(), Request{Question: "q"})
	assert.ErrorIs(t, err, services.ErrExternalTool)
}

func TestAskRetriesThrottledCallsThroughGateway(t *testing.T) {
	gw := gateway.New(gateway.NewMemoryWindow(gateway.Limits{MaxCalls: 10}), gateway.Options{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
	})
	client := &stubCompleter{
		errs:    []error{&gateway.ThrottleError{Err: errors.New("429")}},
		answers: []string{"", "Feed it [1]."},
	}
	answer, err := New(&stubSearcher{results: sampleResults()}, client, gw, nil).Ask(context.Background(), Request{Question: "starter?"})
	require.NoError(t, err)
	assert.Len(t, client.prompts, 2)
	assert.Equal(t, "Feed it [1].", answer.Answer)

	usage, err := gw.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Calls)
}

func TestBuildPromptNumbersBlocks(t *testing.T) {
	prompt := BuildPrompt("what temperature?", sampleResults())
	assert.Contains(t, prompt, "[1] Sourdough basics (00:00:00-00:01:35)\nfeed the starter twice a day")
	assert.Contains(t, prompt, "[2] Sourdough basics (00:01:35-01:02:05)")
	assert.Contains(t, prompt, "[3] https://video.example/b (00:00:12-00:00:30)")
	assert.True(t, strings.HasSuffix(prompt, "Question: what temperature?\n"))
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "a b c", truncateWords(" a  b\nc ", 5))
	assert.Equal(t, "a b ...", truncateWords("a b c d", 2))
}
