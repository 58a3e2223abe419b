package transcript

import (
	"strings"

	"scribe/internal/store"
)

// Kind tags the result of a single tier attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindMiss
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindMiss:
		return "miss"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is what a tier returns. Exactly one of the constructors below
// should be used to build it.
type Outcome struct {
	Kind      Kind
	Text      string
	WordCount int
	Cues      []Cue
	Language  string
	Reason    string
	Unusable  bool
	Err       error
}

// Success builds a successful outcome from cues. Text is the cue text joined
// with single spaces.
func Success(cues []Cue, language string) Outcome {
	text := JoinCues(cues)
	return Outcome{
		Kind:      KindSuccess,
		Text:      text,
		WordCount: len(strings.Fields(text)),
		Cues:      cues,
		Language:  language,
	}
}

// Miss means the tier has no data for this source. It is not an error.
func Miss(reason string) Outcome {
	return Outcome{Kind: KindMiss, Reason: reason}
}

// Transient means the attempt may succeed if repeated.
func Transient(err error) Outcome {
	return Outcome{Kind: KindTransient, Err: err, Reason: errText(err)}
}

// Fatal means the tier cannot produce a transcript. unusable marks failures
// caused by the source media itself, which stop resolution outright.
func Fatal(err error, unusable bool) Outcome {
	return Outcome{Kind: KindFatal, Err: err, Unusable: unusable, Reason: errText(err)}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Result is a resolved transcript with its provenance.
type Result struct {
	Text      string                 `json:"text"`
	Cues      []Cue                  `json:"cues"`
	Language  string                 `json:"language,omitempty"`
	WordCount int                    `json:"word_count"`
	Source    store.TranscriptSource `json:"source"`
}
