package transcript

import (
	"strings"
	"testing"
)

const rollingVTT = `WEBVTT
Kind: captions
Language: en

00:00:00.000 --> 00:00:02.000 align:start position:0%
hello<00:00:00.500><c> there</c>

00:00:02.000 --> 00:00:02.010
hello there

00:00:02.010 --> 00:00:04.000
hello there
how are &amp; you

NOTE this block
is ignored

1
00:04.000 --> 00:06.500
how are &amp; you
fine thanks
`

func TestParseVTTCollapsesRollingCaptions(t *testing.T) {
	cues, err := ParseVTT(strings.NewReader(rollingVTT))
	if err != nil {
		t.Fatalf("ParseVTT: %v", err)
	}
	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d: %+v", len(cues), cues)
	}
	if got := JoinCues(cues); got != "hello there how are & you fine thanks" {
		t.Fatalf("joined = %q", got)
	}
	if cues[2].Start != 4 || cues[2].End != 6.5 {
		t.Fatalf("short timestamps parsed wrong: %+v", cues[2])
	}
}

func TestParseVTTRejectsMissingHeader(t *testing.T) {
	if _, err := ParseVTT(strings.NewReader("00:00.000 --> 00:01.000\nhi\n")); err == nil {
		t.Fatal("expected header error")
	}
}

func TestParseVTTRejectsBadTiming(t *testing.T) {
	if _, err := ParseVTT(strings.NewReader("WEBVTT\n\n00:02.000 --> 00:01.000\nhi\n")); err == nil {
		t.Fatal("expected timing error")
	}
}

func TestCueRoundTrip(t *testing.T) {
	raw, err := EncodeCues(spoken)
	if err != nil {
		t.Fatalf("EncodeCues: %v", err)
	}
	back, err := DecodeCues(raw)
	if err != nil || len(back) != 2 || back[1].Text != "again" {
		t.Fatalf("DecodeCues: %+v %v", back, err)
	}
	if empty, _ := EncodeCues(nil); empty != "" {
		t.Fatalf("nil cues should encode empty, got %q", empty)
	}
}
