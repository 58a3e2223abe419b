// Package contentstart finds where the substantive content of a recording
// begins, skipping intros, sponsor reads and housekeeping.
//
// An LLM reads the opening cues with their timestamps and answers with a
// start time and a confidence. The answer is accepted only when it is
// confident and lands on a cue inside the recording; every other outcome,
// including LLM failure, records an offset of zero so indexing proceeds
// from the beginning.
package contentstart
