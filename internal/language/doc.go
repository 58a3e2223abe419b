// Package language normalizes language codes for caption selection,
// transcription hints and stored media metadata.
//
// Resolution is delegated to golang.org/x/text/language, with a short alias
// table for bibliographic ISO 639-2 codes and English language names. Match
// picks the best caption track from what a source offers.
package language
