// Package preflight provides readiness checks for the external services,
// binaries and filesystem paths that scribe depends on.
//
// These checks run in two contexts:
//   - The workflow manager logs RunAll results when it starts, so an
//     operator sees a missing binary or unreachable LLM before the first job
//     fails on it.
//   - The CLI "scribe status" command renders the same results.
//
// Checks for optional features (LLM, transcript API) are skipped when the
// feature is not configured.
package preflight
