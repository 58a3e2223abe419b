// Package daemon coordinates the long-running scribe process.
//
// It ties the workflow manager, the heartbeat reclaimer, the progress
// broadcaster and the HTTP API into a single lifecycle guarded by a flock so
// only one daemon runs per data directory. Component construction lives in
// daemonrun; this package only starts, stops and reports on what it is given.
//
// The HTTP API is optional: an empty api_bind disables it. When api_token is
// set every request must carry it as a bearer token.
package daemon
