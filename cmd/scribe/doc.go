// Command scribe is the operator CLI for the scribe transcript pipeline.
//
// Most commands talk to a running daemon over its HTTP API (api_bind in the
// config file, with api_token as a bearer token when set): submitting media
// references, inspecting and cancelling jobs, following progress, and
// querying the index with search and ask. The config and daemon command
// groups work without a running daemon.
package main
