// Package stage defines the contract between the pipeline orchestrator and
// the six stage handlers, plus small helpers shared by every stage.
package stage
