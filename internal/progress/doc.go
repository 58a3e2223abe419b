// Package progress fans orchestrator progress events out to subscribers.
//
// The orchestrator hands events to a Broadcaster through a buffered channel
// and never waits on a consumer. The broadcaster goroutine stamps each event
// with a sequence number, appends it to a bounded history that HTTP clients
// poll with since/wait, and forwards it to in-process subscribers, WebSocket
// clients and an optional Kafka topic. Slow subscribers lose events rather
// than stall the pipeline; drops are counted.
package progress
