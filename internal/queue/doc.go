// Package queue implements the durable FIFO that hands jobs to workers.
//
// Messages live in the queue_messages table of the pipeline database, so an
// enqueue survives process restarts. Dequeue pops the oldest row with a single
// DELETE ... RETURNING statement; once popped a message is gone, and recovery
// from a crashed consumer is driven by persisted job state rather than by
// redelivery. Blocking dequeues wake on in-process enqueues and poll for
// messages written by other processes, returning no delivery when the timeout
// passes.
package queue
