// Package engine implements the tasksync sync engine and mutation
// coordinator.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Run processes every event in one goroutine. The published project list,
// the pending-write overlay and the error slot are only touched there, so
// a snapshot replace and an optimistic apply never interleave.
//
// Event Processing Flow:
// 1. Backend deliveries (snapshots, subscription errors) are enqueued by the
// subscription callback, tagged with the subscription generation
// 2. Public operations enqueue commands and block until the loop ran them
// 3. Run dequeues events one at a time in FIFO order
// 4. Every change is published as an immutable State read lock-free by
// Current, Err and State, and handed to observers
//
// Mutation Flow:
// A mutation computes the new project on the loop, stages it in the list and
// as a pending write, publishes, performs the remote write on the caller's
// goroutine, and finally records the outcome on the loop. The pending entry
// pins the optimistic value across snapshots until its write is acknowledged
// or a snapshot shows the same content revision.
//
// Snapshots are applied as a full replace of the list, followed by the
// pending overlay. Nothing retries: a failed subscription stalls until the
// caller detaches and attaches again, and a failed write only sets the error
// slot (or, with WithRollbackOnFailure, restores the prior value).
package engine
