// Package testutil provides deterministic helpers for tests and the
// scenario harness: a stepping wall clock and a reproducible id sequence.
package testutil
