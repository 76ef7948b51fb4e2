// Package strategy contains the multi-step strategy execution engine: the
// catalog of named strategies, the run state machine that sequences their
// steps into signed transactions, the stores and queues that persist and
// dispatch runs, and the observer fan-out that lets a UI follow progress live.
// Steps execute strictly in ordinal order, one at a time; the first failure
// halts the run and leaves earlier, already-confirmed transactions untouched.
package strategy
