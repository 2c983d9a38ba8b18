// Package sched owns the single-flight timer loop.
//
// One background goroutine waits for the next-due timer from the store,
// sleeps until it fires, deletes the row, and dispatches
// "<event>_timer_complete". The sleep is interruptible by a sticky wake
// signal: any Create or Cancel that could change "what's next" wakes the
// loop so it re-fetches instead of sleeping on a stale candidate.
//
// Timers due within EphemeralWindow skip the store entirely and run as
// in-process delayed dispatches; they are lost on restart, which is
// acceptable at that horizon.
//
// Transient storage failures restart the loop from a clean fetch, paced by
// a rate limiter. They never terminate the process.
package sched
