// Package timers implements the cooperative timer scheduler that drives
// time-based callbacks inside the event loop
//
// The scheduler keeps two priority queues, a high queue for short
// latency-critical callbacks and a normal queue for deferred work, and is
// pumped by the event loop each time it returns from its I/O wait
package timers
