// Package transport implements the two channels that observe a generation
// job: a WebSocket push channel with reconnect-and-backoff, and a REST poll
// fallback used while the push channel is down.
//
// Both deliver into the coordinator's handler interfaces and never mutate
// job state themselves. Delivery is at-least-once across a transport switch;
// the coordinator's idempotence rules make duplicates safe.
package transport
