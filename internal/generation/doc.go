// Package generation tracks the lifecycle of one banner/landing-page
// generation job and coordinates the two channels that observe it.
//
// The coordinator owns a single Job at a time and serializes every mutation
// onto one event loop goroutine, so transport callbacks never race on state.
// Updates arrive from two redundant sources:
//
//   - a push transport (WebSocket) that streams status, chunk and terminal
//     events as the upstream service produces them
//   - a poll fallback that reads job status over REST whenever the push
//     channel is down, degraded, or freshly restored
//
// Both sources write into the same Job under a terminal-idempotence rule:
// once a job is Complete or Failed, further events for it are dropped, so
// duplicate or out-of-order terminal reports cannot corrupt state.
//
// Every mutation is projected to a durable snapshot, which Restore reads at
// process start to resume an in-flight job after a restart.
//
// Job values are immutable: transitions return a new value and the old one is
// replaced wholesale, never mutated in place.
package generation
