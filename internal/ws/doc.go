// Package ws relays generation session updates to browser clients.
//
// Each connection subscribes to the coordinator and forwards Job mutations
// as typed frames; it never mutates session state beyond invoking the
// coordinator's public operations.
//
// Message Types (Client → Server):
//   - generate: start a banner/landing-page generation
//   - cancel: cancel the active generation
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - generation_start: a job was accepted
//   - status: state/progress/message update
//   - generation_token: one streamed output fragment
//   - complete: generation finished
//   - error: generation failed or the request was rejected
package ws
