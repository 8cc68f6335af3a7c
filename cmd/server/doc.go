// Package main is the entry point for the bannerforge backend.
//
// The server sits between the chat front end and a third-party AI generation
// service. It tracks one long-running generation job per session, streams
// partial output to the browser over WebSocket, falls back to status polling
// when the upstream push channel drops, and resumes in-flight jobs across
// restarts from a persisted snapshot.
//
// Configuration comes from environment variables (see internal/config);
// the -port and -dev flags override the environment.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
