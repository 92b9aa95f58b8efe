// Package router maps high-level playback events to per-device intensity
// commands, fanned out over the current device registry.
//
// The router is stateless apart from a configurable intensity scale. It
// depends on a narrow Commander interface rather than the device link
// directly, so it can be driven by the HTTP ingest, the MQTT ingest, and
// tests alike.
package router
