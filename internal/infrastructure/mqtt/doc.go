// Package mqtt provides the broker connection used to ingest playback
// events.
//
// The client tracks its subscriptions and restores them after paho's
// auto-reconnect, publishes a retained online/offline status under
// pulselink/system/status, and registers a last-will message so a crash
// is distinguishable from a graceful shutdown.
package mqtt
