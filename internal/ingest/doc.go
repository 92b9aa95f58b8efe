// Package ingest consumes playback events from MQTT and feeds them to
// the command router. Events arrive as JSON with a type discriminator
// ("play", "pause", "scene_change", "audio_level") and are decoded once
// at this boundary.
package ingest
