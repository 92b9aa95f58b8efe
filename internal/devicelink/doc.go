// Package devicelink maintains the connection to the device-control server
// and owns the registry of haptic devices it advertises.
//
// # Responsibilities
//
//   - WebSocket transport to the device-control server (handshake,
//     heartbeat, inbound dispatch)
//   - Device registry, mutated only by inbound protocol messages
//     (DeviceAdded, DeviceRemoved, DeviceList)
//   - Outbound command encoding (vibrate, stroke, scan) with monotonic
//     message identifiers
//   - Self-healing: listener-owned reconnection with a fixed backoff and
//     no retry limit
//
// # Failure model
//
// Connection failure is a reported outcome, never a fatal error. Commands
// issued while disconnected are dropped silently after at most one
// synchronous reconnect attempt. Malformed or unrecognised inbound
// messages are logged and dropped without touching connection state.
//
// # Usage
//
//	client := devicelink.New(devicelink.Config{URL: "ws://localhost:6969"})
//	client.SetLogger(logger)
//	_ = client.Connect() // soft failure; client retries on demand
//	defer client.Close()
//
//	client.Vibrate(1, 0.5)
package devicelink
