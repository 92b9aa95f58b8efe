// Package api provides the HTTP API for the bridge: playback event
// injection, script download and lookup, and status reporting for
// browser-side integrations.
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
