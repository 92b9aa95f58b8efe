// Package history records every intensity command issued to a device in
// a SQLite audit trail, queryable by recency and per device.
package history
