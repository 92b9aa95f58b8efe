// Package telemetry records intensity commands and link-state changes as
// InfluxDB points for dashboarding. Optional; the bridge runs fine
// without it.
package telemetry
