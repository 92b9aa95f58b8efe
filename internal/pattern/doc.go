// Package pattern resolves video identifiers to normalized timed-action
// scripts.
//
// Resolution downloads vendor pattern data in two stages (a descriptor
// naming the pattern URL, then the pattern body), converts the body to
// the script format, and persists every stage in an on-disk cache so
// repeated lookups cost no network I/O. A vendor answer of "no
// interactive content" is itself cacheable and surfaces as
// ErrNoInteractiveContent rather than a transient failure.
//
// ExtractID recognises the supported video-site URL shapes and pulls out
// the numeric video identifier.
package pattern
