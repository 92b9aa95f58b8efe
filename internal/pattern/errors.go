package pattern

import "errors"

// Sentinel errors for pattern resolution.
var (
	// ErrNoInteractiveContent means the vendor reports no pattern for the
	// video. A valid, cacheable outcome; callers must not retry it as if
	// it were transient.
	ErrNoInteractiveContent = errors.New("pattern: no interactive content for video")

	// ErrDownloadFailed is returned when a descriptor or body fetch fails.
	ErrDownloadFailed = errors.New("pattern: download failed")

	// ErrInvalidData is returned when cached or fetched pattern data
	// cannot be parsed.
	ErrInvalidData = errors.New("pattern: invalid pattern data")
)
