package mqtt

// Topic namespace for the bridge. All topics live under "pulselink/".
const (
	// TopicPlaybackEvent carries tagged playback events from video-player
	// integrations into the command router.
	TopicPlaybackEvent = "pulselink/playback/event"

	// TopicSystemStatus carries the bridge's online/offline status,
	// retained so late subscribers see the current state.
	TopicSystemStatus = "pulselink/system/status"
)
