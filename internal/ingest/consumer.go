package ingest

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/pulse-link-core/internal/infrastructure/mqtt"
)

// eventQoS requests at-least-once delivery; duplicate playback events are
// harmless since intensity commands are idempotent per event.
const eventQoS = 1

// EventSink receives decoded playback events. Implemented by the command
// router.
type EventSink interface {
	OnPlay()
	OnPause()
	OnSceneChange(label string)
	OnAudioLevel(level float64)
}

// Subscriber is the slice of the MQTT client the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// playbackEvent is the wire form of one event: a type discriminator plus
// the fields that variant carries.
type playbackEvent struct {
	Type      string  `json:"type"`
	Intensity string  `json:"intensity,omitempty"`
	Level     float64 `json:"level,omitempty"`
}

// Event type discriminators.
const (
	eventPlay        = "play"
	eventPause       = "pause"
	eventSceneChange = "scene_change"
	eventAudioLevel  = "audio_level"
)

// Stats holds consumer counters.
type Stats struct {
	EventsRx uint64
	Dropped  uint64
}

// Consumer subscribes to the playback-event topic and forwards decoded
// events to the sink. Malformed or unrecognised events are counted and
// dropped, never fatal.
type Consumer struct {
	sink   EventSink
	logger Logger

	eventsRx atomic.Uint64
	dropped  atomic.Uint64
}

// NewConsumer creates a playback-event consumer.
func NewConsumer(sink EventSink) *Consumer {
	return &Consumer{sink: sink, logger: noopLogger{}}
}

// SetLogger sets the logger for this consumer.
func (c *Consumer) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes to the playback-event topic on the given client.
func (c *Consumer) Start(sub Subscriber) error {
	if err := sub.Subscribe(mqtt.TopicPlaybackEvent, eventQoS, c.handleMessage); err != nil {
		return fmt.Errorf("ingest: subscribing to %s: %w", mqtt.TopicPlaybackEvent, err)
	}
	return nil
}

// handleMessage decodes one playback event and dispatches it. The
// returned error is logged by the MQTT layer.
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	var event playbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.dropped.Add(1)
		return fmt.Errorf("ingest: malformed event on %s: %w", topic, err)
	}

	switch event.Type {
	case eventPlay:
		c.sink.OnPlay()
	case eventPause:
		c.sink.OnPause()
	case eventSceneChange:
		label := event.Intensity
		if label == "" {
			label = "medium"
		}
		c.sink.OnSceneChange(label)
	case eventAudioLevel:
		if event.Level < 0 {
			c.dropped.Add(1)
			return fmt.Errorf("ingest: negative audio level %v", event.Level)
		}
		c.sink.OnAudioLevel(event.Level)
	default:
		c.dropped.Add(1)
		return fmt.Errorf("ingest: unrecognised event type %q", event.Type)
	}

	c.eventsRx.Add(1)
	c.logger.Debug("playback event dispatched", "type", event.Type)
	return nil
}

// Stats returns current counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		EventsRx: c.eventsRx.Load(),
		Dropped:  c.dropped.Load(),
	}
}
