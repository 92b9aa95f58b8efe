package ingest

import (
	"testing"

	"github.com/nerrad567/pulse-link-core/internal/infrastructure/mqtt"
)

type recordingSink struct {
	plays  int
	pauses int
	scenes []string
	levels []float64
}

func (r *recordingSink) OnPlay()                      { r.plays++ }
func (r *recordingSink) OnPause()                     { r.pauses++ }
func (r *recordingSink) OnSceneChange(label string)   { r.scenes = append(r.scenes, label) }
func (r *recordingSink) OnAudioLevel(level float64)   { r.levels = append(r.levels, level) }

type fakeSubscriber struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.qos = qos
	f.handler = handler
	return nil
}

func TestStartSubscribesToPlaybackTopic(t *testing.T) {
	sub := &fakeSubscriber{}
	c := NewConsumer(&recordingSink{})

	if err := c.Start(sub); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sub.topic != mqtt.TopicPlaybackEvent {
		t.Errorf("subscribed to %q, want %q", sub.topic, mqtt.TopicPlaybackEvent)
	}
	if sub.handler == nil {
		t.Errorf("no handler registered")
	}
}

func TestHandleMessageDispatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, sink *recordingSink)
	}{
		{
			"play", `{"type":"play"}`,
			func(t *testing.T, sink *recordingSink) {
				if sink.plays != 1 {
					t.Errorf("plays = %d, want 1", sink.plays)
				}
			},
		},
		{
			"pause", `{"type":"pause"}`,
			func(t *testing.T, sink *recordingSink) {
				if sink.pauses != 1 {
					t.Errorf("pauses = %d, want 1", sink.pauses)
				}
			},
		},
		{
			"scene change", `{"type":"scene_change","intensity":"high"}`,
			func(t *testing.T, sink *recordingSink) {
				if len(sink.scenes) != 1 || sink.scenes[0] != "high" {
					t.Errorf("scenes = %v, want [high]", sink.scenes)
				}
			},
		},
		{
			"scene change defaults to medium", `{"type":"scene_change"}`,
			func(t *testing.T, sink *recordingSink) {
				if len(sink.scenes) != 1 || sink.scenes[0] != "medium" {
					t.Errorf("scenes = %v, want [medium]", sink.scenes)
				}
			},
		},
		{
			"audio level", `{"type":"audio_level","level":0.4}`,
			func(t *testing.T, sink *recordingSink) {
				if len(sink.levels) != 1 || sink.levels[0] != 0.4 {
					t.Errorf("levels = %v, want [0.4]", sink.levels)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			c := NewConsumer(sink)

			if err := c.handleMessage(mqtt.TopicPlaybackEvent, []byte(tt.payload)); err != nil {
				t.Fatalf("handleMessage failed: %v", err)
			}
			tt.check(t, sink)
			if c.Stats().EventsRx != 1 {
				t.Errorf("events rx = %d, want 1", c.Stats().EventsRx)
			}
		})
	}
}

func TestHandleMessageRejectsBadEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `not json`},
		{"unknown type", `{"type":"seek"}`},
		{"missing type", `{"label":"high"}`},
		{"negative audio level", `{"type":"audio_level","level":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			c := NewConsumer(sink)

			if err := c.handleMessage(mqtt.TopicPlaybackEvent, []byte(tt.payload)); err == nil {
				t.Errorf("handleMessage accepted %q", tt.payload)
			}
			if sink.plays+sink.pauses+len(sink.scenes)+len(sink.levels) != 0 {
				t.Errorf("bad event reached the sink")
			}
			if c.Stats().Dropped != 1 {
				t.Errorf("dropped = %d, want 1", c.Stats().Dropped)
			}
		})
	}
}
