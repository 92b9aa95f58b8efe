package router

// Playback event sources recorded with each issued command.
const (
	SourcePlay        = "play"
	SourcePause       = "pause"
	SourceSceneChange = "scene_change"
	SourceAudioLevel  = "audio_level"
)

// Base strengths for playback events.
const (
	playStrength      = 0.2
	defaultSceneBase  = 0.5
	audioLevelFactor  = 0.8
	maxStrength       = 1.0
	defaultScale      = 1.0
)

// sceneStrengths maps scene intensity labels to base strengths.
// Unknown labels fall back to defaultSceneBase.
var sceneStrengths = map[string]float64{
	"low":    0.3,
	"medium": 0.6,
	"high":   0.9,
	"climax": 1.0,
}

// Commander is the device link surface the router drives. Implemented by
// devicelink.Client; tests substitute a fake.
type Commander interface {
	// DeviceIDs returns a snapshot of the currently known device indices.
	DeviceIDs() []uint32

	// Vibrate sends a vibration command to one device.
	Vibrate(deviceID uint32, strength float64) error
}

// Observer is notified of every command the router issues. Used for the
// command history store and intensity telemetry; both are optional.
type Observer interface {
	CommandIssued(deviceID uint32, strength float64, source string)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Router translates playback events into per-device intensity commands.
//
// It is stateless apart from the intensity scale: every event is mapped to
// a strength and fanned out over a snapshot of the device registry taken
// at call time. Per-device command order follows iteration order; there is
// no ordering guarantee across devices.
type Router struct {
	commander Commander
	scale     float64
	logger    Logger
	observers []Observer
}

// New creates a router driving the given commander.
// A scale of 0 means the default of 1.0.
func New(commander Commander, scale float64) *Router {
	if scale == 0 {
		scale = defaultScale
	}
	return &Router{
		commander: commander,
		scale:     scale,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers an observer for issued commands.
// Not safe to call concurrently with event methods; register during wiring.
func (r *Router) AddObserver(obs Observer) {
	r.observers = append(r.observers, obs)
}

// OnPlay handles a playback-start event: a gentle vibration on every
// known device signals the link is live.
func (r *Router) OnPlay() {
	strength := playStrength * r.scale
	r.logger.Info("playback started", "strength", strength)
	r.fanOut(strength, SourcePlay)
}

// OnPause handles a playback-pause event: all vibrations stop.
func (r *Router) OnPause() {
	r.logger.Info("playback paused")
	r.fanOut(0.0, SourcePause)
}

// OnSceneChange handles a scene-intensity change. Labels outside the
// known set map to the default base strength.
func (r *Router) OnSceneChange(label string) {
	base, ok := sceneStrengths[label]
	if !ok {
		base = defaultSceneBase
	}
	strength := base * r.scale
	r.logger.Info("scene change", "label", label, "strength", strength)
	r.fanOut(strength, SourceSceneChange)
}

// OnAudioLevel handles an audio-level sample, scaling it to a vibration
// strength capped at the maximum.
func (r *Router) OnAudioLevel(level float64) {
	strength := level * audioLevelFactor * r.scale
	if strength > maxStrength {
		strength = maxStrength
	}
	r.logger.Debug("audio level", "level", level, "strength", strength)
	r.fanOut(strength, SourceAudioLevel)
}

// fanOut sends the strength to every device in the snapshot taken here.
// Snapshotting first means a registry mutation mid-iteration cannot crash
// the loop or duplicate a send.
func (r *Router) fanOut(strength float64, source string) {
	ids := r.commander.DeviceIDs()
	for _, id := range ids {
		if err := r.commander.Vibrate(id, strength); err != nil {
			// Vibrate only fails on encoding bugs; transport problems
			// are absorbed by the device link itself.
			r.logger.Debug("vibrate rejected", "device", id, "error", err)
			continue
		}
		for _, obs := range r.observers {
			obs.CommandIssued(id, strength, source)
		}
	}
}

// Scale returns the configured intensity scale.
func (r *Router) Scale() float64 {
	return r.scale
}
