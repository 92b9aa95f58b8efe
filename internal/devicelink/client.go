package devicelink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the device link.
const (
	// defaultConnectTimeout bounds both the dial and the handshake wait.
	defaultConnectTimeout = 5 * time.Second

	// defaultHeartbeatInterval is the time between transport pings while Ready.
	defaultHeartbeatInterval = 30 * time.Second

	// defaultReconnectDelay is the fixed backoff before a reconnect attempt.
	defaultReconnectDelay = 2 * time.Second

	// readPollInterval is how long one listener read waits before cycling.
	// Short so the listener stays responsive to shutdown and state changes.
	readPollInterval = 1 * time.Second

	// writeTimeout bounds individual command writes.
	writeTimeout = 5 * time.Second

	// firstMessageID is the value the command identifier counter starts at.
	// Structural messages use fixed identifiers below this, so allocated
	// identifiers never collide with them.
	firstMessageID = 10
)

// State is the connection state of the device link.
type State int32

// Connection states. Commands are accepted only in StateReady.
const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateReconnecting
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds device link connection configuration.
type Config struct {
	// URL is the WebSocket address of the device-control server.
	URL string

	// ClientName is sent in the protocol handshake.
	ClientName string

	// ConnectTimeout bounds the dial and the handshake wait.
	// Default: 5 seconds.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the time between pings while Ready.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the fixed backoff before reconnecting.
	// Default: 2 seconds.
	ReconnectDelay time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	State          State
	Devices        int
	CommandsTx     uint64
	MessagesRx     uint64
	ProtocolErrors uint64
	Reconnects     uint64
	LastActivity   time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client maintains the single outbound connection to the device-control
// server: handshake, heartbeat, inbound dispatch, device registry, and
// reconnect-on-failure.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The transport handle is guarded by a single mutex; every write goes
//     through it, so an in-flight command can never race a reconnect
//     swapping the transport.
//
// Reconnection:
//   - Listener-owned. When the transport closes, the listener waits the
//     fixed backoff and calls Connect again, indefinitely. The heartbeat
//     only flags the link down; it never reconnects, so two goroutines can
//     never race on transport replacement.
//   - Command calls that find no transport make one synchronous Connect
//     attempt and otherwise drop the command silently.
type Client struct {
	cfg Config

	// conn is the transport handle. Guarded by connMu together with all
	// writes. Replaced only by Connect, cleared by the listener, the
	// heartbeat, and failed command writes.
	connMu sync.Mutex
	conn   Conn

	// gen identifies the current listener/heartbeat pair. A pair exits as
	// soon as it observes a newer generation, so a reconnect never leaves
	// two pairs serving the same client.
	gen atomic.Uint64

	// connecting serialises Connect calls (listener reconnect vs. a
	// command-triggered reconnect).
	connecting atomic.Bool

	state atomic.Int32

	registry *registry

	// msgID allocates outbound command identifiers, monotonically
	// increasing from firstMessageID.
	msgID atomic.Uint32

	dial  Dialer
	sleep func(time.Duration)

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	commandsTx     atomic.Uint64
	messagesRx     atomic.Uint64
	protocolErrors atomic.Uint64
	reconnects     atomic.Uint64
	lastActivity   atomic.Int64 // Unix timestamp
}

// New creates a device link client. The client starts disconnected; call
// Connect to open the transport.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	c := &Client{
		cfg:      cfg,
		registry: newRegistry(),
		dial:     dialWebSocket,
		done:     newCloseOnce(),
		logger:   noopLogger{},
	}
	c.msgID.Store(firstMessageID)
	c.sleep = c.sleepInterruptible
	return c
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetDialer replaces the transport dialer. Used by tests to substitute an
// in-memory transport; must be called before Connect.
func (c *Client) SetDialer(dial Dialer) {
	c.dial = dial
}

// SetBackoffSleep replaces the reconnect backoff sleep. Used by tests to
// avoid real delays; must be called before Connect.
func (c *Client) SetBackoffSleep(sleep func(time.Duration)) {
	c.sleep = sleep
}

// Connect opens the transport, performs the protocol handshake, requests
// the device list, and starts the listener and heartbeat.
//
// Connection failure is a reported outcome, not a fatal condition: the
// client transitions back to Disconnected and the returned error exists
// for logging. Callers keep running; a later command call or listener
// cycle retries.
func (c *Client) Connect() error {
	if c.isClosed() {
		return ErrNotConnected
	}

	// Another goroutine (listener reconnect vs. command-triggered retry)
	// is already connecting; let it finish.
	if !c.connecting.CompareAndSwap(false, true) {
		return nil
	}
	defer c.connecting.Store(false)

	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		c.setState(StateDisconnected)
		c.log().Warn("device-control server unreachable", "url", c.cfg.URL, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.setState(StateHandshaking)
	if err := c.handshake(conn); err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		c.log().Warn("device link handshake failed", "error", err)
		return err
	}

	// Retire the previous generation before touching its transport so its
	// listener and heartbeat exit on the gen check instead of reconnecting.
	gen := c.gen.Add(1)
	if gen > 1 {
		c.reconnects.Add(1)
	}

	c.connMu.Lock()
	// A stale handle can survive here if a reconnect raced a command-path
	// Connect; close it so transport replacement never leaks.
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()
	c.touch()
	c.setState(StateReady)

	c.wg.Add(2)
	go c.listen(conn, gen)
	go c.heartbeat(conn, gen)

	c.log().Info("device link ready", "url", c.cfg.URL, "devices", c.registry.count())
	return nil
}

// handshake sends the server-info request, awaits its response, and
// requests the current device list. All steps share one deadline.
func (c *Client) handshake(conn Conn) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)

	hs, err := encodeHandshake(c.cfg.ClientName)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(hs, deadline); err != nil {
		return fmt.Errorf("%w: sending handshake: %w", ErrConnectionFailed, err)
	}

	resp, err := conn.ReadMessage(deadline)
	if err != nil {
		if isTimeout(err) {
			return ErrHandshakeTimeout
		}
		return fmt.Errorf("%w: reading handshake response: %w", ErrConnectionFailed, err)
	}

	// Usually ServerInfo; a device list may ride along on some servers.
	c.dispatch(resp)

	// Replies to this arrive on the listener.
	req, err := encodeDeviceListRequest()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(req, deadline); err != nil {
		return fmt.Errorf("%w: requesting device list: %w", ErrConnectionFailed, err)
	}

	return nil
}

// listen reads inbound messages until the transport fails or the client
// closes. On transport failure it waits the fixed backoff, calls Connect
// once, and exits; the new Connect spawns a fresh listener/heartbeat pair.
// If that Connect fails, the next command call retries, so reconnect
// attempts continue for as long as anything uses the client.
func (c *Client) listen(conn Conn, gen uint64) {
	defer c.wg.Done()

	for {
		if c.isClosed() || c.gen.Load() != gen {
			return
		}

		data, err := conn.ReadMessage(time.Now().Add(readPollInterval))
		if err != nil {
			if isTimeout(err) {
				continue // normal poll cycle
			}
			// A stale generation means this transport was already replaced;
			// reconnecting belongs to the live generation's listener.
			if c.isClosed() || c.gen.Load() != gen {
				return
			}

			c.log().Warn("device link transport closed, reconnecting", "error", err)
			c.clearTransport(gen)
			c.setState(StateReconnecting)
			c.sleep(c.cfg.ReconnectDelay)
			if c.isClosed() {
				return
			}
			if err := c.Connect(); err != nil {
				c.log().Warn("device link reconnect failed", "error", err)
			}
			return
		}

		c.dispatch(data)
	}
}

// heartbeat pings the transport at the configured interval while Ready.
// On failure it flags the link down and exits without reconnecting;
// reconnection is the listener's job, so transport replacement has exactly
// one owner.
func (c *Client) heartbeat(conn Conn, gen uint64) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			if c.gen.Load() != gen {
				return
			}
			if c.State() != StateReady {
				return
			}
			if err := conn.Ping(time.Now().Add(writeTimeout)); err != nil {
				c.log().Warn("heartbeat failed, flagging link down", "error", err)
				c.clearTransport(gen)
				return
			}
			c.log().Debug("heartbeat ping sent")
		}
	}
}

// dispatch decodes one inbound frame and applies its messages to the
// registry. Malformed frames and unrecognised variants are logged and
// dropped; they never affect connection state.
func (c *Client) dispatch(data []byte) {
	c.messagesRx.Add(1)
	c.touch()

	msgs, err := decodeFrames(data)
	if err != nil {
		c.protocolErrors.Add(1)
		c.log().Warn("dropping malformed inbound frame", "error", err)
		return
	}

	for _, msg := range msgs {
		switch msg.Kind {
		case KindDeviceAdded:
			c.registry.upsert(*msg.DeviceAdded)
			c.log().Info("device added",
				"device", msg.DeviceAdded.DeviceIndex,
				"name", msg.DeviceAdded.DeviceName,
			)

		case KindDeviceRemoved:
			if d, ok := c.registry.remove(msg.DeviceRemoved); ok {
				c.log().Info("device removed", "device", d.Index, "name", d.Name)
			}

		case KindDeviceList:
			c.registry.replaceAll(msg.DeviceList)
			c.log().Info("device list received", "devices", len(msg.DeviceList))

		case KindServerInfo:
			c.log().Debug("server info received")

		case KindOK, KindScanningFinished:
			c.log().Debug("inbound message", "type", msg.Key)

		case KindError:
			c.log().Warn("server reported error", "body", string(msg.Raw))

		default:
			c.log().Debug("ignoring unrecognised inbound message", "type", msg.Key)
		}
	}
}

// ScanDevices asks the server to start scanning for devices.
// No-op unless the link is Ready. Fire and forget.
func (c *Client) ScanDevices() error {
	if c.State() != StateReady {
		return nil
	}

	data, err := encodeStartScanning()
	if err != nil {
		return err
	}
	if err := c.send(data); err != nil {
		c.log().Warn("scan request failed", "error", err)
		return nil
	}
	c.log().Info("device scan started")
	return nil
}

// Vibrate sends a vibration command to a device.
//
// Unknown devices are dropped silently. If the transport is absent, one
// synchronous reconnect is attempted before giving up. Strength is passed
// through unclamped; callers must pre-clamp to [0,1].
func (c *Client) Vibrate(deviceID uint32, strength float64) error {
	if !c.registry.has(deviceID) {
		c.log().Debug("vibrate dropped, unknown device", "device", deviceID)
		return nil
	}

	if !c.hasTransport() {
		c.log().Info("transport absent, reconnecting before command")
		if err := c.Connect(); err != nil {
			return nil
		}
		if !c.hasTransport() || !c.registry.has(deviceID) {
			return nil
		}
	}

	id := c.msgID.Add(1)
	data, err := encodeVibrate(id, deviceID, strength)
	if err != nil {
		return err
	}

	if err := c.send(data); err != nil {
		// Drop the transport; the next command or the listener retries.
		c.log().Warn("vibrate send failed", "device", deviceID, "error", err)
		c.clearTransport(c.gen.Load())
		return nil
	}

	c.commandsTx.Add(1)
	c.log().Debug("vibrate sent", "device", deviceID, "strength", strength, "message_id", id)
	return nil
}

// Stroke sends a linear movement command to a device.
// No-op unless the link is Ready and the device is known. Uses the
// reserved system message identifier.
func (c *Client) Stroke(deviceID uint32, position float64, durationMs int) error {
	if c.State() != StateReady || !c.registry.has(deviceID) {
		return nil
	}

	data, err := encodeStroke(deviceID, position, durationMs)
	if err != nil {
		return err
	}

	if err := c.send(data); err != nil {
		c.log().Warn("stroke send failed", "device", deviceID, "error", err)
		return nil
	}

	c.commandsTx.Add(1)
	c.log().Debug("stroke sent", "device", deviceID, "position", position, "duration_ms", durationMs)
	return nil
}

// send writes one frame to the transport under the single-writer lock.
func (c *Client) send(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(data, time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.touch()
	return nil
}

// clearTransport flags the link down and drops the transport handle if it
// still belongs to the given generation. A newer generation means a
// reconnect already replaced the transport; leave it alone.
func (c *Client) clearTransport(gen uint64) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.gen.Load() != gen {
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setState(StateDisconnected)
}

// hasTransport reports whether a transport handle is present.
func (c *Client) hasTransport() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// sleepInterruptible waits for the duration or until the client closes.
func (c *Client) sleepInterruptible(d time.Duration) {
	select {
	case <-c.done.Done():
	case <-time.After(d):
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts the client down: stops the listener and heartbeat, then
// releases the transport. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	c.log().Info("device link closed")
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the link is Ready for commands.
func (c *Client) IsConnected() bool {
	return c.State() == StateReady
}

// Devices returns a snapshot of all known devices, sorted by index.
func (c *Client) Devices() []Device {
	return c.registry.snapshot()
}

// DeviceIDs returns the indices of all known devices, sorted ascending.
// CommandRouter fans out over this snapshot, so a registry mutation
// mid-iteration cannot crash or duplicate a send.
func (c *Client) DeviceIDs() []uint32 {
	return c.registry.ids()
}

// DeviceCount returns the number of known devices.
func (c *Client) DeviceCount() int {
	return c.registry.count()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		State:          c.State(),
		Devices:        c.registry.count(),
		CommandsTx:     c.commandsTx.Load(),
		MessagesRx:     c.messagesRx.Load(),
		ProtocolErrors: c.protocolErrors.Load(),
		Reconnects:     c.reconnects.Load(),
		LastActivity:   time.Unix(c.lastActivity.Load(), 0),
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
