package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pulse-link-core/internal/router"
)

const serverInfoFrame = `[{"ServerInfo":{"MessageVersion":3,"ServerName":"Test Server"}}]`

const twoDeviceListFrame = `[{"DeviceList":{"Devices":[
	{"DeviceIndex":1,"DeviceName":"Toy A"},
	{"DeviceIndex":2,"DeviceName":"Toy B"}
]}}]`

// timeoutError mimics a read deadline expiry.
type timeoutError struct{}

func (timeoutError) Error() string   { return "read deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeConn is an in-memory Conn. Frames pushed into inbox are returned by
// ReadMessage; written frames are recorded for inspection.
type fakeConn struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    [][]byte
	pingErr error
}

func newFakeConn(prefill ...string) *fakeConn {
	fc := &fakeConn{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	for _, frame := range prefill {
		fc.inbox <- []byte(frame)
	}
	return fc
}

func (f *fakeConn) ReadMessage(deadline time.Time) ([]byte, error) {
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case data := <-f.inbox:
		return data, nil
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	case <-timer.C:
		return nil, timeoutError{}
	}
}

func (f *fakeConn) WriteMessage(data []byte, _ time.Time) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) Ping(_ time.Time) error {
	f.mu.Lock()
	err := f.pingErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
		return nil
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// framesByKey decodes recorded frames and returns the bodies sent under
// the given discriminator key, in send order.
func (f *fakeConn) framesByKey(t *testing.T, key string) []json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var bodies []json.RawMessage
	for _, data := range f.sent {
		var frame []map[string]json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("recorded frame is not valid wire format: %v", err)
		}
		for _, obj := range frame {
			if body, ok := obj[key]; ok {
				bodies = append(bodies, body)
			}
		}
	}
	return bodies
}

// dialScript hands out one fake conn per dial and counts attempts.
type dialScript struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *dialScript) dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *dialScript) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestClient(conns ...*fakeConn) (*Client, *dialScript) {
	script := &dialScript{conns: conns}
	c := New(Config{
		URL:            "ws://test:6969",
		ClientName:     "Test Bridge",
		ConnectTimeout: 500 * time.Millisecond,
	})
	c.SetDialer(script.dial)
	c.SetBackoffSleep(func(time.Duration) {})
	return c, script
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectHandshake(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, script := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != StateReady {
		t.Errorf("state = %v, want ready", c.State())
	}
	if script.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", script.dialCount())
	}

	if got := len(conn.framesByKey(t, "RequestServerInfo")); got != 1 {
		t.Errorf("handshake frames = %d, want 1", got)
	}
	if got := len(conn.framesByKey(t, "RequestDeviceList")); got != 1 {
		t.Errorf("device list request frames = %d, want 1", got)
	}
}

func TestConnectFailureIsSoft(t *testing.T) {
	c, _ := newTestClient() // dialer refuses everything
	defer c.Close()

	err := c.Connect()
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}

	// Commands while disconnected are silent no-ops, never panics.
	if err := c.Vibrate(1, 0.5); err != nil {
		t.Errorf("Vibrate while disconnected returned %v, want nil", err)
	}
	if err := c.Stroke(1, 0.5, 200); err != nil {
		t.Errorf("Stroke while disconnected returned %v, want nil", err)
	}
	if err := c.ScanDevices(); err != nil {
		t.Errorf("ScanDevices while disconnected returned %v, want nil", err)
	}
}

func TestDeviceRegistryDispatch(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, _ := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn.inbox <- []byte(twoDeviceListFrame)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "device list not applied")

	conn.inbox <- []byte(`[{"DeviceAdded":{"DeviceIndex":3,"DeviceName":"Toy C"}}]`)
	waitFor(t, func() bool { return c.DeviceCount() == 3 }, "DeviceAdded not applied")

	conn.inbox <- []byte(`[{"DeviceRemoved":{"DeviceIndex":1}}]`)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "DeviceRemoved not applied")

	// Unknown variants and malformed frames are dropped without side effects.
	conn.inbox <- []byte(`[{"SensorReading":{"DeviceIndex":3}}]`)
	conn.inbox <- []byte(`not json at all`)
	conn.inbox <- []byte(`[{"DeviceRemoved":{"DeviceIndex":42}}]`)
	waitFor(t, func() bool { return c.Stats().ProtocolErrors >= 1 }, "malformed frame not counted")
	if c.DeviceCount() != 2 {
		t.Errorf("device count = %d after junk frames, want 2", c.DeviceCount())
	}

	ids := c.DeviceIDs()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Errorf("ids = %v, want [2 3]", ids)
	}
}

func TestVibrateMessageIDsMonotonic(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, _ := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.inbox <- []byte(twoDeviceListFrame)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "device list not applied")

	if err := c.Vibrate(1, 0.5); err != nil {
		t.Fatalf("Vibrate failed: %v", err)
	}
	if err := c.Vibrate(2, 0.7); err != nil {
		t.Fatalf("Vibrate failed: %v", err)
	}

	// Unknown device: zero outbound commands.
	if err := c.Vibrate(99, 0.5); err != nil {
		t.Fatalf("Vibrate(unknown) failed: %v", err)
	}

	bodies := conn.framesByKey(t, "VibrateCmd")
	if len(bodies) != 2 {
		t.Fatalf("got %d VibrateCmd frames, want 2", len(bodies))
	}

	var first, second vibrateCmd
	if err := json.Unmarshal(bodies[0], &first); err != nil {
		t.Fatalf("decoding first vibrate: %v", err)
	}
	if err := json.Unmarshal(bodies[1], &second); err != nil {
		t.Fatalf("decoding second vibrate: %v", err)
	}

	// The identifier counter starts at 10, so the first command uses 11.
	if first.ID != 11 {
		t.Errorf("first message id = %d, want 11", first.ID)
	}
	if second.ID <= first.ID {
		t.Errorf("second message id = %d, want > %d", second.ID, first.ID)
	}
	if first.DeviceIndex != 1 || first.Speeds[0].Speed != 0.5 {
		t.Errorf("first command = %+v, want device 1 speed 0.5", first)
	}
}

func TestStrokeUsesSystemID(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, _ := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.inbox <- []byte(twoDeviceListFrame)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "device list not applied")

	if err := c.Stroke(1, 0.25, 300); err != nil {
		t.Fatalf("Stroke failed: %v", err)
	}
	if err := c.Stroke(42, 0.25, 300); err != nil {
		t.Fatalf("Stroke(unknown) failed: %v", err)
	}

	bodies := conn.framesByKey(t, "LinearCmd")
	if len(bodies) != 1 {
		t.Fatalf("got %d LinearCmd frames, want 1", len(bodies))
	}

	var cmd linearCmd
	if err := json.Unmarshal(bodies[0], &cmd); err != nil {
		t.Fatalf("decoding stroke: %v", err)
	}
	if cmd.ID != 0 {
		t.Errorf("stroke message id = %d, want reserved system id 0", cmd.ID)
	}
	if cmd.Vectors[0].Duration != 300 || cmd.Vectors[0].Position != 0.25 {
		t.Errorf("stroke vector = %+v, want duration 300 position 0.25", cmd.Vectors[0])
	}
}

func TestScanDevices(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, _ := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.ScanDevices(); err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}

	if got := len(conn.framesByKey(t, "StartScanning")); got != 1 {
		t.Errorf("got %d StartScanning frames, want 1", got)
	}
}

func TestListenerReconnectsAfterTransportClose(t *testing.T) {
	conn1 := newFakeConn(serverInfoFrame)
	conn2 := newFakeConn(serverInfoFrame)
	c, script := newTestClient(conn1, conn2)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn1.inbox <- []byte(twoDeviceListFrame)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "device list not applied")

	// Kill the transport; the listener reconnects after the backoff.
	conn1.Close()

	waitFor(t, func() bool {
		return script.dialCount() == 2 && c.State() == StateReady
	}, "client did not reconnect")

	if c.Stats().Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", c.Stats().Reconnects)
	}

	// Commands flow over the new transport.
	if err := c.Vibrate(1, 0.3); err != nil {
		t.Fatalf("Vibrate after reconnect failed: %v", err)
	}
	waitFor(t, func() bool {
		return len(conn2.framesByKey(t, "VibrateCmd")) == 1
	}, "vibrate not sent on new transport")
}

func TestHeartbeatFailureLeavesReconnectToListener(t *testing.T) {
	conn1 := newFakeConn(serverInfoFrame)
	conn2 := newFakeConn(serverInfoFrame)

	script := &dialScript{conns: []*fakeConn{conn1, conn2}}
	c := New(Config{
		URL:               "ws://test:6969",
		ClientName:        "Test Bridge",
		ConnectTimeout:    500 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	c.SetDialer(script.dial)
	c.SetBackoffSleep(func(time.Duration) {})
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Break the heartbeat. It flags the link down and closes the
	// transport; the listener notices the closed transport and owns the
	// reconnect.
	conn1.setPingErr(fmt.Errorf("broken pipe"))

	waitFor(t, func() bool {
		return script.dialCount() == 2 && c.State() == StateReady
	}, "heartbeat failure did not lead to listener reconnect")
}

func TestEndToEndSceneChangeFanOut(t *testing.T) {
	conn := newFakeConn(serverInfoFrame)
	c, _ := newTestClient(conn)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.inbox <- []byte(twoDeviceListFrame)
	waitFor(t, func() bool { return c.DeviceCount() == 2 }, "device list not applied")

	rt := router.New(c, 1.0)
	rt.OnSceneChange("high")

	bodies := conn.framesByKey(t, "VibrateCmd")
	if len(bodies) != 2 {
		t.Fatalf("got %d VibrateCmd frames, want 2", len(bodies))
	}

	seen := map[uint32]int{}
	for _, body := range bodies {
		var cmd vibrateCmd
		if err := json.Unmarshal(body, &cmd); err != nil {
			t.Fatalf("decoding vibrate: %v", err)
		}
		seen[cmd.DeviceIndex]++
		if cmd.Speeds[0].Speed != 0.9 {
			t.Errorf("device %d strength = %v, want 0.9", cmd.DeviceIndex, cmd.Speeds[0].Speed)
		}
	}
	if seen[1] != 1 || seen[2] != 1 {
		t.Errorf("per-device send counts = %v, want each exactly once", seen)
	}
}

// Connecting over an already-live link must close the replaced transport,
// and the retired listener must exit without dialing.
func TestConnectClosesReplacedTransport(t *testing.T) {
	conn1 := newFakeConn(serverInfoFrame)
	conn2 := newFakeConn(serverInfoFrame)
	c, script := newTestClient(conn1, conn2)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	select {
	case <-conn1.closed:
	default:
		t.Error("replaced transport left open")
	}

	if got := c.State(); got != StateReady {
		t.Errorf("state after replacement = %v, want %v", got, StateReady)
	}

	// Give the retired listener time to misbehave if it were going to.
	time.Sleep(50 * time.Millisecond)
	if got := script.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if got := c.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}
