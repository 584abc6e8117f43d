package plugins

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/frames"
)

func testFrame(payload string) frames.Frame {
	return frames.Frame{
		ReceivedAt: time.Now(),
		Payload:    json.RawMessage(payload),
	}
}

// idleTransport satisfies transport for registry-injected test
// connections. Reads block until the gate closes.
type idleTransport struct {
	gate     chan struct{}
	writeErr error
}

func newIdleTransport() *idleTransport {
	return &idleTransport{gate: make(chan struct{})}
}

func (t *idleTransport) ReadChunk() ([]byte, error) {
	<-t.gate
	return nil, io.EOF
}

func (t *idleTransport) Write(p []byte) error {
	return t.writeErr
}

func (t *idleTransport) Close() error {
	select {
	case <-t.gate:
	default:
		close(t.gate)
	}
	return nil
}

func (t *idleTransport) Abort() error {
	return t.Close()
}

func (t *idleTransport) RemoteAddr() string {
	return "test:0"
}

// injectConn plants a connection straight into the registry, bypassing the
// listener. No writer goroutine is started unless runWriter is set.
func injectConn(s *Server, tr transport, sendBuffer int, runWriter bool) *conn {
	c := newConn(tr, sendBuffer)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	if runWriter {
		go c.writeLoop()
	}
	return c
}

func TestTickBroadcastsBufferedFramesInOrder(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	first := connectPlugin(t, s)
	second := connectPlugin(t, s)
	waitForConnections(t, s, 2)

	s.RegisterFrame(testFrame(`{"seq":1}`))
	s.RegisterFrame(testFrame(`{"seq":2}`))
	s.RegisterFrame(testFrame(`{"seq":3}`))

	s.BroadcastPending()

	want := `{"frames":[{"data":{"seq":1}},{"data":{"seq":2}},{"data":{"seq":3}}]}` + "\n"
	for i, plugin := range []*testPlugin{first, second} {
		if got := plugin.readLine(t); got != want {
			t.Errorf("Plugin %d received %q, want %q", i, got, want)
		}
	}

	if got := s.PendingFrames(); got != 0 {
		t.Errorf("PendingFrames() = %d after broadcast, want 0", got)
	}

	// A second tick with nothing buffered sends nothing.
	s.BroadcastPending()
	first.assertSilent(t, 150*time.Millisecond)
	second.assertSilent(t, 150*time.Millisecond)
}

func TestTickWithoutConnectionsRetainsFrames(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	s.RegisterFrame(testFrame(`{"alt":120.5}`))
	s.BroadcastPending()

	if got := s.PendingFrames(); got != 1 {
		t.Fatalf("PendingFrames() = %d after a tick with no plugins, want 1", got)
	}

	plugin := connectPlugin(t, s)
	waitForConnections(t, s, 1)

	s.BroadcastPending()
	want := `{"frames":[{"data":{"alt":120.5}}]}` + "\n"
	if got := plugin.readLine(t); got != want {
		t.Errorf("Plugin received %q, want %q", got, want)
	}
}

func TestDisabledServerStaysSilent(t *testing.T) {
	s, _, notifier := newTestServer(t, nil)
	s.SetEnabled(true)

	plugin := connectPlugin(t, s)
	waitForConnections(t, s, 1)

	// Flag down, connection still registered: the dormant window.
	setEnabledFlag(s, false)

	s.RegisterFrame(testFrame(`{"dropped":true}`))
	s.BroadcastRaw([]byte("dropped"))
	s.BroadcastPending()

	plugin.assertSilent(t, 150*time.Millisecond)
	if got := s.PendingFrames(); got != 0 {
		t.Errorf("PendingFrames() = %d, want 0 (frames dropped while disabled)", got)
	}
	if got := notifier.count(); got != 0 {
		t.Errorf("Notifier received %d reports, want 0", got)
	}
}

func TestFramesDroppedWhileDisabledNeverReappear(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	// Registered against a disabled server: dropped on the floor.
	s.RegisterFrame(testFrame(`{"stale":true}`))
	if got := s.PendingFrames(); got != 0 {
		t.Fatalf("PendingFrames() = %d while disabled, want 0", got)
	}

	s.SetEnabled(true)
	plugin := connectPlugin(t, s)
	waitForConnections(t, s, 1)

	s.RegisterFrame(testFrame(`{"fresh":true}`))
	s.BroadcastPending()

	want := `{"frames":[{"data":{"fresh":true}}]}` + "\n"
	if got := plugin.readLine(t); got != want {
		t.Errorf("Plugin received %q, want %q", got, want)
	}
}

func TestRawPassthroughIsImmediate(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	first := connectPlugin(t, s)
	second := connectPlugin(t, s)
	waitForConnections(t, s, 2)

	// No tick anywhere in sight; the chunk must arrive on its own.
	s.BroadcastRaw([]byte("hello world"))

	want := `{"data":"aGVsbG8gd29ybGQ="}` + "\n"
	for i, plugin := range []*testPlugin{first, second} {
		if got := plugin.readLine(t); got != want {
			t.Errorf("Plugin %d received %q, want %q", i, got, want)
		}
	}

	// One message per event.
	s.BroadcastRaw([]byte("hello world"))
	for _, plugin := range []*testPlugin{first, second} {
		if got := plugin.readLine(t); got != want {
			t.Errorf("Second event: plugin received %q, want %q", got, want)
		}
	}
	first.assertSilent(t, 150*time.Millisecond)
}

func TestRawPassthroughNeedsAConnection(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	// No plugins: the chunk is dropped, nothing buffers it for later.
	s.BroadcastRaw([]byte("unseen"))

	plugin := connectPlugin(t, s)
	waitForConnections(t, s, 1)
	plugin.assertSilent(t, 150*time.Millisecond)
}

func TestUnwritablePluginIsSkipped(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	writable := connectPlugin(t, s)
	waitForConnections(t, s, 1)

	// A connection with a full send queue and no writer draining it:
	// permanently unwritable.
	stuck := injectConn(s, newIdleTransport(), 1, false)
	stuck.enqueue([]byte("plug"))

	s.RegisterFrame(testFrame(`{"id":1}`))
	s.RegisterFrame(testFrame(`{"id":2}`))
	s.RegisterFrame(testFrame(`{"id":3}`))

	s.BroadcastPending()

	want := `{"frames":[{"data":{"id":1}},{"data":{"id":2}},{"data":{"id":3}}]}` + "\n"
	if got := writable.readLine(t); got != want {
		t.Errorf("Writable plugin received %q, want %q", got, want)
	}

	if got := len(stuck.send); got != 1 {
		t.Errorf("Unwritable plugin queue holds %d messages, want the 1 plug", got)
	}
	if got := s.PendingFrames(); got != 0 {
		t.Errorf("PendingFrames() = %d after the tick, want 0", got)
	}
}

func TestWriteFailureDoesNotRemoveConnection(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetEnabled(true)

	tr := newIdleTransport()
	tr.writeErr = io.ErrClosedPipe
	injectConn(s, tr, 4, true)

	s.BroadcastRaw([]byte("doomed"))

	time.Sleep(100 * time.Millisecond)
	if got := s.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d after a write failure, want 1", got)
	}
}
