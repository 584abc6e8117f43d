package testclient

import (
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/notify"
	"github.com/lakeshorelabs/groundstation/internal/plugins"
)

type captureSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *captureSink) WriteData(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *captureSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func startBroadcastServer(t *testing.T) (*plugins.Server, *captureSink, string) {
	t.Helper()

	cfg := config.DefaultConfig().Plugins
	cfg.Port = 0

	sink := &captureSink{}
	server := plugins.NewServer(cfg, sink, notify.LogNotifier{})
	if !server.Listening() {
		t.Fatal("broadcast server failed to bind an ephemeral port")
	}
	server.Start()
	server.SetEnabled(true)
	t.Cleanup(server.Shutdown)

	_, port, err := net.SplitHostPort(server.Addr())
	if err != nil {
		t.Fatalf("Failed to parse server address %q: %v", server.Addr(), err)
	}
	return server, sink, net.JoinHostPort("127.0.0.1", port)
}

func waitForConnections(t *testing.T, server *plugins.Server, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for server.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Server never reached %d connections, have %d", want, server.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientReceivesFrameBatches(t *testing.T) {
	server, _, addr := startBroadcastServer(t)

	client, err := Connect("batch-reader", addr)
	if err != nil {
		t.Fatalf("Failed to connect test client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	waitForConnections(t, server, 1)

	server.RegisterFrame(frames.Frame{Seq: 1, ReceivedAt: time.Now(), Payload: json.RawMessage(`{"volts":3.3}`)})
	server.RegisterFrame(frames.Frame{Seq: 2, ReceivedAt: time.Now(), Payload: json.RawMessage(`{"volts":3.2}`)})
	server.BroadcastPending()

	if !client.WaitForMessages(1, 2*time.Second) {
		t.Fatal("Client never received the frame batch")
	}

	batches := client.FrameBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("Expected 2 frames in batch, got %d", len(batches[0]))
	}
	if string(batches[0][0]) != `{"volts":3.3}` || string(batches[0][1]) != `{"volts":3.2}` {
		t.Errorf("Batch payloads out of order or corrupted: %s, %s", batches[0][0], batches[0][1])
	}

	if !client.WaitForFrame(`"volts":3.2`, time.Second) {
		t.Error("WaitForFrame failed to find a delivered payload")
	}
}

func TestClientReceivesRawChunks(t *testing.T) {
	server, _, addr := startBroadcastServer(t)

	client, err := Connect("raw-reader", addr)
	if err != nil {
		t.Fatalf("Failed to connect test client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	waitForConnections(t, server, 1)

	server.BroadcastRaw([]byte("hello world"))

	if !client.WaitForMessages(1, 2*time.Second) {
		t.Fatal("Client never received the raw chunk")
	}

	chunks := client.RawChunks()
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 raw chunk, got %d", len(chunks))
	}
	if string(chunks[0]) != "hello world" {
		t.Errorf("Raw chunk corrupted: got %q", chunks[0])
	}
}

func TestClientSendReachesSink(t *testing.T) {
	server, sink, addr := startBroadcastServer(t)

	client, err := Connect("commander", addr)
	if err != nil {
		t.Fatalf("Failed to connect test client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	waitForConnections(t, server, 1)

	if err := client.SendLine("set-rate 10"); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.String() != "set-rate 10\n" {
		if time.Now().After(deadline) {
			t.Fatalf("Sink never received the command, have %q", sink.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientClearAndClose(t *testing.T) {
	server, _, addr := startBroadcastServer(t)

	client, err := Connect("janitor", addr)
	if err != nil {
		t.Fatalf("Failed to connect test client: %v", err)
	}
	waitForConnections(t, server, 1)

	server.BroadcastRaw([]byte("ping"))
	if !client.WaitForMessages(1, 2*time.Second) {
		t.Fatal("Client never received the chunk")
	}

	client.ClearMessages()
	if len(client.Messages()) != 0 {
		t.Error("ClearMessages left envelopes behind")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}
}
