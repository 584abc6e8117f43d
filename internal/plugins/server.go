package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lakeshorelabs/groundstation/internal/bus"
	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/logger"
	"github.com/lakeshorelabs/groundstation/internal/notify"
	"github.com/lakeshorelabs/groundstation/internal/wire"
)

// DataSink receives reverse-channel bytes from plugins. The acquisition
// pipeline implements it.
type DataSink interface {
	WriteData(p []byte) (int, error)
}

// Server is the plugin broadcast endpoint. It owns the listening socket,
// the registry of connected plugins, the pending-frame buffer and the
// enabled flag. The registry, buffer and flag are only ever touched with
// mu held, which gives every operation the same serialized view a
// single-threaded event loop would.
type Server struct {
	cfg      config.PluginsConfig
	sink     DataSink
	notifier notify.Notifier

	listener net.Listener

	mu      sync.Mutex
	conns   map[string]*conn
	pending []json.RawMessage
	enabled bool

	enabledBus *bus.Bus[bool]

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer binds the plugin endpoint on the configured port on all
// interfaces. A bind failure is reported through the notifier and leaves
// the server inert: not listening, never enabled, but safe to call.
func NewServer(cfg config.PluginsConfig, sink DataSink, notifier notify.Notifier) *Server {
	s := &Server{
		cfg:        cfg,
		sink:       sink,
		notifier:   notifier,
		conns:      make(map[string]*conn),
		enabledBus: bus.New[bool](),
		shutdown:   make(chan struct{}),
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.Error("Failed to bind plugin endpoint", "port", cfg.Port, "error", err)
		s.notifier.Report("Plugin server",
			fmt.Sprintf("Unable to listen on port %d: %v", cfg.Port, err),
			notify.SeverityWarning)
		return s
	}
	s.listener = listener
	return s
}

// Start begins accepting plugin connections on its own goroutine. Starting
// a server whose bind failed is a no-op.
func (s *Server) Start() {
	if s.listener == nil {
		return
	}

	logger.Info("Plugin endpoint listening", "address", s.listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.handleAcceptError(err)
			continue
		}

		s.adopt(newTCPTransport(netConn))
	}
}

// handleAcceptError surfaces a failed accept. While the endpoint is
// enabled this is a critical condition; while disabled it is only logged.
func (s *Server) handleAcceptError(err error) {
	logger.Error("Failed to accept plugin connection", "error", err)
	if s.Enabled() {
		s.notifier.Report("Plugin server",
			fmt.Sprintf("Invalid pending connection: %v", err),
			notify.SeverityCritical)
	}
}

// adopt registers a freshly accepted plugin connection. Connections that
// arrive while the endpoint is disabled, or past the client cap, are
// turned away on the spot.
func (s *Server) adopt(t transport) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		logger.Debug("Rejected plugin while disabled", "remote_addr", t.RemoteAddr())
		t.Abort()
		return
	}
	if s.cfg.MaxClients > 0 && len(s.conns) >= s.cfg.MaxClients {
		s.mu.Unlock()
		logger.Warning("Rejected plugin - connection limit reached",
			"remote_addr", t.RemoteAddr(),
			"max_clients", s.cfg.MaxClients)
		t.Abort()
		return
	}

	c := newConn(t, s.cfg.SendBuffer)
	s.conns[c.id] = c
	count := len(s.conns)
	s.mu.Unlock()

	logger.Info("Plugin connected",
		"plugin", c.id,
		"remote_addr", t.RemoteAddr(),
		"connections", count)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// AdoptWebSocket registers a WebSocket plugin handed over by the control
// API. It follows the same rules as TCP plugins: rejected while disabled,
// counted against the client cap, fed by both broadcast paths.
func (s *Server) AdoptWebSocket(wsConn *websocket.Conn) {
	s.adopt(newWSTransport(wsConn))
}

// readLoop owns the reverse channel for one plugin. Every chunk the plugin
// sends is forwarded to the pipeline sink while the endpoint is enabled
// and discarded while disabled. EOF ends the loop and removes the
// connection; read failures are logged first, then treated the same way.
func (s *Server) readLoop(c *conn) {
	for {
		chunk, err := c.transport.ReadChunk()
		if len(chunk) > 0 {
			s.forward(c, chunk)
		}
		if err != nil {
			var closeErr *websocket.CloseError
			quiet := errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closeErr)
			if !quiet {
				logger.Warning("Plugin socket error", "plugin", c.id, "error", err)
			}
			s.removeConn(c, "disconnected")
			return
		}
	}
}

// forward pushes reverse-channel bytes into the pipeline. Bytes that
// arrive while disabled are discarded without touching the sink; the
// connection itself stays registered.
func (s *Server) forward(c *conn, chunk []byte) {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()

	if !enabled {
		logger.Debug("Discarded plugin data while disabled", "plugin", c.id, "bytes", len(chunk))
		return
	}

	if _, err := s.sink.WriteData(chunk); err != nil {
		logger.Debug("Pipeline write failed", "plugin", c.id, "error", err)
	}
}

// removeConn drops a plugin from the registry. Safe to call for a plugin
// that is already gone.
func (s *Server) removeConn(c *conn, cause string) {
	s.mu.Lock()
	_, present := s.conns[c.id]
	delete(s.conns, c.id)
	count := len(s.conns)
	s.mu.Unlock()

	c.close(false)

	if present {
		logger.Info("Plugin disconnected",
			"plugin", c.id,
			"cause", cause,
			"connections", count)
	}
}

// RegisterFrame appends a finalized frame to the pending buffer for the
// next broadcast tick. Frames that arrive while the endpoint is disabled
// are dropped, never queued.
func (s *Server) RegisterFrame(frame frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	s.pending = append(s.pending, frame.Payload)
}

// BroadcastPending serializes every buffered frame into one envelope,
// offers it to every writable plugin and clears the buffer. Ticks that
// land while disabled, with nothing buffered, or with no plugins connected
// leave the buffer untouched, so frames survive a spurious tick.
func (s *Server) BroadcastPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	if len(s.pending) == 0 {
		return
	}
	if len(s.conns) == 0 {
		return
	}

	payload, err := wire.EncodeFrameBatch(s.pending)
	if err != nil {
		// A frame that cannot serialize would wedge the buffer forever.
		logger.Error("Failed to serialize frame batch", "frames", len(s.pending), "error", err)
		s.pending = nil
		return
	}

	delivered := 0
	for _, c := range s.conns {
		if c.enqueue(payload) {
			delivered++
		}
	}

	logger.Debug("Broadcast frame batch",
		"frames", len(s.pending),
		"delivered", delivered,
		"connections", len(s.conns))

	s.pending = nil
}

// BroadcastRaw offers one raw pipeline chunk to every writable plugin
// immediately, bypassing the pending buffer. Chunks are dropped when the
// endpoint is disabled or no plugins are connected.
func (s *Server) BroadcastRaw(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || len(s.conns) == 0 {
		return
	}

	payload := wire.EncodeRawChunk(chunk)
	for _, c := range s.conns {
		c.enqueue(payload)
	}
}

// SetEnabled arms or disarms the endpoint. Disabling aborts every plugin
// connection, empties the registry and discards buffered frames in one
// atomic step. Enabling only flips the flag. Repeating the current state
// does nothing and publishes no change.
func (s *Server) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled

	var victims []*conn
	if !enabled {
		victims = make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			victims = append(victims, c)
		}
		s.conns = make(map[string]*conn)
		s.pending = nil
	}
	s.mu.Unlock()

	for _, c := range victims {
		c.close(true)
	}

	if enabled {
		logger.Info("Plugin endpoint enabled")
	} else {
		logger.Info("Plugin endpoint disabled", "dropped_connections", len(victims))
	}

	s.enabledBus.Publish(enabled)
}

// Enabled reports whether the endpoint is currently armed.
func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// EnabledChanges exposes enable/disable transitions to observers.
func (s *Server) EnabledChanges() *bus.Bus[bool] {
	return s.enabledBus
}

// ConnectionCount returns the number of registered plugins.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// PendingFrames returns how many frames wait for the next tick.
func (s *Server) PendingFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Listening reports whether the endpoint holds its TCP port.
func (s *Server) Listening() bool {
	return s.listener != nil
}

// Addr returns the bound listen address, or "" when the bind failed.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Pump runs the event loop feeding the server from its collaborators:
// finalized frames, raw passthrough chunks and broadcast ticks. One
// goroutine drains all three channels, so mutations land in the order the
// events arrived.
func (s *Server) Pump(ctx context.Context, frameCh <-chan frames.Frame, rawCh <-chan []byte, tickCh <-chan time.Time, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frameCh:
				if !ok {
					frameCh = nil
					continue
				}
				s.RegisterFrame(frame)
			case chunk, ok := <-rawCh:
				if !ok {
					rawCh = nil
					continue
				}
				s.BroadcastRaw(chunk)
			case _, ok := <-tickCh:
				if !ok {
					tickCh = nil
					continue
				}
				s.BroadcastPending()
			}
		}
	}()
}

// Shutdown stops the endpoint for good: the listener closes, every plugin
// is dropped and the worker goroutines drain. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		s.SetEnabled(false)
		s.wg.Wait()
		logger.Info("Plugin endpoint stopped")
	})
}
