package plugins

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline bounds a single transport write so one stalled plugin
// cannot wedge its writer pump forever.
const writeDeadline = 2 * time.Second

// readBufferSize is the scratch buffer for a single reverse-channel read.
const readBufferSize = 4096

// transport abstracts one plugin connection regardless of how it arrived,
// raw TCP or WebSocket.
type transport interface {
	// ReadChunk blocks until the plugin sends bytes, then returns the
	// entire chunk that arrived.
	ReadChunk() ([]byte, error)

	// Write sends one complete message to the plugin.
	Write(p []byte) error

	// Close shuts the connection down gracefully.
	Close() error

	// Abort tears the connection down immediately, discarding unsent data.
	Abort() error

	// RemoteAddr identifies the peer for logs.
	RemoteAddr() string
}

type tcpTransport struct {
	conn net.Conn
	buf  []byte
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, buf: make([]byte, readBufferSize)}
}

func (t *tcpTransport) ReadChunk() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, t.buf[:n])
		return chunk, err
	}
	return nil, err
}

func (t *tcpTransport) Write(p []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := t.conn.Write(p)
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// Abort drops the connection without lingering on unsent data.
func (t *tcpTransport) Abort() error {
	if tcp, ok := t.conn.(*net.TCPConn); ok {
		tcp.SetLinger(0)
	}
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsTransport adapts a WebSocket connection handed over by the control
// API. Each wire message travels as one text message with its trailing
// newline kept, so WebSocket plugins parse the exact payload TCP plugins
// see.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadChunk() ([]byte, error) {
	_, message, err := t.conn.ReadMessage()
	return message, err
}

func (t *wsTransport) Write(p []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return t.conn.WriteMessage(websocket.TextMessage, p)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) Abort() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
