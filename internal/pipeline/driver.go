package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/config"
)

// ErrLinkDown is returned by Read and Write when the device link has not
// been opened yet or has already been closed.
var ErrLinkDown = errors.New("device link is down")

// dialTimeout bounds how long Open waits for the device to answer.
const dialTimeout = 10 * time.Second

// Driver is a byte-stream link to the acquisition device. Implementations
// own their connection state and must be safe for one reader and one
// writer running concurrently.
type Driver interface {
	// Open establishes the link. It may be called again after Close.
	Open(ctx context.Context) error

	// Read blocks until device bytes arrive or the link fails.
	Read(p []byte) (int, error)

	// Write sends bytes to the device.
	Write(p []byte) (int, error)

	// Close tears the link down. Blocked Reads return after Close.
	Close() error

	// Description identifies the link for logs, e.g. "tcp://host:port".
	Description() string
}

// NewDriver builds the driver selected by the device configuration.
func NewDriver(cfg config.DeviceConfig) (Driver, error) {
	switch cfg.Driver {
	case "tcp":
		return NewTCPDriver(cfg.Address), nil
	case "udp":
		return NewUDPDriver(cfg.Address), nil
	default:
		return nil, fmt.Errorf("unknown device driver %q", cfg.Driver)
	}
}

// TCPDriver speaks to a device that exposes its telemetry as a TCP stream.
type TCPDriver struct {
	address string

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPDriver(address string) *TCPDriver {
	return &TCPDriver{address: address}
}

func (d *TCPDriver) Open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return fmt.Errorf("failed to dial device at %s: %w", d.address, err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

func (d *TCPDriver) Read(p []byte) (int, error) {
	conn := d.current()
	if conn == nil {
		return 0, ErrLinkDown
	}
	return conn.Read(p)
}

func (d *TCPDriver) Write(p []byte) (int, error) {
	conn := d.current()
	if conn == nil {
		return 0, ErrLinkDown
	}
	return conn.Write(p)
}

func (d *TCPDriver) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (d *TCPDriver) Description() string {
	return "tcp://" + d.address
}

func (d *TCPDriver) current() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// UDPDriver speaks to a device that emits telemetry as UDP datagrams. The
// socket is connected so reads only accept the configured peer and writes
// have a destination.
type UDPDriver struct {
	address string

	mu   sync.Mutex
	conn net.Conn
}

func NewUDPDriver(address string) *UDPDriver {
	return &UDPDriver{address: address}
}

func (d *UDPDriver) Open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "udp", d.address)
	if err != nil {
		return fmt.Errorf("failed to dial device at %s: %w", d.address, err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

// Read returns one datagram. Datagrams larger than p are truncated.
func (d *UDPDriver) Read(p []byte) (int, error) {
	conn := d.current()
	if conn == nil {
		return 0, ErrLinkDown
	}
	return conn.Read(p)
}

func (d *UDPDriver) Write(p []byte) (int, error) {
	conn := d.current()
	if conn == nil {
		return 0, ErrLinkDown
	}
	return conn.Write(p)
}

func (d *UDPDriver) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (d *UDPDriver) Description() string {
	return "udp://" + d.address
}

func (d *UDPDriver) current() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}
