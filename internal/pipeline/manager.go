package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lakeshorelabs/groundstation/internal/bus"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/logger"
)

// readBufferSize is the scratch buffer for a single device read.
const readBufferSize = 4096

// Manager runs the acquisition pipeline. It owns the device driver, feeds
// incoming chunks to the frame builder, republishes the same chunks on a
// raw bus for passthrough consumers, and accepts reverse-channel writes
// destined for the device.
type Manager struct {
	driver  Driver
	builder *frames.Builder
	raw     *bus.Bus[[]byte]

	linkUp    atomic.Bool
	closeOnce sync.Once
}

func NewManager(driver Driver, builder *frames.Builder) *Manager {
	return &Manager{
		driver:  driver,
		builder: builder,
		raw:     bus.New[[]byte](),
	}
}

// Frames exposes the builder's output bus.
func (m *Manager) Frames() *bus.Bus[frames.Frame] {
	return m.builder.Bus()
}

// Raw exposes unparsed device chunks in arrival order.
func (m *Manager) Raw() *bus.Bus[[]byte] {
	return m.raw
}

// LinkUp reports whether the device link is currently established.
func (m *Manager) LinkUp() bool {
	return m.linkUp.Load()
}

// Description identifies the underlying link for logs and status reports.
func (m *Manager) Description() string {
	return m.driver.Description()
}

// Start opens the device link and begins pumping bytes. The read loop runs
// until the link fails or the context is cancelled; the manager does not
// reconnect on its own.
func (m *Manager) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := m.driver.Open(ctx); err != nil {
		return fmt.Errorf("failed to open device link: %w", err)
	}
	m.linkUp.Store(true)
	logger.Info("Device link established", "link", m.driver.Description())

	wg.Add(2)
	go m.readLoop(wg)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		m.Close()
	}()
	return nil
}

func (m *Manager) readLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := m.driver.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			m.raw.Publish(chunk)
			m.builder.Feed(chunk)
		}
		if err != nil {
			// Close flips linkUp before closing the socket, so a read
			// failing during shutdown lands on the quiet path.
			if m.linkUp.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, ErrLinkDown) {
				logger.Error("Device link read failed", "link", m.driver.Description(), "error", err)
			} else {
				logger.Info("Device link closed", "link", m.driver.Description())
			}
			m.linkUp.Store(false)
			return
		}
	}
}

// WriteData sends plugin-originated bytes to the device. It is the sink
// behind the plugin reverse channel.
func (m *Manager) WriteData(p []byte) (int, error) {
	return m.driver.Write(p)
}

// Close tears down the device link. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.linkUp.Store(false)
		if err := m.driver.Close(); err != nil {
			logger.Debug("Device link close", "error", err)
		}
	})
}
