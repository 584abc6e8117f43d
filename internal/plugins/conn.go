package plugins

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/lakeshorelabs/groundstation/internal/logger"
)

// conn is one registered plugin connection. Outbound messages flow through
// a buffered send channel drained by a dedicated writer goroutine; a full
// channel means the plugin is not writable right now and the message is
// skipped for it.
type conn struct {
	id        string
	transport transport
	send      chan []byte
	closeOnce sync.Once
}

func newConn(t transport, sendBuffer int) *conn {
	return &conn{
		id:        uuid.NewString(),
		transport: t,
		send:      make(chan []byte, sendBuffer),
	}
}

// enqueue offers a message without blocking and reports whether the plugin
// accepted it.
func (c *conn) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close shuts the connection down once. abort skips graceful teardown and
// discards anything still queued in the kernel.
func (c *conn) close(abort bool) {
	c.closeOnce.Do(func() {
		close(c.send)

		var err error
		if abort {
			err = c.transport.Abort()
		} else {
			err = c.transport.Close()
		}
		if err != nil {
			logger.Debug("Plugin connection close", "plugin", c.id, "error", err)
		}
	})
}

// writeLoop drains the send channel until it is closed. Write failures are
// logged and the loop keeps going; only a disconnect removes the plugin.
func (c *conn) writeLoop() {
	for payload := range c.send {
		if err := c.transport.Write(payload); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warning("Plugin write failed", "plugin", c.id, "error", err)
		}
	}
}
