// Package testclient provides a scripted plugin connection for exercising
// the broadcast endpoint from tests and tooling.
package testclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/wire"
)

// Client is a plugin-side connection to the broadcast endpoint. It decodes
// every envelope the server sends and keeps them for inspection.
type Client struct {
	Name      string
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	messages  []*wire.Message
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the broadcast endpoint and starts collecting envelopes.
func Connect(name, address string) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	client := &Client{
		Name:     name,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		messages: make([]*wire.Message, 0),
		done:     make(chan struct{}),
	}

	// Collect envelopes in the background.
	go client.readMessages()

	return client, nil
}

// readMessages reads newline-delimited envelopes until the connection drops.
func (c *Client) readMessages() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		default:
			line, err := c.reader.ReadBytes('\n')
			if err != nil {
				return
			}
			msg, err := wire.DecodeMessage(line)
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.messages = append(c.messages, msg)
			c.mu.Unlock()
		}
	}
}

// Send writes bytes up the reverse channel toward the device.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	return c.writer.Flush()
}

// SendLine sends a command with a trailing newline.
func (c *Client) SendLine(line string) error {
	return c.Send([]byte(line + "\n"))
}

// Messages returns a copy of every envelope received so far.
func (c *Client) Messages() []*wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*wire.Message, len(c.messages))
	copy(result, c.messages)
	return result
}

// FrameBatches returns the payload lists of every frame batch received,
// in arrival order.
func (c *Client) FrameBatches() [][]json.RawMessage {
	var batches [][]json.RawMessage
	for _, msg := range c.Messages() {
		if msg.Kind == wire.KindFrameBatch {
			batches = append(batches, msg.Frames)
		}
	}
	return batches
}

// RawChunks returns the decoded passthrough chunks received, in arrival
// order.
func (c *Client) RawChunks() [][]byte {
	var chunks [][]byte
	for _, msg := range c.Messages() {
		if msg.Kind == wire.KindRawChunk {
			chunks = append(chunks, msg.Raw)
		}
	}
	return chunks
}

// ClearMessages drops everything received so far.
func (c *Client) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
}

// WaitForMessages blocks until at least n envelopes have arrived or the
// timeout expires.
func (c *Client) WaitForMessages(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if len(c.Messages()) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}

	return false
}

// WaitForFrame blocks until a batched frame payload contains the given
// fragment or the timeout expires.
func (c *Client) WaitForFrame(fragment string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, batch := range c.FrameBatches() {
			for _, payload := range batch {
				if strings.Contains(string(payload), fragment) {
					return true
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	return false
}

// Done is closed once the connection is finished, either by Close or by
// the server dropping it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
