package frames

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/bus"
	"github.com/lakeshorelabs/groundstation/internal/logger"
)

const (
	// DefaultEndDelimiter closes a frame when the device does not
	// declare its own framing.
	DefaultEndDelimiter = "\n"
	// DefaultMaxFrameSize bounds how much undelimited data the builder
	// accumulates before declaring the stream out of sync.
	DefaultMaxFrameSize = 64 * 1024
)

// BuilderConfig controls frame extraction.
type BuilderConfig struct {
	// StartDelimiter, when non-empty, marks where a frame begins; bytes
	// before it are discarded. Empty means frames are separated by the
	// end delimiter alone.
	StartDelimiter string
	// EndDelimiter marks where a frame ends. Defaults to "\n".
	EndDelimiter string
	// MaxFrameSize caps the bytes buffered while waiting for a
	// delimiter. Defaults to DefaultMaxFrameSize.
	MaxFrameSize int
}

// Builder extracts delimited frames from the device byte stream and
// publishes them on its frame bus. Feed is not safe for concurrent use;
// the pipeline read loop is its only caller.
type Builder struct {
	start   []byte
	end     []byte
	maxSize int
	out     *bus.Bus[Frame]

	buf        []byte
	discarding bool
	seq        atomic.Uint64
}

// NewBuilder creates a builder with the given extraction settings,
// applying defaults for anything unset.
func NewBuilder(cfg BuilderConfig) *Builder {
	end := []byte(cfg.EndDelimiter)
	if len(end) == 0 {
		end = []byte(DefaultEndDelimiter)
	}
	maxSize := cfg.MaxFrameSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	return &Builder{
		start:   []byte(cfg.StartDelimiter),
		end:     end,
		maxSize: maxSize,
		out:     bus.New[Frame](),
	}
}

// Bus returns the bus completed frames are published on.
func (b *Builder) Bus() *bus.Bus[Frame] {
	return b.out
}

// Extracted returns the number of frames extracted so far.
func (b *Builder) Extracted() uint64 {
	return b.seq.Load()
}

// Feed consumes the next chunk from the device stream, publishing every
// complete frame it uncovers in stream order.
func (b *Builder) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.buf = append(b.buf, chunk...)

	for {
		// After an overflow everything up to the next end delimiter is
		// the tail of the oversized frame; drop it to resynchronize.
		if b.discarding {
			idx := bytes.Index(b.buf, b.end)
			if idx < 0 {
				b.buf = nil
				return
			}
			b.buf = b.buf[idx+len(b.end):]
			b.discarding = false
		}

		payload, ok := b.next()
		if !ok {
			break
		}
		b.emit(payload)
	}

	if len(b.buf) > b.maxSize {
		logger.Warning("Discarding oversized frame", "buffered", len(b.buf), "max", b.maxSize)
		b.buf = nil
		b.discarding = true
	}
}

// next extracts the earliest complete frame from the accumulated data.
// The returned payload aliases the internal buffer; emit copies it.
func (b *Builder) next() ([]byte, bool) {
	search := b.buf
	if len(b.start) > 0 {
		idx := bytes.Index(b.buf, b.start)
		if idx < 0 {
			return nil, false
		}
		search = b.buf[idx+len(b.start):]
	}

	endIdx := bytes.Index(search, b.end)
	if endIdx < 0 {
		return nil, false
	}

	payload := search[:endIdx]
	b.buf = search[endIdx+len(b.end):]
	return payload, true
}

// emit publishes one extracted payload as a finalized frame. Frames with
// no content between delimiters are skipped.
func (b *Builder) emit(payload []byte) {
	if bytes.Equal(b.end, []byte("\n")) {
		payload = bytes.TrimSuffix(payload, []byte("\r"))
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return
	}

	frame := Frame{
		Seq:        b.seq.Add(1),
		ReceivedAt: time.Now(),
		Payload:    jsonPayload(payload),
	}
	b.out.Publish(frame)
}

// jsonPayload returns the extracted bytes as a JSON value: a JSON
// document passes through verbatim, anything else is wrapped as a JSON
// string.
func jsonPayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(bytes.Clone(payload))
	}
	// marshaling a Go string cannot fail; invalid UTF-8 is coerced
	wrapped, _ := json.Marshal(string(payload))
	return wrapped
}
