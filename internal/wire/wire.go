// Package wire implements the line-delimited JSON envelopes spoken on the
// plugin endpoint. Every message is one compact JSON document terminated
// by a single newline, so plugin authors need exactly one line-oriented
// parser for both message kinds.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies which envelope a decoded line carried.
type Kind int

const (
	// KindFrameBatch is the periodic broadcast of buffered frames.
	KindFrameBatch Kind = iota + 1
	// KindRawChunk is an immediate passthrough of raw pipeline bytes.
	KindRawChunk
)

// ErrEmptyBatch is returned when a frame batch is encoded with no frames.
var ErrEmptyBatch = errors.New("frame batch contains no frames")

// frameEntry is one buffered frame inside a batch envelope.
type frameEntry struct {
	Data json.RawMessage `json:"data"`
}

// frameBatch is the on-wire shape of a batched frame broadcast:
// {"frames":[{"data":...}, ...]}
type frameBatch struct {
	Frames []frameEntry `json:"frames"`
}

// rawChunk is the on-wire shape of a passthrough message:
// {"data":"<base64>"}
type rawChunk struct {
	Data string `json:"data"`
}

// EncodeFrameBatch serializes frame payloads, preserving order, into one
// newline-terminated batch envelope. Payloads must be valid JSON values.
func EncodeFrameBatch(payloads []json.RawMessage) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyBatch
	}

	batch := frameBatch{Frames: make([]frameEntry, len(payloads))}
	for i, p := range payloads {
		batch.Frames[i] = frameEntry{Data: p}
	}

	out, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame batch: %w", err)
	}
	return append(out, '\n'), nil
}

// EncodeRawChunk wraps raw bytes in the newline-terminated base64
// passthrough envelope.
func EncodeRawChunk(chunk []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(chunk)
	// marshaling a struct holding one plain string cannot fail
	out, _ := json.Marshal(rawChunk{Data: encoded})
	return append(out, '\n')
}

// Message is one decoded line from the plugin endpoint.
type Message struct {
	Kind Kind
	// Frames holds the batched frame payloads, in broadcast order.
	// Set only for KindFrameBatch.
	Frames []json.RawMessage
	// Raw holds the decoded passthrough bytes. Set only for KindRawChunk.
	Raw []byte
}

// envelope covers both wire shapes for decoding; the populated field
// decides the kind.
type envelope struct {
	Frames []frameEntry `json:"frames"`
	Data   *string      `json:"data"`
}

// DecodeMessage parses one line (with or without its trailing newline)
// into a Message.
func DecodeMessage(line []byte) (*Message, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, errors.New("empty message line")
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	switch {
	case env.Frames != nil:
		msg := &Message{Kind: KindFrameBatch, Frames: make([]json.RawMessage, len(env.Frames))}
		for i, entry := range env.Frames {
			msg.Frames[i] = entry.Data
		}
		return msg, nil
	case env.Data != nil:
		raw, err := base64.StdEncoding.DecodeString(*env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode raw chunk: %w", err)
		}
		return &Message{Kind: KindRawChunk, Raw: raw}, nil
	default:
		return nil, fmt.Errorf("unrecognized envelope: %s", line)
	}
}
