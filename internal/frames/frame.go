// Package frames defines the structured frame unit produced by the
// acquisition pipeline and the incremental builder that extracts frames
// from the raw device stream.
package frames

import (
	"encoding/json"
	"time"
)

// Frame is one finalized unit of structured data.
type Frame struct {
	// Seq increases by one per extracted frame, starting at 1.
	Seq uint64
	// ReceivedAt is when the closing delimiter was seen.
	ReceivedAt time.Time
	// Payload is always a non-empty valid JSON value. Everything
	// downstream of the builder treats it as opaque.
	Payload json.RawMessage
}
