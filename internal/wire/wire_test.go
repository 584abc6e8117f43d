package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeFrameBatch(t *testing.T) {
	payloads := []json.RawMessage{
		json.RawMessage(`{"temp":23.4}`),
		json.RawMessage(`{"temp":23.9}`),
		json.RawMessage(`"plain-string-frame"`),
	}

	out, err := EncodeFrameBatch(payloads)
	if err != nil {
		t.Fatalf("EncodeFrameBatch returned error: %v", err)
	}

	want := `{"frames":[{"data":{"temp":23.4}},{"data":{"temp":23.9}},{"data":"plain-string-frame"}]}` + "\n"
	if string(out) != want {
		t.Errorf("EncodeFrameBatch = %q, want %q", out, want)
	}
	if !bytes.HasSuffix(out, []byte("\n")) {
		t.Error("Batch envelope missing newline terminator")
	}
}

func TestEncodeFrameBatchEmpty(t *testing.T) {
	if _, err := EncodeFrameBatch(nil); err != ErrEmptyBatch {
		t.Errorf("EncodeFrameBatch(nil) error = %v, want ErrEmptyBatch", err)
	}
}

func TestEncodeFrameBatchInvalidPayload(t *testing.T) {
	// A truncated raw message must surface as an error, not a panic
	if _, err := EncodeFrameBatch([]json.RawMessage{json.RawMessage(`{"half":`)}); err == nil {
		t.Error("EncodeFrameBatch accepted an invalid JSON payload")
	}
}

func TestEncodeRawChunk(t *testing.T) {
	out := EncodeRawChunk([]byte("hello\x00world"))

	want := `{"data":"aGVsbG8Ad29ybGQ="}` + "\n"
	if string(out) != want {
		t.Errorf("EncodeRawChunk = %q, want %q", out, want)
	}
}

func TestDecodeFrameBatch(t *testing.T) {
	line := []byte(`{"frames":[{"data":{"v":1}},{"data":{"v":2}}]}` + "\n")

	msg, err := DecodeMessage(line)
	if err != nil {
		t.Fatalf("DecodeMessage returned error: %v", err)
	}

	if msg.Kind != KindFrameBatch {
		t.Fatalf("Kind = %v, want KindFrameBatch", msg.Kind)
	}
	if len(msg.Frames) != 2 {
		t.Fatalf("Decoded %d frames, want 2", len(msg.Frames))
	}
	if string(msg.Frames[0]) != `{"v":1}` {
		t.Errorf("First frame = %s, want {\"v\":1}", msg.Frames[0])
	}
	if string(msg.Frames[1]) != `{"v":2}` {
		t.Errorf("Second frame = %s, want {\"v\":2}", msg.Frames[1])
	}
}

func TestDecodeRawChunk(t *testing.T) {
	line := EncodeRawChunk([]byte{0x01, 0x02, 0xFF})

	msg, err := DecodeMessage(line)
	if err != nil {
		t.Fatalf("DecodeMessage returned error: %v", err)
	}

	if msg.Kind != KindRawChunk {
		t.Fatalf("Kind = %v, want KindRawChunk", msg.Kind)
	}
	if !bytes.Equal(msg.Raw, []byte{0x01, 0x02, 0xFF}) {
		t.Errorf("Raw = %v, want [1 2 255]", msg.Raw)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"not json", "telemetry without envelope\n"},
		{"unknown shape", `{"other":"field"}`},
		{"bad base64", `{"data":"not_base64!!!"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(tt.line)); err == nil {
				t.Errorf("DecodeMessage(%q) accepted invalid input", tt.line)
			}
		})
	}
}

func TestRoundTripPreservesOrder(t *testing.T) {
	payloads := []json.RawMessage{
		json.RawMessage(`1`),
		json.RawMessage(`2`),
		json.RawMessage(`3`),
	}

	line, err := EncodeFrameBatch(payloads)
	if err != nil {
		t.Fatalf("EncodeFrameBatch returned error: %v", err)
	}

	msg, err := DecodeMessage(line)
	if err != nil {
		t.Fatalf("DecodeMessage returned error: %v", err)
	}

	for i, p := range payloads {
		if string(msg.Frames[i]) != string(p) {
			t.Errorf("Frame %d = %s, want %s", i, msg.Frames[i], p)
		}
	}
}
