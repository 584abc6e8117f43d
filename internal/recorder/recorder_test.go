package recorder

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
)

func openTestRecorder(t *testing.T, retentionDays int) *Recorder {
	t.Helper()

	r, err := Open(config.RecorderConfig{
		Driver:        "sqlite",
		Path:          filepath.Join(t.TempDir(), "frames.db"),
		RetentionDays: retentionDays,
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func archivedFrame(seq uint64, receivedAt time.Time, payload string) frames.Frame {
	return frames.Frame{
		Seq:        seq,
		ReceivedAt: receivedAt,
		Payload:    json.RawMessage(payload),
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	r := openTestRecorder(t, 7)

	count, err := r.Count()
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("Fresh archive holds %d frames, want 0", count)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.RecorderConfig{Driver: "oracle"})
	if err == nil {
		t.Error("Open accepted an unknown driver")
	}
}

func TestRecordAndRecent(t *testing.T) {
	r := openTestRecorder(t, 0)

	now := time.Now()
	for i, payload := range []string{`{"t":1}`, `{"t":2}`, `{"t":3}`} {
		if err := r.Record(archivedFrame(uint64(i+1), now, payload)); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	count, err := r.Count()
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}

	recent, err := r.Recent(2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d frames", len(recent))
	}
	if recent[0].Payload != `{"t":3}` || recent[1].Payload != `{"t":2}` {
		t.Errorf("Recent(2) = [%s, %s], want newest first", recent[0].Payload, recent[1].Payload)
	}
	if recent[0].Seq != 3 {
		t.Errorf("Recent frame seq = %d, want 3", recent[0].Seq)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	r := openTestRecorder(t, 7)

	now := time.Now().UTC()
	stale := now.Add(-10 * 24 * time.Hour)

	if err := r.Record(archivedFrame(1, stale, `{"old":true}`)); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := r.Record(archivedFrame(2, now, `{"old":false}`)); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	removed, err := r.CleanupOlderThan(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("CleanupOlderThan returned error: %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupOlderThan removed %d frames, want 1", removed)
	}

	recent, err := r.Recent(10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 1 || recent[0].Payload != `{"old":false}` {
		t.Errorf("Archive after cleanup = %+v, want only the fresh frame", recent)
	}
}

func TestRunArchivesFromChannel(t *testing.T) {
	r := openTestRecorder(t, 0)

	frameCh := make(chan frames.Frame, 4)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Run(ctx, frameCh, &wg)

	frameCh <- archivedFrame(1, time.Now(), `{"a":1}`)
	frameCh <- archivedFrame(2, time.Now(), `{"a":2}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := r.Count()
		if err != nil {
			t.Fatalf("Count returned error: %v", err)
		}
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Archive holds %d frames, want 2", count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	wg.Wait()
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	r := openTestRecorder(t, 0)

	frameCh := make(chan frames.Frame)
	var wg sync.WaitGroup
	r.Run(context.Background(), frameCh, &wg)

	close(frameCh)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after the frame channel closed")
	}
}
