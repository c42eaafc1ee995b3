package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundforge/djengine/internal/types"
)

func TestRecorderLifecycleWritesWAVFile(t *testing.T) {
	store := openTestDB(t)
	dir := t.TempDir()
	rec := New(dir, store)

	if rec.Status() != types.RecordingIdle {
		t.Fatalf("expected an idle recorder before Start")
	}

	if err := rec.Start(types.FormatWAV); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status() != types.RecordingActive {
		t.Fatalf("expected an active recorder after Start")
	}

	frames := make([]float32, 2048) // 1024 stereo frames
	for i := range frames {
		frames[i] = 0.1
	}
	rec.Write(frames)

	// give the writer goroutine a tick to drain before stopping.
	time.Sleep(30 * time.Millisecond)

	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Status() != types.RecordingIdle {
		t.Fatalf("expected an idle recorder after Stop")
	}

	entries, err := store.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].EndedAt == 0 {
		t.Fatalf("expected the entry to be finished")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly 1 wav file, got %v err=%v", matches, err)
	}
	info, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() <= 44 {
		t.Fatalf("expected the wav file to contain audio data beyond the header, got %d bytes", info.Size())
	}
}

func TestRecorderWriteIsNoOpWhenIdle(t *testing.T) {
	store := openTestDB(t)
	rec := New(t.TempDir(), store)
	// Write before Start must not panic or block; it's simply dropped.
	rec.Write(make([]float32, 256))
	if rec.Status() != types.RecordingIdle {
		t.Fatalf("expected the recorder to remain idle")
	}
}

func TestRecorderStopWithoutStartFails(t *testing.T) {
	store := openTestDB(t)
	rec := New(t.TempDir(), store)
	if err := rec.Stop(); err == nil {
		t.Fatalf("expected an error stopping an idle recorder")
	}
}

func TestRecorderBackpressureTransitionsToError(t *testing.T) {
	store := openTestDB(t)
	rec := New(t.TempDir(), store)

	if err := rec.Start(types.FormatWAV); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One push far larger than the ring's capacity overruns it in a
	// single call, guaranteeing dropped > 0 before the writer's next tick.
	overrun := make([]float32, ringFrames*4)
	rec.Write(overrun)

	deadline := time.After(2 * time.Second)
	for {
		if rec.Status() == types.RecordingError {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected the recorder to transition to RecordingError after backpressure")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Drain events (Start's own RecordingActive event arrives first) until
	// the backpressure error event turns up.
	found := false
	for !found {
		select {
		case ev := <-rec.EventsCh:
			if ev.Status == types.RecordingError {
				if ev.Err == nil {
					t.Fatalf("expected the RecordingError event to carry a non-nil error")
				}
				found = true
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for the backpressure error event")
		}
	}
}

func TestRecorderStartTwiceFails(t *testing.T) {
	store := openTestDB(t)
	rec := New(t.TempDir(), store)
	if err := rec.Start(types.FormatWAV); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	if err := rec.Start(types.FormatWAV); err == nil {
		t.Fatalf("expected an error starting a recording that is already active")
	}
}
