package record

import "testing"

func TestRingDrainReturnsPushedSamples(t *testing.T) {
	r := newRing(4) // 4 frames = 8 samples
	r.push([]float32{1, 2, 3, 4})

	out := make([]float32, 8)
	n := r.drain(out)
	if n != 4 {
		t.Fatalf("got %d samples, want 4", n)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out[i] != want {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], want)
		}
	}
}

func TestRingOverrunDropsOldestAndCountsDrops(t *testing.T) {
	r := newRing(2) // 2 frames = 4 samples capacity
	r.push([]float32{1, 2, 3, 4})
	r.push([]float32{5, 6}) // overruns by one frame, dropping {1,2}

	if r.droppedCount() != 2 {
		t.Fatalf("expected 2 dropped samples, got %v", r.droppedCount())
	}

	out := make([]float32, 4)
	n := r.drain(out)
	if n != 4 {
		t.Fatalf("got %d samples, want 4", n)
	}
	want := []float32{3, 4, 5, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestRingDrainEmptyReturnsZero(t *testing.T) {
	r := newRing(4)
	out := make([]float32, 8)
	if n := r.drain(out); n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestRingNeverBlocksPastCapacity(t *testing.T) {
	r := newRing(2)
	for i := 0; i < 1000; i++ {
		r.push([]float32{float32(i), float32(i)})
	}
	if r.droppedCount() == 0 {
		t.Fatalf("expected drops after exceeding capacity repeatedly")
	}
	out := make([]float32, 4)
	if n := r.drain(out); n != 4 {
		t.Fatalf("got %d, want 4", n)
	}
}
