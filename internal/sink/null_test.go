package sink

import (
	"errors"
	"testing"
	"time"
)

func TestNullWriteOrder(t *testing.T) {
	n := NewNull(time.Millisecond)

	if err := n.Write(make([]byte, 320)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("write before open = %v, want ErrNotOpen", err)
	}

	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := n.Write(make([]byte, 320)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	writes, bytes := n.Stats()
	if writes != 3 || bytes != 960 {
		t.Errorf("stats = %d writes %d bytes, want 3/960", writes, bytes)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := n.Write(make([]byte, 320)); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("write after close = %v, want ErrSinkClosed", err)
	}
}

func TestNullWritePaces(t *testing.T) {
	frameDur := 20 * time.Millisecond
	n := NewNull(frameDur)
	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer n.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := n.Write(make([]byte, 320)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	// Five paced writes take about five frame durations. Generous lower
	// bound to keep the test stable on loaded machines.
	if elapsed < 3*frameDur {
		t.Errorf("5 writes finished in %v, expected real-time pacing (~%v)", elapsed, 5*frameDur)
	}
}

func TestNullOpenReusable(t *testing.T) {
	n := NewNull(time.Millisecond)

	// Startup probe followed by the playback loop's own Open.
	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("probe open failed: %v", err)
	}
	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := n.Write(make([]byte, 320)); err != nil {
		t.Fatalf("write after reopen failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// A closed sink can be opened again for the next session.
	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("open after close failed: %v", err)
	}
	if err := n.Write(make([]byte, 320)); err != nil {
		t.Fatalf("write after close/open failed: %v", err)
	}
	n.Close()
}

func TestNullCloseIdempotent(t *testing.T) {
	n := NewNull(time.Millisecond)
	if err := n.Open(8000, 1, 2); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}
