package orchestrate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("c1", nil)
	u2 := tr.Register("c2", nil)
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1() // releasing twice is safe
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_Cancel_TargetsOneTask(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("c1", func() { c1.Add(1) })
	tr.Register("c2", func() { c2.Add(1) })

	if !tr.Cancel("c1") {
		t.Fatalf("expected Cancel to find c1")
	}
	if tr.Cancel("missing") {
		t.Fatalf("expected Cancel to miss an unknown key")
	}
	if c1.Load() != 1 || c2.Load() != 0 {
		t.Fatalf("cancel calls=%d/%d, want 1/0", c1.Load(), c2.Load())
	}
}

func TestTracker_CancelAll_CallsEveryCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("c1", func() { c1.Add(1) })
	tr.Register("c2", func() { c2.Add(1) })

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_ReRegisterReleasesOldSlot(t *testing.T) {
	tr := NewTracker()
	uOld := tr.Register("c1", nil)
	_ = tr.Register("c1", nil)
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	// The old slot was already released by the re-register; its closure
	// must not disturb the new entry.
	uOld()
	if tr.Count() != 1 {
		t.Fatalf("count=%d after stale release, want 1", tr.Count())
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	_ = tr.Register("c1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("expected Wait to give up while a task is registered")
	}
}
