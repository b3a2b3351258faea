package kthread

import (
	"testing"
)

// TestInterrupts_MaskRestore tests the basic mask/restore round trip.
func TestInterrupts_MaskRestore(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if got := s.InterruptLevel(); got != IntrOn {
		t.Fatalf("initial level = %s, want ON", got)
	}

	old := s.MaskInterrupts()
	if old != IntrOn {
		t.Errorf("MaskInterrupts returned %s, want ON", old)
	}
	if got := s.InterruptLevel(); got != IntrOff {
		t.Errorf("level while masked = %s, want OFF", got)
	}

	s.RestoreInterrupts(old)
	if got := s.InterruptLevel(); got != IntrOn {
		t.Errorf("level after restore = %s, want ON", got)
	}
}

// TestInterrupts_Nesting verifies that nested critical sections compose: an
// inner mask reports the prior level as OFF and its restore leaves the mask
// held for the outer section.
func TestInterrupts_Nesting(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}

	outer := s.MaskInterrupts()
	inner := s.MaskInterrupts()
	if inner != IntrOff {
		t.Errorf("nested MaskInterrupts returned %s, want OFF", inner)
	}

	s.RestoreInterrupts(inner)
	if got := s.InterruptLevel(); got != IntrOff {
		t.Errorf("level after inner restore = %s, want OFF", got)
	}

	s.RestoreInterrupts(outer)
	if got := s.InterruptLevel(); got != IntrOn {
		t.Errorf("level after outer restore = %s, want ON", got)
	}
}

// TestInterrupts_RestoreUnheldFatal verifies that restoring a mask the
// caller does not hold halts.
func TestInterrupts_RestoreUnheldFatal(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on unheld restore")
		}
		if _, ok := r.(*InvariantError); !ok {
			t.Fatalf("panic value is %T, want *InvariantError", r)
		}
	}()
	s.RestoreInterrupts(IntrOn)
}

// TestInterrupts_ExternalGoroutineBlocks verifies mutual exclusion: a second
// goroutine masking against a held mask waits until release.
func TestInterrupts_ExternalGoroutineBlocks(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}

	old := s.MaskInterrupts()

	entered := make(chan struct{})
	released := make(chan struct{})
	go func() {
		inner := s.MaskInterrupts()
		close(entered)
		s.RestoreInterrupts(inner)
		close(released)
	}()

	select {
	case <-entered:
		t.Fatal("external goroutine entered a held critical section")
	default:
	}

	s.RestoreInterrupts(old)
	<-entered
	<-released
}

// TestIntrLevel_String exercises the level formatting.
func TestIntrLevel_String(t *testing.T) {
	for _, tc := range []struct {
		level IntrLevel
		want  string
	}{
		{IntrOff, "OFF"},
		{IntrOn, "ON"},
		{IntrLevel(99), "UNKNOWN"},
	} {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("IntrLevel(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}
