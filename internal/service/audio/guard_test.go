package audio

import (
	"errors"
	"testing"
	"time"
)

func TestGuard_EmptyFrame(t *testing.T) {
	g := NewGuard(DefaultLimits())

	if err := g.Admit(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if frames, _ := g.Stats(); frames != 0 {
		t.Errorf("empty frame should not be counted, got %d", frames)
	}
}

func TestGuard_MaxFrameBytes(t *testing.T) {
	g := NewGuard(Limits{MaxFrameBytes: 10})

	if err := g.Admit(make([]byte, 10)); err != nil {
		t.Fatalf("frame at limit should be admitted: %v", err)
	}
	if err := g.Admit(make([]byte, 11)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestGuard_MaxAudioBytes(t *testing.T) {
	g := NewGuard(Limits{MaxAudioBytes: 100})

	// Send 50 bytes - should succeed
	if err := g.Admit(make([]byte, 50)); err != nil {
		t.Fatalf("First send should succeed: %v", err)
	}
	// Send 50 more - reaches the limit exactly
	if err := g.Admit(make([]byte, 50)); err != nil {
		t.Fatalf("Second send should succeed: %v", err)
	}
	// One more byte exceeds
	if err := g.Admit([]byte{1}); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	frames, bytes := g.Stats()
	if frames != 2 || bytes != 100 {
		t.Errorf("Stats() = %d, %d; rejected frame must not be counted", frames, bytes)
	}
}

func TestGuard_MaxDuration(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewGuard(Limits{MaxDuration: time.Minute})
	g.now = func() time.Time { return now }

	if err := g.Admit([]byte{1}); err != nil {
		t.Fatalf("first frame should be admitted: %v", err)
	}

	now = now.Add(59 * time.Second)
	if err := g.Admit([]byte{1}); err != nil {
		t.Fatalf("frame within duration should be admitted: %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := g.Admit([]byte{1}); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestGuard_ZeroLimitsDisabled(t *testing.T) {
	g := NewGuard(Limits{})

	for i := 0; i < 100; i++ {
		if err := g.Admit(make([]byte, 1<<16)); err != nil {
			t.Fatalf("frame %d rejected with limits disabled: %v", i, err)
		}
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.MaxFrameBytes != 256*1024 {
		t.Errorf("expected MaxFrameBytes 256KiB, got %d", l.MaxFrameBytes)
	}
	if l.MaxDuration != time.Hour {
		t.Errorf("expected MaxDuration 1h, got %v", l.MaxDuration)
	}
}

func TestReason(t *testing.T) {
	if Reason(ErrEmptyFrame) != "empty" {
		t.Error("expected empty")
	}
	if Reason(errors.Join(ErrLimitExceeded)) != "limit" {
		t.Error("expected limit")
	}
	if Reason(errors.New("x")) != "other" {
		t.Error("expected other")
	}
}
