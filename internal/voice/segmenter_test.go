package voice

import (
	"sync"
	"testing"
	"time"
)

// collector records interim and finalized texts from a segmenter under test.
type collector struct {
	mu        sync.Mutex
	interims  []string
	finalized []string
}

func (c *collector) onInterim(text string) {
	c.mu.Lock()
	c.interims = append(c.interims, text)
	c.mu.Unlock()
}

func (c *collector) onFinalize(text string) {
	c.mu.Lock()
	c.finalized = append(c.finalized, text)
	c.mu.Unlock()
}

func (c *collector) finalizedTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.finalized))
	copy(out, c.finalized)
	return out
}

func (c *collector) interimTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.interims))
	copy(out, c.interims)
	return out
}

func newTestSegmenter(t *testing.T, muted func() bool) (*segmenter, *collector) {
	t.Helper()
	if muted == nil {
		muted = func() bool { return false }
	}
	c := &collector{}
	s := newSegmenter(DefaultConfig(), muted, c.onInterim, c.onFinalize)
	// Short timers keep the tests fast.
	s.silenceThreshold = 30 * time.Millisecond
	s.debounce = 20 * time.Millisecond
	t.Cleanup(s.stop)
	return s, c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSegmenterNoiseThreshold(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       bool // buffer accepted
	}{
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"at threshold", "hm", false},
		{"exactly threshold length", "hmm", false},
		{"above threshold", "okay", true},
		{"multibyte runes counted as runes", "áno", false},
		{"real utterance", "what is a derivative", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newTestSegmenter(t, nil)
			s.handleEvent(tt.transcript, false)
			got := len(c.interimTexts()) > 0
			if got != tt.want {
				t.Errorf("handleEvent(%q) accepted = %v, want %v", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestSegmenterDropsEventsWhileMuted(t *testing.T) {
	muted := true
	s, c := newTestSegmenter(t, func() bool { return muted })

	s.handleEvent("this should be dropped", false)
	if len(c.interimTexts()) != 0 {
		t.Fatalf("muted event reached interim observer: %v", c.interimTexts())
	}

	muted = false
	s.handleEvent("this should pass", false)
	if got := c.interimTexts(); len(got) != 1 || got[0] != "this should pass" {
		t.Fatalf("unmuted event not forwarded, got %v", got)
	}
}

func TestSegmenterFinalizesOnSilence(t *testing.T) {
	s, c := newTestSegmenter(t, nil)

	s.handleEvent("what is", false)
	s.handleEvent("what is photosynthesis", false)

	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 1 })
	if got := c.finalizedTexts()[0]; got != "what is photosynthesis" {
		t.Errorf("finalized %q, want full buffer", got)
	}
}

func TestSegmenterSilenceTimerRearmsOnUpdate(t *testing.T) {
	s, c := newTestSegmenter(t, nil)
	s.silenceThreshold = 60 * time.Millisecond

	// Keep updating faster than the silence window; nothing may finalize.
	for i := 0; i < 5; i++ {
		s.handleEvent("counting up to something", false)
		time.Sleep(20 * time.Millisecond)
	}
	if n := len(c.finalizedTexts()); n != 0 {
		t.Fatalf("finalized %d times during continuous speech, want 0", n)
	}

	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 1 })
}

func TestSegmenterFinalizesOnFinalFlagDebounce(t *testing.T) {
	s, c := newTestSegmenter(t, nil)
	// Silence window far longer than the debounce so only the final-flag path
	// can fire.
	s.silenceThreshold = 5 * time.Second

	s.handleEvent("the answer is four", true)

	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 1 })
}

func TestSegmenterDoesNotFinalizeSameTextTwice(t *testing.T) {
	s, c := newTestSegmenter(t, nil)

	s.handleEvent("hello there teacher", true)
	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 1 })

	// A stale duplicate of the same literal text arrives after finalization.
	s.handleEvent("hello there teacher", true)
	time.Sleep(80 * time.Millisecond)
	if n := len(c.finalizedTexts()); n != 1 {
		t.Fatalf("duplicate text finalized %d times, want 1", n)
	}
}

func TestSegmenterDedupSurvivesReset(t *testing.T) {
	s, c := newTestSegmenter(t, nil)

	s.handleEvent("repeat after me", true)
	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 1 })

	s.reset()

	// The previous span's text arrives again after the reset; lastProcessed
	// must still suppress it.
	s.handleEvent("repeat after me", true)
	time.Sleep(80 * time.Millisecond)
	if n := len(c.finalizedTexts()); n != 1 {
		t.Fatalf("stale duplicate finalized after reset, total %d", n)
	}

	// Genuinely new text goes through.
	s.handleEvent("now something new", true)
	waitFor(t, time.Second, func() bool { return len(c.finalizedTexts()) == 2 })
}

func TestSegmenterFlushFinalizesTrailingBuffer(t *testing.T) {
	s, c := newTestSegmenter(t, nil)
	s.silenceThreshold = 5 * time.Second

	s.handleEvent("trailing words on stream end", false)
	s.flush()

	if got := c.finalizedTexts(); len(got) != 1 || got[0] != "trailing words on stream end" {
		t.Fatalf("flush did not finalize trailing buffer, got %v", got)
	}
}

func TestSegmenterFlushSkippedWhileMuted(t *testing.T) {
	muted := false
	s, c := newTestSegmenter(t, func() bool { return muted })
	s.silenceThreshold = 5 * time.Second

	s.handleEvent("buffered but muted", false)
	muted = true
	s.flush()

	if n := len(c.finalizedTexts()); n != 0 {
		t.Fatalf("flush finalized %d while muted, want 0", n)
	}
}

func TestSegmenterPending(t *testing.T) {
	s, _ := newTestSegmenter(t, nil)
	s.silenceThreshold = 5 * time.Second

	if s.pending() {
		t.Fatal("fresh segmenter reports pending buffer")
	}

	s.handleEvent("is anyone listening", false)
	if !s.pending() {
		t.Fatal("buffered text not reported as pending")
	}

	s.tryFinalize()
	if s.pending() {
		t.Fatal("pending still true after finalization")
	}
}
