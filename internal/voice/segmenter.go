package voice

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// segmenter turns a stream of transcript snapshots into discrete finalized
// utterances. Two independent paths converge on finalize: the capture
// engine's final flag (debounced) and a silence window with no updates.
// The same literal text is never finalized twice in a row.
type segmenter struct {
	mu sync.Mutex

	silenceThreshold time.Duration
	noiseThreshold   int
	debounce         time.Duration

	// Utterance buffer for the current speech span.
	text       string
	lastUpdate time.Time
	finalized  bool

	lastProcessed string

	silenceTimer  *time.Timer
	debounceTimer *time.Timer

	muted     func() bool
	onInterim func(text string)
	finalize  func(text string)
}

func newSegmenter(cfg Config, muted func() bool, onInterim, finalize func(string)) *segmenter {
	return &segmenter{
		silenceThreshold: cfg.SilenceThreshold,
		noiseThreshold:   cfg.NoiseThresholdChars,
		debounce:         finalDebounce,
		muted:            muted,
		onInterim:        onInterim,
		finalize:         finalize,
	}
}

// handleEvent ingests one transcript snapshot. Events are dropped while the
// guard has the capture path muted and when the snapshot is at or below the
// noise threshold. Accepted snapshots update the buffer and are forwarded to
// the interim observer regardless of finality.
func (s *segmenter) handleEvent(transcript string, isFinal bool) {
	if s.muted() {
		return
	}
	text := strings.TrimSpace(transcript)
	if utf8.RuneCountInString(text) <= s.noiseThreshold {
		return
	}

	s.mu.Lock()
	s.text = text
	s.lastUpdate = time.Now()
	s.finalized = false
	s.mu.Unlock()

	s.onInterim(text)

	if isFinal {
		s.armDebounce()
	} else {
		s.armSilence()
	}
}

func (s *segmenter) armSilence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(s.silenceThreshold, s.silenceFire)
}

func (s *segmenter) armDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.tryFinalize)
}

// silenceFire re-checks that the buffer really went quiet; a timer racing a
// fresh update (which re-arms) must not finalize early.
func (s *segmenter) silenceFire() {
	s.mu.Lock()
	quiet := !s.lastUpdate.IsZero() && time.Since(s.lastUpdate) >= s.silenceThreshold
	s.mu.Unlock()
	if !quiet {
		return
	}
	s.tryFinalize()
}

// tryFinalize is the single convergence point for both timing paths.
// Finalizing is idempotent per literal text and per speech span.
func (s *segmenter) tryFinalize() {
	s.mu.Lock()
	text := s.text
	if text == "" || s.finalized || text == s.lastProcessed {
		s.mu.Unlock()
		return
	}
	s.finalized = true
	s.lastProcessed = text
	s.mu.Unlock()

	s.finalize(text)
}

// flush finalizes a trailing buffer on capture end-of-stream, unless the
// guard is holding the capture path muted.
func (s *segmenter) flush() {
	if s.muted() {
		return
	}
	s.tryFinalize()
}

// reset clears the buffer for a new speech span. The last processed text is
// kept so a stale duplicate from the previous span stays deduplicated.
func (s *segmenter) reset() {
	s.mu.Lock()
	s.text = ""
	s.lastUpdate = time.Time{}
	s.finalized = false
	s.stopTimersLocked()
	s.mu.Unlock()
}

func (s *segmenter) stop() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.mu.Unlock()
}

func (s *segmenter) stopTimersLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

func (s *segmenter) setSilenceThreshold(d time.Duration) {
	s.mu.Lock()
	s.silenceThreshold = d
	s.mu.Unlock()
}

// pending reports whether a non-empty, unprocessed buffer is waiting.
func (s *segmenter) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text != "" && !s.finalized && s.text != s.lastProcessed
}
