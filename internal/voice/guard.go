package voice

import (
	"log"
	"sync"
	"time"
)

// feedbackGuard owns the microphone input path. It mutes capture before the
// engine speaks so the synthesized reply is never recaptured as user speech,
// and guarantees capture resumes a fixed delay after playback ends, never
// immediately, to avoid tail-end echo.
type feedbackGuard struct {
	mu    sync.Mutex
	muted bool

	capture Capture
	gain    GainControl // may be nil
	paused  func() bool
	// onUnmuted fires after every unmute attempt, muted or not, so the
	// session re-arms listening exactly once per scheduled unmute.
	onUnmuted func()

	unmuteTimer *time.Timer
	logger      *log.Logger
}

func newFeedbackGuard(capture Capture, gain GainControl, paused func() bool, onUnmuted func(), logger *log.Logger) *feedbackGuard {
	return &feedbackGuard{
		capture:   capture,
		gain:      gain,
		paused:    paused,
		onUnmuted: onUnmuted,
		logger:    logger,
	}
}

// Mute stops active capture and ramps input gain down. No-op if already
// muted.
func (g *feedbackGuard) Mute() {
	g.mu.Lock()
	if g.muted {
		g.mu.Unlock()
		return
	}
	g.muted = true
	g.mu.Unlock()

	if g.gain != nil {
		g.gain.RampTo(0, gainRampDuration)
	}
	if err := g.capture.Stop(); err != nil {
		g.logger.Printf("guard: capture stop: %v", err)
	}
}

// Unmute restores the capture path unless the session is in a user-requested
// pause. The session's re-arm hook runs on every effective call so listening
// resumes even when feedback prevention never muted.
func (g *feedbackGuard) Unmute() {
	if g.paused() {
		return
	}

	g.mu.Lock()
	wasMuted := g.muted
	g.muted = false
	g.mu.Unlock()

	if wasMuted && g.gain != nil {
		g.gain.RampTo(1, gainRampDuration)
	}
	g.onUnmuted()
}

// ScheduleUnmute arms the post-speech delay. Called exactly once per turn on
// every exit path; re-arming replaces any previous timer.
func (g *feedbackGuard) ScheduleUnmute(delay time.Duration) {
	g.mu.Lock()
	if g.unmuteTimer != nil {
		g.unmuteTimer.Stop()
	}
	g.unmuteTimer = time.AfterFunc(delay, g.Unmute)
	g.mu.Unlock()
}

func (g *feedbackGuard) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// cancelPending drops any scheduled unmute. Used on pause and dispose.
func (g *feedbackGuard) cancelPending() {
	g.mu.Lock()
	if g.unmuteTimer != nil {
		g.unmuteTimer.Stop()
		g.unmuteTimer = nil
	}
	g.mu.Unlock()
}
