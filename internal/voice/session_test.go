package voice

import (
	"errors"
	"testing"
	"time"
)

type sessionFixture struct {
	capture   *fakeCapture
	responder *fakeResponder
	synth     *fakeSynth
	player    *fakePlayer
	gain      *fakeGain
	obs       *recObserver
	sess      *Session
}

// newTestSession builds a session over fakes with all timers shortened so
// full turn cycles run in milliseconds.
func newTestSession(t *testing.T, mutate func(*Options)) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		capture:   &fakeCapture{},
		responder: &fakeResponder{reply: "A thoughtful answer."},
		synth:     &fakeSynth{audio: plausibleAudio()},
		player:    &fakePlayer{autoFinish: true},
		gain:      &fakeGain{},
		obs:       &recObserver{},
	}

	opts := Options{
		Capture:     f.capture,
		Responder:   f.responder,
		Synthesizer: f.synth,
		Player:      f.player,
		Gain:        f.gain,
		Observer:    f.obs,
		Logger:      discardLogger(),
		Config:      DefaultConfig(),
		Context:     TurnContext{Subject: "math", Persona: "friendly", SessionID: "test"},
	}
	if mutate != nil {
		mutate(&opts)
	}

	f.sess = NewSession(opts)
	f.sess.seg.silenceThreshold = 30 * time.Millisecond
	f.sess.seg.debounce = 20 * time.Millisecond
	f.sess.mu.Lock()
	f.sess.cfg.PostSpeechMuteDelay = 30 * time.Millisecond
	f.sess.mu.Unlock()

	t.Cleanup(f.sess.Dispose)
	return f
}

func (f *sessionFixture) inState(st TurnState) func() bool {
	return func() bool { return f.sess.State() == st }
}

func hasState(history []TurnState, st TurnState) bool {
	for _, s := range history {
		if s == st {
			return true
		}
	}
	return false
}

func TestSessionFullTurnCycle(t *testing.T) {
	f := newTestSession(t, nil)

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.sess.State() != StateListening {
		t.Fatalf("state after Start = %v, want listening", f.sess.State())
	}

	f.capture.emit("what is gravity exactly", false)

	// The cycle runs to completion and returns to listening.
	waitFor(t, 3*time.Second, func() bool {
		return f.sess.State() == StateListening && f.capture.startCount() >= 2
	})

	history := f.obs.stateHistory()
	for _, st := range []TurnState{StateListening, StateFinalizing, StateGenerating, StateSynthesizing, StatePlaying, StateCoolingDown} {
		if !hasState(history, st) {
			t.Errorf("state history %v missing %v", history, st)
		}
	}

	if got := f.obs.utteranceTexts(); len(got) != 1 || got[0] != "what is gravity exactly" {
		t.Errorf("utterances = %v", got)
	}
	if got := f.obs.replyTexts(); len(got) != 1 || got[0] != "A thoughtful answer." {
		t.Errorf("replies = %v", got)
	}
	if f.player.playCount() != 1 {
		t.Errorf("play count = %d, want 1", f.player.playCount())
	}

	// Feedback prevention muted capture during the turn and a new run started
	// after the cooldown.
	if f.capture.stopCount() < 1 {
		t.Error("capture never stopped despite feedback prevention")
	}
	if f.sess.guard.Muted() {
		t.Error("guard still muted after cycle completed")
	}
}

func TestSessionSingleTurnInFlight(t *testing.T) {
	block := make(chan struct{})
	f := newTestSession(t, func(o *Options) {
		// Capture stays live during the turn so a competing finalization can
		// actually reach the session.
		o.Config.DisableFeedbackPrevention = true
	})
	f.responder.block = block

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.capture.emit("first question entirely", true)
	waitFor(t, 2*time.Second, func() bool { return f.responder.callCount() == 1 })

	// A second utterance finalizes while the first turn is still generating.
	f.capture.emit("second question sneaking in", true)
	time.Sleep(150 * time.Millisecond)

	if got := f.obs.utteranceTexts(); len(got) != 1 {
		t.Fatalf("utterances = %v, want only the first to enter the turn cycle", got)
	}

	close(block)
	waitFor(t, 2*time.Second, f.inState(StateListening))

	if f.responder.callCount() != 1 {
		t.Errorf("responder calls = %d, want 1", f.responder.callCount())
	}
}

func TestSessionGenerationFailureRearms(t *testing.T) {
	f := newTestSession(t, nil)
	f.responder.err = ErrRateLimited

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.capture.emit("a question the service throttles", true)

	// The failed turn still runs the full cooldown and re-arms capture.
	waitFor(t, 3*time.Second, func() bool {
		return f.sess.State() == StateListening && f.capture.startCount() >= 2
	})

	if f.synth.callCount() != 0 {
		t.Errorf("synthesis called %d times after generation failure", f.synth.callCount())
	}
	if f.player.playCount() != 0 {
		t.Error("playback started after generation failure")
	}
	if kinds := f.obs.errorKinds(); len(kinds) != 1 || kinds[0] != FailureRateLimited {
		t.Fatalf("error kinds = %v, want [rate_limited]", kinds)
	}
	if msgs := f.obs.errorMessages(); len(msgs) != 1 || msgs[0] != UserMessage(FailureRateLimited) {
		t.Errorf("error messages = %v", msgs)
	}
	if f.sess.guard.Muted() {
		t.Error("guard still muted after failed turn")
	}
	if !hasState(f.obs.stateHistory(), StateCoolingDown) {
		t.Error("cooldown skipped on the failure path")
	}
}

func TestSessionAllTiersFailUnmutesOnce(t *testing.T) {
	f := newTestSession(t, func(o *Options) {
		o.Local = &fakeLocal{err: errors.New("espeak missing")}
	})
	f.synth.err = ErrQuotaExceeded

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.capture.emit("say something with broken speakers", true)

	waitFor(t, 3*time.Second, func() bool {
		return f.sess.State() == StateListening && f.capture.startCount() >= 2
	})

	if kinds := f.obs.errorKinds(); len(kinds) != 1 || kinds[0] != FailureValidation {
		t.Fatalf("error kinds = %v, want [validation]", kinds)
	}

	// The silent placeholder still plays, so speaking callbacks pair up.
	if f.player.playCount() != 1 {
		t.Fatalf("play count = %d, want 1", f.player.playCount())
	}
	if audio := f.player.lastAudio(); len(audio) != 44 || string(audio[:4]) != "RIFF" {
		t.Errorf("played %d bytes, want the silent container", len(audio))
	}
	if start, end := f.obs.speakingCounts(); start != 1 || end != 1 {
		t.Errorf("speaking start/end = %d/%d, want 1/1", start, end)
	}

	// Exactly one mute and one unmute across the whole failed turn.
	time.Sleep(100 * time.Millisecond)
	if got := f.gain.targets(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("gain ramps = %v, want [0 1]", got)
	}
	if f.capture.startCount() != 2 {
		t.Errorf("capture starts = %d, want 2", f.capture.startCount())
	}
}

func TestSessionPauseStopsPlaybackAndStaysSticky(t *testing.T) {
	f := newTestSession(t, nil)
	f.player.autoFinish = false // playback hangs until stopped

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.capture.emit("tell me a long story", true)
	waitFor(t, 2*time.Second, f.inState(StatePlaying))

	f.sess.Pause()

	if f.sess.State() != StateIdle {
		t.Fatalf("state after Pause = %v, want idle", f.sess.State())
	}
	waitFor(t, time.Second, func() bool { return f.player.lastHandle() != nil })
	handle := f.player.lastHandle()
	select {
	case <-handle.stopped:
	case <-time.After(time.Second):
		t.Fatal("playback not stopped on Pause")
	}

	// Sticky: no automatic return to listening.
	time.Sleep(150 * time.Millisecond)
	if f.sess.State() != StateIdle {
		t.Fatalf("state drifted to %v while paused", f.sess.State())
	}
	if !f.sess.guard.Muted() {
		t.Error("guard unmuted while paused")
	}

	f.sess.Resume()
	waitFor(t, 2*time.Second, f.inState(StateListening))
}

func TestSessionForceFinalizeBypassesTimers(t *testing.T) {
	f := newTestSession(t, nil)

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Timers far out so only the explicit path can finalize.
	f.sess.seg.setSilenceThreshold(5 * time.Second)
	f.sess.seg.mu.Lock()
	f.sess.seg.debounce = 5 * time.Second
	f.sess.seg.mu.Unlock()

	f.capture.emit("an unfinished thought maybe", false)
	waitFor(t, time.Second, func() bool { return f.sess.seg.pending() })

	f.sess.ForceFinalize()

	waitFor(t, 2*time.Second, func() bool { return len(f.obs.utteranceTexts()) == 1 })
	if got := f.obs.utteranceTexts()[0]; got != "an unfinished thought maybe" {
		t.Errorf("forced utterance = %q", got)
	}
}

func TestSessionForceFinalizeWithoutBufferIsNoop(t *testing.T) {
	f := newTestSession(t, nil)
	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.sess.ForceFinalize()

	time.Sleep(100 * time.Millisecond)
	if got := f.obs.utteranceTexts(); len(got) != 0 {
		t.Errorf("utterances = %v, want none", got)
	}
}

func TestSessionGreetingSpokenOnStart(t *testing.T) {
	f := newTestSession(t, func(o *Options) {
		o.Greeting = "Welcome back! Ready to continue?"
	})

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		start, end := f.obs.speakingCounts()
		return start == 1 && end == 1
	})

	if got := f.obs.replyTexts(); len(got) != 1 || got[0] != "Welcome back! Ready to continue?" {
		t.Errorf("replies = %v", got)
	}
	// The greeting goes straight to synthesis; generation never runs.
	if f.responder.callCount() != 0 {
		t.Errorf("responder calls = %d during greeting, want 0", f.responder.callCount())
	}

	waitFor(t, 2*time.Second, f.inState(StateListening))
}

func TestSessionFeedbackPreventionOffStillRearms(t *testing.T) {
	f := newTestSession(t, func(o *Options) {
		o.Config.DisableFeedbackPrevention = true
	})

	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.capture.emit("does the mic stay open", true)

	waitFor(t, 3*time.Second, func() bool {
		return f.sess.State() == StateListening && len(f.obs.replyTexts()) == 1
	})

	if f.capture.stopCount() != 0 {
		t.Errorf("capture stopped %d times with prevention off, want 0", f.capture.stopCount())
	}
	// Cooldown and re-arm still happened.
	if !hasState(f.obs.stateHistory(), StateCoolingDown) {
		t.Error("cooldown skipped with prevention off")
	}
}

func TestSessionDisposeIsTerminal(t *testing.T) {
	f := newTestSession(t, nil)
	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.sess.Dispose()

	if f.sess.State() != StateDisposed {
		t.Fatalf("state after Dispose = %v", f.sess.State())
	}
	if err := f.sess.Start(); err == nil {
		t.Fatal("Start succeeded on a disposed session")
	}

	// Pause and Resume are no-ops once disposed.
	f.sess.Pause()
	f.sess.Resume()
	if f.sess.State() != StateDisposed {
		t.Fatalf("disposed session left terminal state: %v", f.sess.State())
	}
}

func TestSessionStartTwiceFails(t *testing.T) {
	f := newTestSession(t, nil)
	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sess.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestSessionEndOfStreamFlushesTrailingBuffer(t *testing.T) {
	f := newTestSession(t, nil)
	if err := f.sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sess.seg.setSilenceThreshold(5 * time.Second)
	f.sess.seg.mu.Lock()
	f.sess.seg.debounce = 5 * time.Second
	f.sess.seg.mu.Unlock()

	f.capture.emit("last words before the stream dies", false)
	waitFor(t, time.Second, func() bool { return f.sess.seg.pending() })

	f.capture.endStream()

	waitFor(t, 2*time.Second, func() bool { return len(f.obs.utteranceTexts()) == 1 })
}

func TestSessionSetterClamping(t *testing.T) {
	f := newTestSession(t, nil)

	f.sess.SetSilenceThreshold(10 * time.Millisecond)
	if got := f.sess.seg.silenceThreshold; got != MinSilenceThreshold {
		t.Errorf("silence threshold = %v, want clamp to %v", got, MinSilenceThreshold)
	}

	f.sess.SetSilenceThreshold(time.Minute)
	if got := f.sess.seg.silenceThreshold; got != MaxSilenceThreshold {
		t.Errorf("silence threshold = %v, want clamp to %v", got, MaxSilenceThreshold)
	}

	f.sess.SetDelayAfterSpeaking(time.Millisecond)
	f.sess.mu.Lock()
	delay := f.sess.cfg.PostSpeechMuteDelay
	f.sess.mu.Unlock()
	if delay != MinPostSpeechMuteDelay {
		t.Errorf("post-speech delay = %v, want clamp to %v", delay, MinPostSpeechMuteDelay)
	}
}
