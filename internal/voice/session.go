package voice

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Options wires a Session to its collaborators. Capture, Responder,
// Synthesizer and Player are required; the rest are optional.
type Options struct {
	Capture     Capture
	Responder   Responder
	Synthesizer Synthesizer
	Local       LocalSynthesizer
	Player      Player
	Gain        GainControl
	Energy      EnergySource
	Observer    Observer
	Logger      *log.Logger

	Config  Config
	Context TurnContext

	// Greeting, when set, is spoken through the synthesis tiers as the first
	// turn after Start.
	Greeting string

	// VoiceFor maps a persona to a synthesizer voice ID.
	VoiceFor func(persona string) string
}

// Session drives the repeating capture → finalize → respond → play → re-arm
// cycle for one conversation. It owns every timer and the single authoritative
// TurnState; at most one turn is in flight at any time.
type Session struct {
	mu sync.Mutex

	id    string
	cfg   Config
	tc    TurnContext
	state TurnState

	paused       bool
	isProcessing bool

	captureActive bool
	restartTimer  *time.Timer
	turnCancel    context.CancelFunc
	playback      PlaybackHandle

	capture  Capture
	guard    *feedbackGuard
	seg      *segmenter
	pipe     *pipeline
	sampler  *sampler
	observer Observer
	logger   *log.Logger
	greeting string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession builds a session in StateIdle. Nothing runs until Start.
func NewSession(opts Options) *Session {
	cfg := opts.Config
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	cfg.SilenceThreshold = ClampSilenceThreshold(cfg.SilenceThreshold)
	if cfg.NoiseThresholdChars == 0 {
		cfg.NoiseThresholdChars = DefaultNoiseThresholdChars
	}
	if cfg.PostSpeechMuteDelay == 0 {
		cfg.PostSpeechMuteDelay = DefaultPostSpeechMuteDelay
	}
	cfg.PostSpeechMuteDelay = ClampPostSpeechDelay(cfg.PostSpeechMuteDelay)

	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       opts.Context.SessionID,
		cfg:      cfg,
		tc:       opts.Context,
		state:    StateIdle,
		capture:  opts.Capture,
		observer: observer,
		logger:   logger,
		greeting: opts.Greeting,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.guard = newFeedbackGuard(opts.Capture, opts.Gain, s.Paused, s.rearm, logger)
	s.seg = newSegmenter(cfg, s.guard.Muted, observer.OnInterim, s.handleFinalize)
	s.pipe = &pipeline{
		responder:     opts.Responder,
		synth:         opts.Synthesizer,
		local:         opts.Local,
		player:        opts.Player,
		voiceFor:      opts.VoiceFor,
		observer:      observer,
		logger:        logger,
		trackPlayback: s.trackPlayback,
	}
	s.sampler = newSampler(opts.Energy, logger)

	return s
}

// Start moves Idle → Listening, begins capture and the visualization loop,
// and speaks the greeting if one is configured.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle || s.paused {
		s.mu.Unlock()
		return errors.New("session already started or paused")
	}
	s.mu.Unlock()

	s.sampler.start()
	s.setState(StateListening)
	s.startCapture()

	if s.greeting != "" {
		go s.runGreeting(s.greeting)
	}
	return nil
}

// State returns the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Paused reports the sticky pause flag.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pause is sticky: capture is muted, every pending timer is cleared, any
// in-flight turn and playback are stopped, and no automatic restart happens
// until Resume.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state == StateDisposed || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	cancelTurn := s.turnCancel
	playback := s.playback
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.seg.stop()
	s.guard.cancelPending()
	s.guard.Mute()
	if cancelTurn != nil {
		cancelTurn()
	}
	if playback != nil {
		playback.Stop()
	}
	s.observer.OnStateChange(StateIdle)
	s.logger.Printf("session %s: paused", s.id)
}

// Resume clears the sticky pause flag and restarts capture unless a turn is
// still draining.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.state == StateDisposed || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	processing := s.isProcessing
	s.mu.Unlock()

	s.logger.Printf("session %s: resumed", s.id)
	if !processing {
		s.guard.Unmute()
	}
}

// ForceFinalize routes a waiting, unprocessed buffer straight to finalization,
// bypassing the silence and debounce timers.
func (s *Session) ForceFinalize() {
	if s.seg.pending() {
		s.seg.tryFinalize()
	}
}

// Dispose is terminal: all timers, capture, playback and the visualization
// loop are released. The session cannot be restarted.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	cancelTurn := s.turnCancel
	playback := s.playback
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.seg.stop()
	s.guard.cancelPending()
	s.sampler.stop()
	if cancelTurn != nil {
		cancelTurn()
	}
	if playback != nil {
		playback.Stop()
	}
	if err := s.capture.Stop(); err != nil {
		s.logger.Printf("session %s: capture stop on dispose: %v", s.id, err)
	}
	s.observer.OnStateChange(StateDisposed)
	s.logger.Printf("session %s: disposed", s.id)
}

// SetLanguage updates the recognition language. Takes effect on the next
// capture run if the capture engine supports it.
func (s *Session) SetLanguage(code string) {
	if code == "" {
		return
	}
	s.mu.Lock()
	s.cfg.Language = code
	s.mu.Unlock()
	if ls, ok := s.capture.(interface{ SetLanguage(string) }); ok {
		ls.SetLanguage(code)
	}
}

// SetSilenceThreshold updates the silence finalization window, clamped to
// [300ms, 2000ms].
func (s *Session) SetSilenceThreshold(d time.Duration) {
	d = ClampSilenceThreshold(d)
	s.mu.Lock()
	s.cfg.SilenceThreshold = d
	s.mu.Unlock()
	s.seg.setSilenceThreshold(d)
}

// SetFeedbackPrevention toggles muting during playback.
func (s *Session) SetFeedbackPrevention(enabled bool) {
	s.mu.Lock()
	s.cfg.DisableFeedbackPrevention = !enabled
	s.mu.Unlock()
}

// SetDelayAfterSpeaking updates the post-speech cooldown, clamped to
// [200ms, 1000ms].
func (s *Session) SetDelayAfterSpeaking(d time.Duration) {
	d = ClampPostSpeechDelay(d)
	s.mu.Lock()
	s.cfg.PostSpeechMuteDelay = d
	s.mu.Unlock()
}

// SetVisualizationObserver registers the single visualization observer.
func (s *Session) SetVisualizationObserver(fn func(VisualizationFrame)) {
	s.sampler.setObserver(fn)
}

// startCapture begins a capture run and spawns its event loop.
func (s *Session) startCapture() {
	s.mu.Lock()
	if s.captureActive || s.paused || s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.captureActive = true
	s.mu.Unlock()

	events, errs, err := s.capture.Start(s.ctx)
	if err != nil {
		s.mu.Lock()
		s.captureActive = false
		s.mu.Unlock()
		s.logger.Printf("session %s: capture start: %v", s.id, err)
		s.observer.OnError(FailureCapture, "Speech capture is unavailable.")
		s.scheduleCaptureRestart()
		return
	}

	go s.captureLoop(events, errs)
}

func (s *Session) captureLoop(events <-chan SpeechEvent, errs <-chan error) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.handleCaptureEnd()
				return
			}
			s.seg.handleEvent(ev.Transcript, ev.IsFinal)
		case err := <-errs:
			s.handleCaptureError(err)
		}
	}
}

// handleCaptureEnd runs on capture end-of-stream. A trailing unprocessed
// buffer is finalized first unless the session is paused or muted, then
// capture restarts if the session is still eligible to listen.
func (s *Session) handleCaptureEnd() {
	s.mu.Lock()
	s.captureActive = false
	stop := s.paused || s.state == StateDisposed
	s.mu.Unlock()
	if stop {
		return
	}

	s.seg.flush()
	s.scheduleCaptureRestart()
}

// handleCaptureError reports transient capture errors as non-fatal.
// Engine-initiated stops are silently ignored.
func (s *Session) handleCaptureError(err error) {
	if err == nil || errors.Is(err, ErrCaptureAborted) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Printf("session %s: capture error: %v", s.id, err)
	s.observer.OnError(FailureCapture, "Speech capture hiccuped; retrying.")
}

func (s *Session) scheduleCaptureRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.state == StateDisposed || s.captureActive {
		return
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = time.AfterFunc(captureRestartDelay, func() {
		s.mu.Lock()
		eligible := !s.paused && s.state == StateListening && !s.isProcessing && !s.captureActive && !s.guard.Muted()
		s.mu.Unlock()
		if eligible {
			s.startCapture()
		}
	})
}

// handleFinalize is the segmenter's convergence point into the turn cycle.
// The isProcessing guard makes concurrent submission for the same session
// structurally impossible.
func (s *Session) handleFinalize(text string) {
	s.mu.Lock()
	if s.paused || s.state == StateDisposed || s.isProcessing {
		s.mu.Unlock()
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	s.setState(StateFinalizing)
	s.observer.OnUtterance(text)

	go s.runTurn(text)
}

func (s *Session) runTurn(text string) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.turnCancel = cancel
	prevent := !s.cfg.DisableFeedbackPrevention
	tc := s.tc
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("session %s: turn panic: %v", s.id, r)
		}
		cancel()
		s.finishTurn()
	}()

	if prevent {
		s.guard.Mute()
	}
	s.pipe.run(ctx, text, tc, s.setState)
}

// runGreeting speaks the configured greeting through the same tier chain,
// skipping generation.
func (s *Session) runGreeting(text string) {
	s.mu.Lock()
	if s.isProcessing || s.paused || s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.isProcessing = true
	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	prevent := !s.cfg.DisableFeedbackPrevention
	persona := s.tc.Persona
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("session %s: greeting panic: %v", s.id, r)
		}
		cancel()
		s.finishTurn()
	}()

	if prevent {
		s.guard.Mute()
	}
	s.observer.OnReply(text)
	s.pipe.speak(ctx, text, persona, s.setState)
}

// finishTurn is the finally-equivalent for every turn exit path: the
// processing guard clears, the cooldown starts, and the unmute is scheduled
// exactly once.
func (s *Session) finishTurn() {
	s.mu.Lock()
	s.isProcessing = false
	s.turnCancel = nil
	delay := s.cfg.PostSpeechMuteDelay
	skip := s.paused || s.state == StateDisposed
	s.mu.Unlock()

	if skip {
		return
	}
	s.setState(StateCoolingDown)
	s.guard.ScheduleUnmute(delay)
}

// rearm returns the session to Listening after the cooldown. Invoked by the
// guard's unmute path, once per turn.
func (s *Session) rearm() {
	s.mu.Lock()
	if s.paused || s.state == StateDisposed || s.isProcessing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.seg.reset()
	s.setState(StateListening)
	s.startCapture()
}

func (s *Session) trackPlayback(h PlaybackHandle) {
	s.mu.Lock()
	s.playback = h
	s.mu.Unlock()
}

func (s *Session) setState(st TurnState) {
	s.mu.Lock()
	if s.state == StateDisposed || s.state == st || (s.paused && st != StateIdle) {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.observer.OnStateChange(st)
}
