package voice

import "time"

// Tunables with spec'd bounds. Values outside bounds are clamped, never
// rejected.
const (
	DefaultSilenceThreshold = 600 * time.Millisecond
	MinSilenceThreshold     = 300 * time.Millisecond
	MaxSilenceThreshold     = 2000 * time.Millisecond

	DefaultPostSpeechMuteDelay = 500 * time.Millisecond
	MinPostSpeechMuteDelay     = 200 * time.Millisecond
	MaxPostSpeechMuteDelay     = 1000 * time.Millisecond

	DefaultNoiseThresholdChars = 3
)

const (
	// Delay after an engine-final transcript before finalizing, absorbing
	// immediate duplicate final events from the capture engine.
	finalDebounce = 500 * time.Millisecond

	// Input gain ramp length on mute/unmute (click avoidance).
	gainRampDuration = 100 * time.Millisecond

	// Delay before restarting capture after a transient engine error.
	captureRestartDelay = time.Second

	// Upstream calls are bounded so a hung service cannot stall the turn.
	// Expiry is treated as service-unavailable.
	generateTimeout   = 30 * time.Second
	synthesizeTimeout = 20 * time.Second

	// Synthesis results at or below this size are treated as failures.
	minPlausibleAudioBytes = 128

	// Utterances are truncated to this many characters before generation.
	maxUtteranceChars = 2000

	visualizationInterval = 33 * time.Millisecond
)

// Config holds the per-session tunables. Zero values are replaced with
// defaults by NewSession; every zero field, including the prevention flag,
// yields the documented default behavior.
type Config struct {
	SilenceThreshold    time.Duration
	NoiseThresholdChars int
	PostSpeechMuteDelay time.Duration

	// DisableFeedbackPrevention turns off muting while the tutor speaks.
	// Inverted so the zero value keeps prevention on.
	DisableFeedbackPrevention bool

	Language string
}

// DefaultConfig returns the session defaults: 600 ms silence threshold,
// 3-char noise floor, 500 ms post-speech delay, feedback prevention on.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:    DefaultSilenceThreshold,
		NoiseThresholdChars: DefaultNoiseThresholdChars,
		PostSpeechMuteDelay: DefaultPostSpeechMuteDelay,
		Language:            "en",
	}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// ClampSilenceThreshold bounds a silence threshold to [300ms, 2000ms].
func ClampSilenceThreshold(d time.Duration) time.Duration {
	return clampDuration(d, MinSilenceThreshold, MaxSilenceThreshold)
}

// ClampPostSpeechDelay bounds a post-speech unmute delay to [200ms, 1000ms].
func ClampPostSpeechDelay(d time.Duration) time.Duration {
	return clampDuration(d, MinPostSpeechMuteDelay, MaxPostSpeechMuteDelay)
}
