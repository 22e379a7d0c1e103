// Package voice implements the conversational turn-taking engine: continuous
// speech capture segmented into discrete utterances, feedback-safe muting
// while the tutor speaks, and a reply pipeline that degrades through synthesis
// tiers instead of failing. The engine is in-process; capture, generation,
// synthesis and playback are reached through the interfaces below.
package voice

import (
	"context"
	"encoding/binary"
	"time"
)

// TurnState is the single authoritative state of a conversation session.
// Exactly one state is active per session; Generating, Synthesizing and
// Playing are mutually exclusive with re-entry into Listening.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateFinalizing
	StateGenerating
	StateSynthesizing
	StatePlaying
	StateCoolingDown
	StateDisposed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateCoolingDown:
		return "cooling_down"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// SpeechEvent is one transcript snapshot from the capture engine. Transcript
// is the full text of the current speech span, not a delta.
type SpeechEvent struct {
	Transcript string
	Confidence float64
	IsFinal    bool
}

// Capture is the microphone-side collaborator. Start begins a capture run;
// events arrive on the returned channel until the run ends, at which point the
// channel is closed (end-of-stream). A Stop issued by the engine surfaces as
// ErrCaptureAborted on the error channel and is ignored.
type Capture interface {
	Start(ctx context.Context) (<-chan SpeechEvent, <-chan error, error)
	Stop() error
}

// TurnContext carries the tutoring context handed to the responder with every
// utterance.
type TurnContext struct {
	Subject    string
	Persona    string
	Difficulty string
	SessionID  string
}

// Responder produces a text reply for a finalized utterance.
type Responder interface {
	Generate(ctx context.Context, text string, tc TurnContext) (string, error)
}

// Synthesizer is the primary text-to-speech service (tier 1).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// LocalSynthesizer is the offline fallback (tier 2). May be absent.
type LocalSynthesizer interface {
	SynthesizeLocally(ctx context.Context, text string) ([]byte, error)
}

// PlaybackHandle tracks one in-flight playback. Done yields nil on natural
// end or an error on playback failure, exactly once.
type PlaybackHandle interface {
	Done() <-chan error
	Stop()
}

// Player is the audio-output collaborator.
type Player interface {
	Play(ctx context.Context, audio []byte) (PlaybackHandle, error)
}

// GainControl ramps the capture input gain. Implementations apply the ramp
// exponentially on the audio device; the engine only issues targets.
type GainControl interface {
	RampTo(level float64, over time.Duration)
}

// EnergySource exposes audio energy for visualization. Returning nil means
// the audio graph is unavailable and no frame is produced.
type EnergySource interface {
	Frequencies() []float64
}

// VisualizationFrame is an ephemeral snapshot of frequency-energy samples.
type VisualizationFrame struct {
	Samples []float64
	At      time.Time
}

// Observer receives session lifecycle notifications. Callbacks are invoked
// from engine goroutines and must not block for long.
type Observer interface {
	OnInterim(text string)
	OnUtterance(text string)
	OnReply(text string)
	OnSpeakingStarted()
	OnSpeakingEnded()
	OnError(kind FailureKind, message string)
	OnStateChange(state TurnState)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) OnInterim(string)             {}
func (NopObserver) OnUtterance(string)           {}
func (NopObserver) OnReply(string)               {}
func (NopObserver) OnSpeakingStarted()           {}
func (NopObserver) OnSpeakingEnded()             {}
func (NopObserver) OnError(FailureKind, string)  {}
func (NopObserver) OnStateChange(TurnState)      {}

// SilentWAV returns a zero-duration WAV container (8 kHz mono 16-bit, empty
// data chunk). Used as the last-resort synthesis tier so playback lifecycle
// callbacks still fire when every real tier failed.
func SilentWAV() []byte {
	b := make([]byte, 44)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36)
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1) // PCM
	binary.LittleEndian.PutUint16(b[22:], 1) // mono
	binary.LittleEndian.PutUint32(b[24:], 8000)
	binary.LittleEndian.PutUint32(b[28:], 16000)
	binary.LittleEndian.PutUint16(b[32:], 2)
	binary.LittleEndian.PutUint16(b[34:], 16)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], 0)
	return b
}
