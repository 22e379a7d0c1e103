package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"
)

// pipeline turns a finalized utterance into audible output: generate a text
// reply, synthesize it through an ordered tier chain, play the result. Each
// stage's failure is independent; a generation failure aborts the turn before
// synthesis, a synthesis failure falls to the next tier, and the last tier (a
// silent placeholder) always succeeds so playback callbacks fire
// deterministically.
type pipeline struct {
	responder Responder
	synth     Synthesizer
	local     LocalSynthesizer // may be nil
	player    Player
	voiceFor  func(persona string) string // may be nil
	observer  Observer
	logger    *log.Logger

	// trackPlayback hands the active handle to the session (nil on release)
	// so pause/dispose can stop in-progress playback.
	trackPlayback func(h PlaybackHandle)
}

type synthTier struct {
	name string
	run  func(ctx context.Context, text string) ([]byte, error)
}

// run executes one full turn for an already-finalized utterance. stage is
// invoked as the pipeline moves through Generating, Synthesizing and Playing.
func (p *pipeline) run(ctx context.Context, utterance string, tc TurnContext, stage func(TurnState)) {
	text := sanitizeUtterance(utterance)
	if text == "" {
		return
	}

	stage(StateGenerating)
	gctx, cancel := context.WithTimeout(ctx, generateTimeout)
	reply, err := p.responder.Generate(gctx, text, tc)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.logger.Printf("pipeline: generation canceled")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("generation timed out: %w", ErrUnavailable)
		}
		kind := KindOf(err)
		p.logger.Printf("pipeline: generation failed (%s): %v", kind, err)
		p.observer.OnError(kind, UserMessage(kind))
		return
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		p.logger.Printf("pipeline: responder returned empty reply")
		p.observer.OnError(FailureGeneric, UserMessage(FailureGeneric))
		return
	}
	p.observer.OnReply(reply)

	p.speak(ctx, reply, tc.Persona, stage)
}

// speak synthesizes and plays text. Also used directly for the greeting turn,
// which has no generation stage.
func (p *pipeline) speak(ctx context.Context, text, persona string, stage func(TurnState)) {
	stage(StateSynthesizing)
	audio := p.synthesize(ctx, text, persona)

	stage(StatePlaying)
	p.play(ctx, audio)
}

// synthesize walks the tier chain in order and always returns playable audio:
// primary service, local fallback if available, then the silent placeholder.
func (p *pipeline) synthesize(ctx context.Context, text, persona string) []byte {
	voiceID := ""
	if p.voiceFor != nil {
		voiceID = p.voiceFor(persona)
	}

	tiers := []synthTier{
		{name: "primary", run: func(ctx context.Context, t string) ([]byte, error) {
			return p.synth.Synthesize(ctx, t, voiceID)
		}},
	}
	if p.local != nil {
		tiers = append(tiers, synthTier{name: "local", run: p.local.SynthesizeLocally})
	}

	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
		audio, err := tier.run(sctx, text)
		cancel()
		if err == nil && len(audio) > minPlausibleAudioBytes {
			return audio
		}
		if err == nil {
			err = fmt.Errorf("%d bytes is below plausible minimum: %w", len(audio), ErrValidation)
		}
		p.logger.Printf("pipeline: %s synthesis failed: %v", tier.name, err)
	}

	if ctx.Err() == nil {
		p.observer.OnError(FailureValidation, VoiceOutputFailedMessage)
	}
	return SilentWAV()
}

// play runs one playback session. Start and end notifications fire on every
// path; playback errors are reported but never propagate past the pipeline.
func (p *pipeline) play(ctx context.Context, audio []byte) {
	p.observer.OnSpeakingStarted()
	startedAt := time.Now()
	defer p.observer.OnSpeakingEnded()

	handle, err := p.player.Play(ctx, audio)
	if err != nil {
		p.logger.Printf("pipeline: playback start failed: %v", err)
		p.observer.OnError(FailureGeneric, PlaybackFailedMessage)
		return
	}

	if p.trackPlayback != nil {
		p.trackPlayback(handle)
		defer p.trackPlayback(nil)
	}

	select {
	case err := <-handle.Done():
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("pipeline: playback failed after %s: %v", time.Since(startedAt), err)
			p.observer.OnError(FailureGeneric, PlaybackFailedMessage)
			return
		}
		p.logger.Printf("pipeline: playback finished in %s", time.Since(startedAt).Round(time.Millisecond))
	case <-ctx.Done():
		handle.Stop()
	}
}

func sanitizeUtterance(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxUtteranceChars {
		runes := []rune(text)
		text = string(runes[:maxUtteranceChars])
	}
	return text
}
