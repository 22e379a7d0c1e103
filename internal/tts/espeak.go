package tts

import (
	"context"
	"fmt"
	"os/exec"
)

// EspeakSynthesizer is the offline tier-2 fallback, implementing
// voice.LocalSynthesizer by shelling out to espeak-ng (or espeak). Output is
// WAV on stdout. NewEspeakSynthesizer returns nil when no binary is on PATH,
// in which case the pipeline skips straight to the silent tier.
type EspeakSynthesizer struct {
	bin string
}

// NewEspeakSynthesizer locates an espeak binary. Returns nil if none exists.
func NewEspeakSynthesizer() *EspeakSynthesizer {
	for _, name := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(name); err == nil {
			return &EspeakSynthesizer{bin: path}
		}
	}
	return nil
}

// SynthesizeLocally renders text to WAV bytes with the local engine.
func (s *EspeakSynthesizer) SynthesizeLocally(ctx context.Context, text string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.bin, "--stdout", "-s", "160", text)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("espeak failed: %w", err)
	}
	return out, nil
}
