// Package stt provides streaming speech-to-text capture engines.
package stt

import "context"

// Ingest accepts raw audio for an active capture run. Implemented by engines
// that are fed from an external transport rather than a local microphone.
type Ingest interface {
	// StreamAudio sends audio data to the STT service. Audio must be in the
	// format the engine was configured with.
	StreamAudio(ctx context.Context, audio []byte) error
}
