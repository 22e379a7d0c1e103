// Package llm provides text-generation clients for the reply pipeline.
package llm

import (
	"context"

	"github.com/mkubicek/lektor/internal/voice"
)

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for LLM providers. Failures are wrapped in
// the voice failure sentinels so the pipeline can classify them.
type Client interface {
	// Generate returns a reply for the conversation so far. The last message
	// is the user's finalized utterance.
	Generate(ctx context.Context, messages []Message, tc voice.TurnContext) (string, error)
}
