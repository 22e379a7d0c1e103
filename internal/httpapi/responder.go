package httpapi

import (
	"context"
	"sync"

	"github.com/mkubicek/lektor/internal/llm"
	"github.com/mkubicek/lektor/internal/voice"
)

// historyResponder implements voice.Responder on top of an llm.Client,
// keeping the running conversation so the tutor remembers earlier turns.
// History is session-scoped; it dies with the connection.
type historyResponder struct {
	client llm.Client

	mu       sync.Mutex
	messages []llm.Message
}

func newHistoryResponder(client llm.Client) *historyResponder {
	return &historyResponder{client: client}
}

// seed records an assistant message spoken outside the generate path, such as
// the greeting, so the model knows it was already said.
func (h *historyResponder) seed(text string) {
	h.mu.Lock()
	h.messages = append(h.messages, llm.Message{Role: "assistant", Content: text})
	h.mu.Unlock()
}

func (h *historyResponder) Generate(ctx context.Context, text string, tc voice.TurnContext) (string, error) {
	h.mu.Lock()
	messages := make([]llm.Message, len(h.messages), len(h.messages)+2)
	copy(messages, h.messages)
	h.mu.Unlock()
	messages = append(messages, llm.Message{Role: "user", Content: text})

	reply, err := h.client.Generate(ctx, messages, tc)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.messages = append(h.messages,
		llm.Message{Role: "user", Content: text},
		llm.Message{Role: "assistant", Content: reply},
	)
	h.mu.Unlock()

	return reply, nil
}
