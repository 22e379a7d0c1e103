package llm

import (
	"fmt"
	"strings"

	"github.com/mkubicek/lektor/internal/voice"
)

// basePrompt is the tutor's standing instruction set. Replies are spoken
// aloud, so they must stay short and free of markup.
const basePrompt = `You are a spoken tutor in a live voice conversation.

Rules:
- Answer in 2-4 short sentences. The reply is read aloud by a speech
  synthesizer, so never use lists, headings, code blocks or emoji.
- Stay on the student's subject. If the question drifts far away, gently
  steer back.
- If you don't know, say so plainly instead of guessing.
- Ask at most one follow-up question, and only when it helps the student
  continue.`

// personaStyles adjusts delivery per persona. Unknown personas fall back to
// the friendly default.
var personaStyles = map[string]string{
	"friendly":  "Speak warmly and encouragingly, like a patient mentor.",
	"strict":    "Be precise and demanding. Point out mistakes directly, without padding.",
	"socratic":  "Prefer guiding questions over direct answers when the student is close.",
	"energetic": "Keep a lively, enthusiastic tone with vivid everyday examples.",
}

var difficultyStyles = map[string]string{
	"beginner":     "Assume no prior knowledge. Use simple words and everyday analogies.",
	"intermediate": "Assume basic familiarity. Introduce proper terminology with brief explanations.",
	"advanced":     "Assume solid grounding. Be rigorous and skip the basics.",
}

// SystemPrompt builds the per-session system prompt from the turn context.
func SystemPrompt(tc voice.TurnContext) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if tc.Subject != "" {
		fmt.Fprintf(&b, "\n\nSubject: %s.", tc.Subject)
	}
	if style, ok := personaStyles[strings.ToLower(tc.Persona)]; ok {
		b.WriteString("\n" + style)
	} else {
		b.WriteString("\n" + personaStyles["friendly"])
	}
	if style, ok := difficultyStyles[strings.ToLower(tc.Difficulty)]; ok {
		b.WriteString("\n" + style)
	}
	return b.String()
}
