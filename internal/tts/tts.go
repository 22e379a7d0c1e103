// Package tts provides text-to-speech synthesis tiers for the reply
// pipeline: the ElevenLabs service as the primary tier and an offline
// espeak-ng subprocess as the local fallback.
package tts

import "strings"

// defaultVoiceID is ElevenLabs' "Rachel", used when a persona has no mapping.
const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// personaVoices maps tutor personas to ElevenLabs voice IDs.
var personaVoices = map[string]string{
	"friendly":  defaultVoiceID,
	"strict":    "29vD33N1CtxCmqQRPOHJ", // Drew
	"socratic":  "5Q0t7uMcjvnagumLfvZi", // Paul
	"energetic": "jsCqWAovK2LkecY7zXl4", // Freya
}

// VoiceFor returns the synthesizer voice for a persona, falling back to the
// default voice for unknown personas.
func VoiceFor(persona string) string {
	if id, ok := personaVoices[strings.ToLower(persona)]; ok {
		return id
	}
	return defaultVoiceID
}
