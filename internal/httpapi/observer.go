package httpapi

import (
	"github.com/mkubicek/lektor/internal/eventlog"
	"github.com/mkubicek/lektor/internal/voice"
)

// convSession implements voice.Observer: engine notifications become
// websocket messages, persisted transcript rows and event-log entries.

func (cs *convSession) OnInterim(text string) {
	cs.send(serverMessage{Type: "interim", Text: text})
}

func (cs *convSession) OnUtterance(text string) {
	cs.logger.Printf("conversation_ws: student said: %s", text)
	cs.send(serverMessage{Type: "utterance", Text: text})
	cs.persistUtterance("student", text)
	cs.eventLog.LogAsync(cs.id, eventlog.EventUtteranceFinalized, map[string]any{"chars": len(text)})
}

func (cs *convSession) OnReply(text string) {
	cs.logger.Printf("conversation_ws: tutor reply: %s", text)
	cs.send(serverMessage{Type: "reply", Text: text})
	cs.persistUtterance("tutor", text)
	cs.eventLog.LogAsync(cs.id, eventlog.EventReplyGenerated, map[string]any{"chars": len(text)})
}

func (cs *convSession) OnSpeakingStarted() {
	cs.send(serverMessage{Type: "speaking-started"})
	cs.eventLog.LogAsync(cs.id, eventlog.EventPlaybackStarted, nil)
}

func (cs *convSession) OnSpeakingEnded() {
	cs.send(serverMessage{Type: "speaking-ended"})
	cs.eventLog.LogAsync(cs.id, eventlog.EventPlaybackEnded, nil)
}

func (cs *convSession) OnError(kind voice.FailureKind, message string) {
	cs.sendError(kind.String(), message)
	cs.eventLog.LogAsync(cs.id, errorEventType(kind, message), map[string]any{"kind": kind.String()})
}

// errorEventType picks the log entry for an engine failure. Generation
// failures are the common case, but capture drops and playback faults get
// their own types so the log distinguishes a throttled model from a dead
// microphone.
func errorEventType(kind voice.FailureKind, message string) eventlog.EventType {
	switch {
	case kind == voice.FailureValidation:
		return eventlog.EventSynthesisFallback
	case kind == voice.FailureCapture:
		return eventlog.EventCaptureError
	case message == voice.PlaybackFailedMessage:
		return eventlog.EventPlaybackFailed
	default:
		return eventlog.EventGenerationFailed
	}
}

func (cs *convSession) OnStateChange(state voice.TurnState) {
	cs.send(serverMessage{Type: "state", State: state.String()})
	switch state {
	case voice.StateGenerating:
		cs.eventLog.LogAsync(cs.id, eventlog.EventTurnStarted, nil)
	case voice.StatePlaying:
		cs.eventLog.LogAsync(cs.id, eventlog.EventMicMuted, nil)
	case voice.StateListening:
		cs.eventLog.LogAsync(cs.id, eventlog.EventMicUnmuted, nil)
	}
}
