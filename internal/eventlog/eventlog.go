// Package eventlog records turn-cycle events for debugging and audit.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventConversationStarted EventType = "conversation_started"
	EventUtteranceFinalized  EventType = "utterance_finalized"
	EventTurnStarted         EventType = "turn_started"
	EventReplyGenerated      EventType = "reply_generated"
	EventGenerationFailed    EventType = "generation_failed"
	EventSynthesisFallback   EventType = "synthesis_fallback"
	EventCaptureError        EventType = "capture_error"
	EventPlaybackFailed      EventType = "playback_failed"
	EventPlaybackStarted     EventType = "playback_started"
	EventPlaybackEnded       EventType = "playback_ended"
	EventMicMuted            EventType = "mic_muted"
	EventMicUnmuted          EventType = "mic_unmuted"
	EventPaused              EventType = "paused"
	EventResumed             EventType = "resumed"
	EventConversationEnded   EventType = "conversation_ended"
)

// Logger provides event logging to the database.
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil pool makes every call a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event synchronously.
func (l *Logger) Log(ctx context.Context, conversationID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || conversationID == "" {
		return nil
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO conversation_events (conversation_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, conversationID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller. Turn-cycle paths are
// latency sensitive, so the engine only ever uses this form.
func (l *Logger) LogAsync(conversationID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || conversationID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, conversationID, eventType, data)
	}()
}
