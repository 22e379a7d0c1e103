// Package store persists conversations and their utterances.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Conversation represents one tutoring session.
type Conversation struct {
	ID         string     `json:"id"`
	Subject    string     `json:"subject"`
	Persona    string     `json:"persona"`
	Difficulty string     `json:"difficulty"`
	Language   string     `json:"language"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Utterance is one finalized span of speech, from either side of the turn.
type Utterance struct {
	ID         string     `json:"id,omitempty"`
	Speaker    string     `json:"speaker"` // "student" or "tutor"
	Text       string     `json:"text"`
	Sequence   int        `json:"sequence"`
	Confidence *float64   `json:"confidence,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InsertConversation creates the conversation row at session start.
func (s *Store) InsertConversation(ctx context.Context, c Conversation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, subject, persona, difficulty, language, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Subject, c.Persona, c.Difficulty, c.Language, c.StartedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// EndConversation stamps the conversation's end time.
func (s *Store) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET ended_at = $2 WHERE id = $1
	`, id, endedAt)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

// InsertUtterance appends one utterance to a conversation.
func (s *Store) InsertUtterance(ctx context.Context, conversationID string, u Utterance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO utterances (conversation_id, speaker, text, sequence, confidence, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conversationID, u.Speaker, u.Text, u.Sequence, u.Confidence, u.StartedAt, u.EndedAt)
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

// ListConversations returns the most recent conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, subject, persona, difficulty, language, started_at, ended_at
		FROM conversations
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Subject, &c.Persona, &c.Difficulty, &c.Language, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation fetches a single conversation.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx, `
		SELECT id, subject, persona, difficulty, language, started_at, ended_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.Subject, &c.Persona, &c.Difficulty, &c.Language, &c.StartedAt, &c.EndedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListUtterances returns a conversation's utterances in sequence order.
func (s *Store) ListUtterances(ctx context.Context, conversationID string) ([]Utterance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, speaker, text, sequence, confidence, started_at, ended_at, created_at
		FROM utterances
		WHERE conversation_id = $1
		ORDER BY sequence ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.ID, &u.Speaker, &u.Text, &u.Sequence, &u.Confidence, &u.StartedAt, &u.EndedAt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
