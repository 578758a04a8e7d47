package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the caller of the generate endpoint.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the chat model.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role
	Content string
	// CreatedAt is set by the store on Append.
	CreatedAt time.Time
}

// ConversationStore persists chat history keyed by session id.
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append persists msgs for the session atomically, in order.
	Append(ctx context.Context, session string, msgs ...Message) error
	// Recent returns up to n of the session's latest messages, oldest first.
	Recent(ctx context.Context, session string, n int) ([]Message, error)
	// Clear deletes the session's history.
	Clear(ctx context.Context, session string) error
}

// Append implements ConversationStore. A question and its answer are
// written in one transaction so history never holds half a turn.
func (s *SQLiteStore) Append(ctx context.Context, session string, msgs ...Message) error {
	if session == "" {
		return errors.New("store: append: empty session id")
	}
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (session, role, content, created_at) VALUES (?, ?, ?, ?)`,
			session, string(m.Role), m.Content, now); err != nil {
			return fmt.Errorf("store: append %s message: %w", m.Role, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append: commit: %w", err)
	}
	return nil
}

// Recent implements ConversationStore.
func (s *SQLiteStore) Recent(ctx context.Context, session string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   conversations
    WHERE  session = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, session, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m    Message
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent: scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return msgs, nil
}

// Clear implements ConversationStore.
func (s *SQLiteStore) Clear(ctx context.Context, session string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session = ?`, session); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}
