// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/kgassist/internal/dispatch"
)

// ConversationStore persists conversation turns and user memory.
// It implements dispatch.ConversationStore.
type ConversationStore struct {
	db *DB
	// MaxTurns caps stored turns per conversation (0 = unlimited).
	MaxTurns int
}

// NewConversationStore creates a store over db.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db, MaxTurns: 200}
}

var _ dispatch.ConversationStore = (*ConversationStore)(nil)

// =============================================================================
// HISTORY
// =============================================================================

// History returns the last limit turns of a conversation, oldest first.
func (s *ConversationStore) History(ctx context.Context, conversationID string, limit int) ([]dispatch.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, tokens, created_at FROM (
			SELECT seq, id, conversation_id, user_id, role, content, tokens, created_at
			FROM conversation_turns
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []dispatch.Turn
	for rows.Next() {
		var t dispatch.Turn
		var created int64
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.Role, &t.Content, &t.Tokens, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(created)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Append stores turns in one transaction and trims the conversation to
// MaxTurns.
func (s *ConversationStore) Append(ctx context.Context, turns ...dispatch.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	trim := make(map[string]bool)
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (id, conversation_id, user_id, role, content, tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ConversationID, t.UserID, t.Role, t.Content, t.Tokens, t.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		trim[t.ConversationID] = true
	}

	if s.MaxTurns > 0 {
		for conv := range trim {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM conversation_turns
				WHERE conversation_id = ? AND seq NOT IN (
					SELECT seq FROM conversation_turns WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
				)`, conv, conv, s.MaxTurns); err != nil {
				return fmt.Errorf("trim conversation: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteConversation removes all turns of a conversation.
func (s *ConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := s.db.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE conversation_id = ?", conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	return nil
}

// =============================================================================
// MEMORY
// =============================================================================

// Memory returns up to limit snippets, most important first.
func (s *ConversationStore) Memory(ctx context.Context, userID string, limit int) ([]dispatch.MemorySnippet, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT key, content, importance, updated_at FROM user_memory
		WHERE user_id = ?
		ORDER BY importance DESC, updated_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var out []dispatch.MemorySnippet
	for rows.Next() {
		var m dispatch.MemorySnippet
		var updated int64
		if err := rows.Scan(&m.Key, &m.Content, &m.Importance, &updated); err != nil {
			return nil, err
		}
		m.UpdatedAt = time.UnixMilli(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Remember upserts a memory snippet. importance is clamped to [0, 1].
func (s *ConversationStore) Remember(ctx context.Context, userID, key, content string, importance float64) error {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO user_memory (user_id, key, content, importance, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			content = excluded.content,
			importance = excluded.importance,
			updated_at = excluded.updated_at`,
		userID, key, content, importance, time.Now().UnixMilli())
	return err
}

// Forget deletes one memory snippet.
func (s *ConversationStore) Forget(ctx context.Context, userID, key string) error {
	_, err := s.db.db.ExecContext(ctx, "DELETE FROM user_memory WHERE user_id = ? AND key = ?", userID, key)
	return err
}
