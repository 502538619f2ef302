package persistence

import (
	"context"
	"fmt"
	"strings"
)

// SaveMessage appends a conversation message for a stored task.
func (s *SQLiteStore) SaveMessage(ctx context.Context, taskID, role, content string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (task_id, role, content)
		VALUES (?, ?, ?)
	`, strings.TrimSpace(taskID), role, content)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetHistory retrieves all conversation messages for a task in chronological order.
// Returns empty slice (not nil) if no history exists.
func (s *SQLiteStore) GetHistory(ctx context.Context, taskID string) ([]ConversationTurn, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// id breaks ties between messages saved within the same second
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM conversation_history
		WHERE task_id = ?
		ORDER BY timestamp ASC, id ASC
	`, strings.TrimSpace(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []ConversationTurn{}
	for rows.Next() {
		var turn ConversationTurn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}
