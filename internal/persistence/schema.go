package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
//
// Dependencies are stored as raw ids without a foreign key: a backlog may
// reference tasks that are not imported yet, and the scheduler reports those.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY COLLATE NOCASE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'To Do',
		ordinal INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL COLLATE NOCASE,
		position INTEGER NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, position),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL COLLATE NOCASE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conversation_history_task_timestamp
		ON conversation_history(task_id, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
