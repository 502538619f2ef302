package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/specrunner/internal/scheduler"
)

// SaveTask inserts or replaces a task and its dependency list.
func (s *SQLiteStore) SaveTask(ctx context.Context, task scheduler.Task) error {
	id := strings.TrimSpace(task.ID)
	if id == "" {
		return errors.New("task has empty ID")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := task.Status
	if strings.TrimSpace(status) == "" {
		status = scheduler.StatusToDo
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, ordinal, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			ordinal = excluded.ordinal,
			priority = excluded.priority,
			updated_at = CURRENT_TIMESTAMP
	`, id, task.Title, task.Description, status, task.Ordinal, task.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for i, dep := range task.Dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, position, depends_on_id)
			VALUES (?, ?, ?)
		`, id, i, dep)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", id, dep, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notify(id)
	return nil
}

// GetSpec returns the task with the given id, compared case-insensitively.
// found is false when no such task exists.
func (s *SQLiteStore) GetSpec(ctx context.Context, id string) (scheduler.Task, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var task scheduler.Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, ordinal, priority
		FROM tasks
		WHERE id = ?
	`, strings.TrimSpace(id)).Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.Ordinal, &task.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Task{}, false, nil
	}
	if err != nil {
		return scheduler.Task{}, false, fmt.Errorf("failed to query task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY position
	`, task.ID)
	if err != nil {
		return scheduler.Task{}, false, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return scheduler.Task{}, false, fmt.Errorf("failed to scan dependency: %w", err)
		}
		task.Dependencies = append(task.Dependencies, dep)
	}
	if err := rows.Err(); err != nil {
		return scheduler.Task{}, false, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return task, true, nil
}

// ListSpecs returns every task ordered by ordinal (unset last), then id.
func (s *SQLiteStore) ListSpecs(ctx context.Context) ([]scheduler.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, ordinal, priority
		FROM tasks
		ORDER BY CASE WHEN ordinal <> 0 THEN ordinal ELSE ? END, id
	`, scheduler.DefaultOrdinal)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	tasks := []scheduler.Task{}
	pos := make(map[string]int)
	for rows.Next() {
		var t scheduler.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Ordinal, &t.Priority); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		pos[scheduler.Key(t.ID)] = len(tasks)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	// Load every dependency in one pass rather than a query per task.
	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		ORDER BY task_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, dep string
		if err := depRows.Scan(&taskID, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if i, ok := pos[scheduler.Key(taskID)]; ok {
			tasks[i].Dependencies = append(tasks[i].Dependencies, dep)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return tasks, nil
}

// UpdateTaskStatus sets the status of an existing task.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	s.notify(strings.TrimSpace(id))
	return nil
}

// DeleteTask removes a task with its dependencies and history.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	s.notify(strings.TrimSpace(id))
	return nil
}
