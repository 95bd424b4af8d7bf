package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/agentspawn/internal/memory"
)

// Recall returns the newest limit messages of a thread, oldest first. The
// query is ignored; ranking is chronological.
func (s *Store) Recall(ctx context.Context, threadID, _ string, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT role, content, COALESCE(task_id, ''), created_at FROM (
			SELECT id, role, content, task_id, created_at
			FROM thread_messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("recall thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var e memory.Entry
		if err := rows.Scan(&e.Role, &e.Content, &e.TaskID, &e.At); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remember appends entries to a thread, creating the thread if needed.
func (s *Store) Remember(ctx context.Context, threadID string, entries ...memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO threads (id) VALUES ($1)
			ON CONFLICT (id) DO UPDATE SET updated_at = now()`, threadID); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			at := e.At
			if at.IsZero() {
				at = time.Now()
			}
			batch.Queue(`
				INSERT INTO thread_messages (thread_id, role, content, task_id, created_at)
				VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
				threadID, e.Role, e.Content, e.TaskID, at)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append messages: %w", err)
		}
		return nil
	})
}
