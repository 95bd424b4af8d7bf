package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
)

// SaveRun upserts a finished run.
func (s *Store) SaveRun(ctx context.Context, r *orchestrator.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (task_id, thread_id, complexity, workflow_status, agent_count, error_count, result, started_at, completed_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			workflow_status = EXCLUDED.workflow_status,
			agent_count = EXCLUDED.agent_count,
			error_count = EXCLUDED.error_count,
			result = EXCLUDED.result,
			completed_at = EXCLUDED.completed_at`,
		r.TaskID, r.ThreadID, string(r.TaskMetadata.Complexity), string(r.WorkflowStatus),
		len(r.SpawnedAgents), len(r.Errors), data, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.TaskID, err)
	}
	return nil
}

// GetRun loads a run by task ID.
func (s *Store) GetRun(ctx context.Context, taskID string) (*orchestrator.Result, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT result FROM runs WHERE task_id = $1`, taskID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", taskID, orchestrator.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", taskID, err)
	}
	var r orchestrator.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", taskID, err)
	}
	return &r, nil
}

// ThreadRuns lists task IDs of a thread's runs, oldest first.
func (s *Store) ThreadRuns(ctx context.Context, threadID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT task_id FROM runs WHERE thread_id = $1 ORDER BY started_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("thread runs: %w", err)
	}
	return ids, nil
}
