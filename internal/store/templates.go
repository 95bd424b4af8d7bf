package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
)

// SaveTemplate upserts a custom agent template.
func (s *Store) SaveTemplate(ctx context.Context, t registry.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_templates (agent_type, template, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_type) DO UPDATE SET template = EXCLUDED.template, updated_at = now()`,
		string(t.Type), data)
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.Type, err)
	}
	return nil
}

// LoadTemplates registers every stored template into reg and returns how
// many were loaded. Invalid rows are skipped and reported.
func (s *Store) LoadTemplates(ctx context.Context, reg *registry.Registry) (int, error) {
	rows, err := s.db.Query(ctx, `SELECT agent_type, template FROM agent_templates ORDER BY agent_type`)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var typ string
		var data []byte
		if err := rows.Scan(&typ, &data); err != nil {
			return n, fmt.Errorf("scan template: %w", err)
		}
		var t registry.Template
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Warn("skipping undecodable template", zap.String("agent_type", typ), zap.Error(err))
			continue
		}
		if err := reg.Register(t); err != nil {
			s.logger.Warn("skipping invalid template", zap.String("agent_type", typ), zap.Error(err))
			continue
		}
		n++
	}
	return n, rows.Err()
}
