// Package lineage records which specialists each task spawned as a Neo4j
// graph: (:Task)-[:SPAWNED]->(:Agent) and (:Task)-[:SKIPPED]->(:AgentType).
package lineage

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"go.uber.org/zap"
)

// Graph is an orchestrator.EventSink backed by Neo4j.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraph connects to Neo4j and verifies the connection.
func NewGraph(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Close shuts down the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// statement maps an event to the Cypher that records it. Events with no
// lineage meaning return "".
func statement(ev orchestrator.Event) (string, map[string]any) {
	params := map[string]any{
		"taskId":    ev.TaskID,
		"threadId":  ev.ThreadID,
		"agentId":   ev.AgentID,
		"agentType": string(ev.AgentType),
		"status":    ev.Status,
		"detail":    ev.Detail,
		"at":        ev.At.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	switch ev.Type {
	case orchestrator.EventTaskReceived:
		return `MERGE (t:Task {id: $taskId})
			SET t.thread_id = $threadId, t.text = $detail, t.received_at = $at, t.status = 'running'`, params
	case orchestrator.EventTaskClassified:
		return `MERGE (t:Task {id: $taskId})
			SET t.complexity = $status, t.keywords = $detail`, params
	case orchestrator.EventAgentSkipped:
		return `MERGE (t:Task {id: $taskId})
			MERGE (at:AgentType {name: $agentType})
			MERGE (t)-[:SKIPPED]->(at)`, params
	case orchestrator.EventAgentSpawned:
		return `MERGE (t:Task {id: $taskId})
			MERGE (a:Agent {id: $agentId})
			SET a.type = $agentType, a.status = $status, a.spawned_at = $at
			MERGE (t)-[:SPAWNED]->(a)`, params
	case orchestrator.EventAgentRunning, orchestrator.EventAgentCompleted, orchestrator.EventAgentFailed:
		return `MERGE (a:Agent {id: $agentId})
			SET a.type = $agentType, a.status = $status, a.error = $detail, a.updated_at = $at`, params
	case orchestrator.EventDirectAnswer:
		return `MERGE (t:Task {id: $taskId}) SET t.direct = true`, params
	case orchestrator.EventTaskCompleted, orchestrator.EventTaskFailed:
		return `MERGE (t:Task {id: $taskId})
			SET t.status = $status, t.finished_at = $at, t.failure = $detail`, params
	}
	return "", nil
}

// Publish writes ev into the graph.
func (g *Graph) Publish(ctx context.Context, ev orchestrator.Event) error {
	cypher, params := statement(ev)
	if cypher == "" {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("lineage %s: %w", ev.Type, err)
	}
	return nil
}

// SpawnRecord is one agent spawned by a task.
type SpawnRecord struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	Status    string `json:"status"`
}

// Spawned returns the agents a task spawned, ordered by spawn time.
func (g *Graph) Spawned(ctx context.Context, taskID string) ([]SpawnRecord, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Task {id: $taskId})-[:SPAWNED]->(a:Agent)
		 RETURN a.id AS id, a.type AS type, a.status AS status
		 ORDER BY a.spawned_at, a.id`,
		map[string]any{"taskId": taskID})
	if err != nil {
		return nil, err
	}
	var out []SpawnRecord
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		typ, _ := rec.Get("type")
		status, _ := rec.Get("status")
		out = append(out, SpawnRecord{AgentID: str(id), AgentType: str(typ), Status: str(status)})
	}
	return out, result.Err()
}

// TypeStats aggregates outcomes for one agent type across all tasks.
type TypeStats struct {
	AgentType string `json:"agent_type"`
	Spawned   int64  `json:"spawned"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Stats returns per-type outcome counts, sorted by type.
func (g *Graph) Stats(ctx context.Context) ([]TypeStats, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent)
		 RETURN a.type AS type, count(a) AS spawned,
		   sum(CASE a.status WHEN 'completed' THEN 1 ELSE 0 END) AS completed,
		   sum(CASE a.status WHEN 'failed' THEN 1 ELSE 0 END) AS failed`, nil)
	if err != nil {
		return nil, err
	}
	var out []TypeStats
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		spawned, _ := rec.Get("spawned")
		completed, _ := rec.Get("completed")
		failed, _ := rec.Get("failed")
		out = append(out, TypeStats{
			AgentType: str(typ),
			Spawned:   num(spawned),
			Completed: num(completed),
			Failed:    num(failed),
		})
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	n, _ := v.(int64)
	return n
}
