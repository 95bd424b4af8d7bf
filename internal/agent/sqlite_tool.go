package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/agentspawn/internal/provider"
	_ "modernc.org/sqlite"
)

const maxQueryRows = 100

// QueryTool runs read-only SQL against a SQLite database file.
type QueryTool struct {
	db *sql.DB
}

// OpenQueryTool opens path read-only.
func OpenQueryTool(path string) (*QueryTool, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &QueryTool{db: db}, nil
}

// Register adds the database_query tool to reg.
func (q *QueryTool) Register(reg *ToolRegistry) {
	reg.Register(provider.Tool{
		Name:        "database_query",
		Description: "Run a read-only SELECT query against the analytics database and return rows as JSON",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "A single SELECT statement"},
		}, "query"),
	}, q.handle)
}

func (q *QueryTool) handle(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}
	stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p.Query), ";"))
	head := strings.ToLower(strings.SplitN(stmt, " ", 2)[0])
	if head != "select" && head != "with" {
		return "", fmt.Errorf("only SELECT queries are allowed")
	}
	if strings.Contains(stmt, ";") {
		return "", fmt.Errorf("multiple statements are not allowed")
	}

	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	var out []map[string]any
	for rows.Next() && len(out) < maxQueryRows {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return truncate(string(b), maxToolOutput), nil
}

// Close releases the database handle.
func (q *QueryTool) Close() error {
	return q.db.Close()
}
