package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/agentspawn/internal/embedding"
	"github.com/nidhogg/agentspawn/internal/vectorstore"
	"go.uber.org/zap"
)

// VectorIndex is the subset of the Qdrant client semantic recall needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, match map[string]string) ([]vectorstore.Hit, error)
}

// Semantic layers similarity search over a chronological Provider: Recall
// returns the thread's recent entries plus older entries related to the
// query. Vector failures degrade to the recent window only.
type Semantic struct {
	recent     Provider
	index      VectorIndex
	embedder   embedding.Provider
	collection string
	topK       int
	logger     *zap.Logger
}

// NewSemantic creates a semantic memory over recent.
func NewSemantic(recent Provider, index VectorIndex, embedder embedding.Provider, collection string, logger *zap.Logger) *Semantic {
	if collection == "" {
		collection = "agentspawn_threads"
	}
	return &Semantic{recent: recent, index: index, embedder: embedder, collection: collection, topK: 5, logger: logger}
}

// Init creates the collection sized to the embedder.
func (s *Semantic) Init(ctx context.Context) error {
	dim := s.embedder.Dimension()
	if dim == 0 {
		vecs, err := s.embedder.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			return fmt.Errorf("probe embedding dimension: %w", err)
		}
		dim = len(vecs[0])
	}
	return s.index.EnsureCollection(ctx, s.collection, uint64(dim))
}

func (s *Semantic) Recall(ctx context.Context, threadID, query string, limit int) ([]Entry, error) {
	entries, err := s.recent.Recall(ctx, threadID, query, limit)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return entries, nil
	}

	related, err := s.related(ctx, threadID, query)
	if err != nil {
		s.logger.Warn("semantic recall failed", zap.String("thread_id", threadID), zap.Error(err))
		return entries, nil
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[entryKey(e)] = true
	}
	var extra []Entry
	for _, e := range related {
		if !seen[entryKey(e)] {
			seen[entryKey(e)] = true
			extra = append(extra, e)
		}
	}
	out := append(extra, entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *Semantic) Remember(ctx context.Context, threadID string, entries ...Entry) error {
	if err := s.recent.Remember(ctx, threadID, entries...); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("embedding history failed", zap.String("thread_id", threadID), zap.Error(err))
		return nil
	}
	points := make([]vectorstore.Point, len(entries))
	for i, e := range entries {
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		points[i] = vectorstore.Point{
			ID:     uuid.New().String(),
			Vector: vecs[i],
			Payload: map[string]string{
				"thread_id": threadID,
				"role":      e.Role,
				"content":   e.Content,
				"task_id":   e.TaskID,
				"at":        at.UTC().Format(time.RFC3339Nano),
			},
		}
	}
	if err := s.index.Upsert(ctx, s.collection, points...); err != nil {
		s.logger.Warn("indexing history failed", zap.String("thread_id", threadID), zap.Error(err))
	}
	return nil
}

func (s *Semantic) related(ctx context.Context, threadID, query string) ([]Entry, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, s.collection, vecs[0], uint64(s.topK), map[string]string{"thread_id": threadID})
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		at, _ := time.Parse(time.RFC3339Nano, h.Payload["at"])
		out = append(out, Entry{
			Role:    h.Payload["role"],
			Content: h.Payload["content"],
			TaskID:  h.Payload["task_id"],
			At:      at,
		})
	}
	return out, nil
}

func entryKey(e Entry) string {
	return e.Role + "\x00" + e.Content
}
