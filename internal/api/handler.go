package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/gateway"
	"github.com/nidhogg/agentspawn/internal/lineage"
	"github.com/nidhogg/agentspawn/internal/memory"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/registry"
	"github.com/nidhogg/agentspawn/internal/selector"
	"go.uber.org/zap"
)

// TaskRunner runs one task. *orchestrator.Engine satisfies it.
type TaskRunner interface {
	ProcessTask(ctx context.Context, text, threadID string) *orchestrator.Result
}

// ActivityView reports running specialists. *orchestrator.Scheduler
// satisfies it.
type ActivityView interface {
	Running() []orchestrator.Execution
}

// TemplateSaver persists templates created over the API.
type TemplateSaver interface {
	SaveTemplate(ctx context.Context, t registry.Template) error
}

// LineageView answers questions about past spawn decisions.
type LineageView interface {
	Spawned(ctx context.Context, taskID string) ([]lineage.SpawnRecord, error)
	Stats(ctx context.Context) ([]lineage.TypeStats, error)
}

// StatusView reports chat adapter connections.
type StatusView interface {
	StatusAll() []gateway.AdapterStatus
}

// Deps holds the handler's collaborators. Engine, Runs and Templates are
// required; a nil optional dependency makes its routes answer 503.
type Deps struct {
	Engine    TaskRunner
	Activity  ActivityView
	Runs      orchestrator.RunStore
	Templates *registry.Registry
	Saver     TemplateSaver
	Tools     *agent.ToolRegistry
	History   memory.Provider
	Events    orchestrator.EventLog
	Lineage   LineageView
	Gateway   StatusView
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps     Deps
	selector *selector.Selector
	started  time.Time
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		deps:     deps,
		selector: selector.New(deps.Templates),
		started:  time.Now(),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/tasks", h.processTask)
		r.Post("/assess", h.assessTask)
		r.Get("/runs/active", h.activeRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/threads/{id}/history", h.threadHistory)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.registerAgent)
		r.Get("/agents/{type}", h.getAgent)
		r.Get("/capabilities/{tag}", h.byCapability)
		r.Get("/tools", h.listTools)

		r.Get("/events", h.recentEvents)
		r.Get("/lineage/stats", h.lineageStats)
		r.Get("/lineage/tasks/{id}", h.lineageTask)
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"agents": len(h.deps.Templates.List()),
	})
}

type taskRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"thread_id,omitempty"`
}

// processTask runs a task synchronously. A run that ends FAILED is still
// a 200; the body's workflow_status says how it ended.
func (h *Handler) processTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	res := h.deps.Engine.ProcessTask(r.Context(), req.Text, req.ThreadID)
	writeJSON(w, http.StatusOK, res)
}

type assessResponse struct {
	Complexity classifier.Complexity `json:"complexity"`
	Keywords   []string              `json:"keywords"`
	Scores     classifier.Scores     `json:"scores"`
	Agents     []registry.AgentType  `json:"agents"`
}

// assessTask reports the classification and agent selection a task would
// get, without running anything.
func (h *Handler) assessTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier, keywords := classifier.Classify(req.Text)
	var agents []registry.AgentType
	for _, t := range h.selector.DetectRequired(req.Text, keywords, tier) {
		if h.deps.Templates.Has(t) {
			agents = append(agents, t)
		}
	}
	writeJSON(w, http.StatusOK, assessResponse{
		Complexity: tier,
		Keywords:   keywords,
		Scores:     classifier.Score(req.Text),
		Agents:     agents,
	})
}

func (h *Handler) activeRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Activity == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not available")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Activity.Running())
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) threadHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "thread history not enabled")
		return
	}
	limit := queryInt(r, "limit", 20)
	entries, err := h.deps.History.Recall(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Templates.List())
}

// registerAgent adds or replaces a template. Registration takes effect
// for the next task; runs already deciding keep the set they saw.
func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var t registry.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Templates.Register(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.deps.Saver != nil {
		if err := h.deps.Saver.SaveTemplate(r.Context(), t); err != nil {
			h.logger.Warn("template registered but not persisted",
				zap.String("agent_type", string(t.Type)), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Templates.Get(registry.AgentType(chi.URLParam(r, "type")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) byCapability(w http.ResponseWriter, r *http.Request) {
	found := h.deps.Templates.ByCapability(chi.URLParam(r, "tag"))
	if found == nil {
		found = []registry.Template{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tools == nil {
		writeJSON(w, http.StatusOK, []agent.ToolStats{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Tools.Stats())
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not enabled")
		return
	}
	n := int64(queryInt(r, "limit", 50))
	events, err := h.deps.Events.Recent(r.Context(), n, r.URL.Query().Get("task_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []orchestrator.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) lineageStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Lineage == nil {
		writeError(w, http.StatusServiceUnavailable, "lineage graph not enabled")
		return
	}
	stats, err := h.deps.Lineage.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) lineageTask(w http.ResponseWriter, r *http.Request) {
	if h.deps.Lineage == nil {
		writeError(w, http.StatusServiceUnavailable, "lineage graph not enabled")
		return
	}
	recs, err := h.deps.Lineage.Spawned(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
