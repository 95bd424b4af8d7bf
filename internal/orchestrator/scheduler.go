package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotDispatched marks a record that was never started because the run
// was cancelled first.
var ErrNotDispatched = errors.New("cancelled before dispatch")

// SpecialistFactory builds a specialist for an agent type.
type SpecialistFactory interface {
	New(t registry.AgentType) (agent.Specialist, error)
}

// Execution describes one specialist currently running.
type Execution struct {
	TaskID    string             `json:"task_id"`
	AgentType registry.AgentType `json:"agent_type"`
	AgentID   string             `json:"agent_id"`
	StartedAt time.Time          `json:"started_at"`
}

// Scheduler executes spawned specialists with bounded parallelism.
type Scheduler struct {
	factory   SpecialistFactory
	templates TimeoutSource
	limit     int
	timeout   time.Duration
	publish   func(context.Context, Event)
	logger    *zap.Logger

	retryDelay time.Duration

	mu      sync.RWMutex
	running map[string]Execution
}

// TimeoutSource reports a template's own execution budget and retry count.
type TimeoutSource interface {
	Get(t registry.AgentType) (registry.Template, error)
}

// NewScheduler creates a scheduler running at most limit specialists at
// once, each bounded by timeout.
func NewScheduler(factory SpecialistFactory, templates TimeoutSource, limit int, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if limit <= 0 {
		limit = 4
	}
	return &Scheduler{
		factory:   factory,
		templates: templates,
		limit:     limit,
		timeout:   timeout,
		publish:   func(context.Context, Event) {},
		logger:    logger,
		running:   make(map[string]Execution),

		retryDelay: 200 * time.Millisecond,
	}
}

// Dispatch runs every INITIALIZED record in s and returns one Outcome per
// record, indexed by decision order. Records not yet started when ctx is
// cancelled get ErrNotDispatched.
func (sc *Scheduler) Dispatch(ctx context.Context, s State) []Outcome {
	outcomes := make([]Outcome, len(s.Agents))
	tc := agent.TaskContext{
		TaskID:     s.Task.TaskID,
		Complexity: string(s.Task.Complexity),
		Keywords:   s.Task.Keywords,
		History:    s.History,
	}

	var g errgroup.Group
	g.SetLimit(sc.limit)
	for i, rec := range s.Agents {
		outcomes[i].Index = i
		if ctx.Err() != nil {
			outcomes[i].Err = ErrNotDispatched
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i].Err = ErrNotDispatched
				return nil
			}
			sc.publish(ctx, agentEvent(s, SpawnedAgent{AgentType: rec.AgentType, AgentID: rec.AgentID, Status: AgentRunning}, EventAgentRunning, ""))

			tc := tc
			tc.AgentID = rec.AgentID
			start := time.Now()
			sc.track(s.Task.TaskID, rec, start)
			out, err := sc.execute(ctx, rec, s.Task.RawText, tc)
			sc.untrack(rec.AgentID)

			outcomes[i].Output = out
			outcomes[i].Err = err
			outcomes[i].Duration = time.Since(start)
			if err != nil {
				sc.logger.Warn("specialist failed",
					zap.String("task_id", s.Task.TaskID),
					zap.String("agent_id", rec.AgentID),
					zap.Error(err))
			} else {
				sc.logger.Debug("specialist completed",
					zap.String("task_id", s.Task.TaskID),
					zap.String("agent_id", rec.AgentID),
					zap.Duration("duration", outcomes[i].Duration))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// execute runs one specialist under its timeout, re-running a failed
// Execute up to the template's MaxRetries while the budget lasts. A
// specialist that ignores cancellation is abandoned when the deadline passes.
func (sc *Scheduler) execute(ctx context.Context, rec SpawnedAgent, text string, tc agent.TaskContext) (string, error) {
	worker, err := sc.factory.New(rec.AgentType)
	if err != nil {
		return "", err
	}

	timeout, retries := sc.policyFor(rec.AgentType)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out string
		err error
	}
	attempt := func() (string, error) {
		done := make(chan result, 1)
		go func() {
			out, err := worker.Execute(ctx, text, tc)
			done <- result{out, err}
		}()
		select {
		case r := <-done:
			if r.err != nil && ctx.Err() != nil {
				return "", backoff.Permanent(ctxFailure(ctx, timeout))
			}
			return r.out, r.err
		case <-ctx.Done():
			return "", backoff.Permanent(ctxFailure(ctx, timeout))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(sc.retryDelay), uint64(retries)), ctx)
	out, err := backoff.RetryNotifyWithData(attempt, policy, func(err error, wait time.Duration) {
		sc.logger.Debug("retrying specialist",
			zap.String("agent_id", rec.AgentID),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil && ctx.Err() != nil {
		return "", ctxFailure(ctx, timeout)
	}
	return out, err
}

// policyFor returns the tighter of the scheduler budget and the template's
// timeout, plus the template's retry count.
func (sc *Scheduler) policyFor(t registry.AgentType) (time.Duration, int) {
	timeout := sc.timeout
	if sc.templates == nil {
		return timeout, 0
	}
	tmpl, err := sc.templates.Get(t)
	if err != nil {
		return timeout, 0
	}
	retries := max(tmpl.MaxRetries, 0)
	if tmpl.Timeout > 0 && (timeout <= 0 || tmpl.Timeout < timeout) {
		timeout = tmpl.Timeout
	}
	return timeout, retries
}

func ctxFailure(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("cancelled: %w", ctx.Err())
}

func (sc *Scheduler) track(taskID string, rec SpawnedAgent, at time.Time) {
	sc.mu.Lock()
	sc.running[rec.AgentID] = Execution{TaskID: taskID, AgentType: rec.AgentType, AgentID: rec.AgentID, StartedAt: at}
	sc.mu.Unlock()
}

func (sc *Scheduler) untrack(agentID string) {
	sc.mu.Lock()
	delete(sc.running, agentID)
	sc.mu.Unlock()
}

// Running lists specialists currently executing, oldest first.
func (sc *Scheduler) Running() []Execution {
	sc.mu.RLock()
	out := make([]Execution, 0, len(sc.running))
	for _, e := range sc.running {
		out = append(out, e)
	}
	sc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
