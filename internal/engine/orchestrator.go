package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"planwise/internal/logging"
	"planwise/internal/outcome"
	"planwise/internal/plan"
	"planwise/internal/session"
	"planwise/internal/task"
)

// SessionWriter is the slice of the session controller the orchestrator uses.
type SessionWriter interface {
	GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error)
	MarkCompleted(ctx context.Context, sessionID string, p *plan.Plan, evalMeta interface{}, execMeta session.ExecutionMetadata) error
	MarkFailed(ctx context.Context, sessionID, reason string, execMeta session.ExecutionMetadata) error
	SaveReasoningTraces(ctx context.Context, traces []session.ReasoningTrace) error
}

// ReflectionLister supplies the active reflection bullets for a user.
type ReflectionLister interface {
	ActiveBullets(ctx context.Context, userID string) ([]string, error)
}

// Scorer runs the strategic scoring batch once a plan lands.
type Scorer interface {
	ScoreSession(ctx context.Context, sessionID, userID string, p *plan.Plan)
}

// Orchestrator drives one session end to end: render inputs, run the hybrid
// loop, persist the plan, hand off to scoring. It implements session.Runner.
type Orchestrator struct {
	sessions    SessionWriter
	outcomes    *outcome.Service
	tasks       *task.Service
	reflections ReflectionLister
	loop        *Loop
	scorer      Scorer
	now         func() time.Time
}

func NewOrchestrator(sessions SessionWriter, outcomes *outcome.Service, tasks *task.Service, reflections ReflectionLister, loop *Loop, scorer Scorer) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		outcomes:    outcomes,
		tasks:       tasks,
		reflections: reflections,
		loop:        loop,
		scorer:      scorer,
		now:         time.Now,
	}
}

// Run executes the pipeline for one session. Cancellation is observed at
// every model call; a cancelled run marks the session failed with partial
// results discarded.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) {
	started := o.now()
	exec := session.ExecutionMetadata{}

	s, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return
	}

	in, err := o.buildInput(ctx, s)
	if err != nil {
		o.fail(sessionID, started, exec, err)
		return
	}
	exec.StepsTaken++

	result, err := o.loop.Run(ctx, in)
	if err != nil {
		o.fail(sessionID, started, exec, err)
		return
	}
	exec.StepsTaken++
	exec.ToolCallCount = result.Metadata.Iterations
	if result.Metadata.EvaluationTriggered {
		exec.ToolCallCount += len(result.Metadata.ChainOfThought)
	}

	p := buildPlan(result.Final, o.now())
	if err := p.Validate(); err != nil {
		o.fail(sessionID, started, exec, err)
		return
	}
	exec.StepsTaken++
	exec.TotalMS = o.now().Sub(started).Milliseconds()
	exec.ThinkingMS = result.Metadata.DurationMS
	exec.SuccessRate = 1

	if err := o.sessions.MarkCompleted(ctx, sessionID, p, result.Metadata, exec); err != nil {
		if ctx.Err() != nil {
			o.fail(sessionID, started, exec, ctx.Err())
			return
		}
		logging.EventError("session_complete_failed", err, map[string]interface{}{"session_id": sessionID})
		return
	}
	o.saveTraces(ctx, sessionID, result.Metadata.ChainOfThought)

	if o.scorer != nil {
		o.scorer.ScoreSession(ctx, sessionID, s.UserID, p)
	}
}

// saveTraces mirrors the loop's chain of thought into reasoning_traces rows.
// A write failure only loses the queryable copy; the session's evaluation
// metadata still carries the trace.
func (o *Orchestrator) saveTraces(ctx context.Context, sessionID string, chain []ChainEntry) {
	traces := make([]session.ReasoningTrace, 0, len(chain))
	for _, e := range chain {
		corrections, _ := json.Marshal(e.Corrections)
		traces = append(traces, session.ReasoningTrace{
			SessionID:         sessionID,
			Iteration:         e.Iteration,
			Confidence:        e.Confidence,
			Corrections:       corrections,
			EvaluatorFeedback: e.EvaluatorFeedback,
			CreatedAt:         e.Timestamp,
		})
	}
	if err := o.sessions.SaveReasoningTraces(ctx, traces); err != nil {
		logging.EventError("reasoning_trace_write_failed", err, map[string]interface{}{"session_id": sessionID})
	}
}

func (o *Orchestrator) fail(sessionID string, started time.Time, exec session.ExecutionMetadata, cause error) {
	exec.ErrorCount++
	exec.TotalMS = o.now().Sub(started).Milliseconds()
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "cancelled"
	}
	// The run context may already be dead; persist with a fresh one.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.sessions.MarkFailed(persistCtx, sessionID, reason, exec); err != nil {
		logging.EventError("session_fail_write_failed", err, map[string]interface{}{"session_id": sessionID})
	}
}

func (o *Orchestrator) buildInput(ctx context.Context, s *session.AgentSession) (PromptInput, error) {
	var in PromptInput

	oc, err := o.outcomes.Get(ctx, s.OutcomeID, s.UserID)
	if err != nil {
		return in, err
	}
	in.OutcomeText = oc.AssembledText

	if o.reflections != nil {
		bullets, err := o.reflections.ActiveBullets(ctx, s.UserID)
		if err == nil {
			in.ReflectionBullets = bullets
		}
	}

	tasks, err := o.tasks.ListActive(ctx, s.UserID)
	if err != nil {
		return in, err
	}
	for _, t := range tasks {
		in.Tasks = append(in.Tasks, PromptTask{
			TaskID:    t.TaskID,
			TaskText:  t.TaskText,
			PriorRank: -1,
		})
	}
	return in, nil
}

// buildPlan turns the generator result into the wire-stable plan document.
// Missing waves collapse into a single sequential wave; per-task dependency
// lists become prerequisite edges.
func buildPlan(r *PrioritizationResult, at time.Time) *plan.Plan {
	p := &plan.Plan{
		OrderedTaskIDs:   append([]string(nil), r.OrderedTaskIDs...),
		ExecutionWaves:   r.ExecutionWaves,
		ConfidenceScores: map[string]float64{},
		SynthesisSummary: r.SynthesisSummary,
		CreatedAt:        at,
	}
	if len(p.ExecutionWaves) == 0 {
		p.ExecutionWaves = []plan.ExecutionWave{{WaveNumber: 1, TaskIDs: p.OrderedTaskIDs}}
	}

	inOrder := make(map[string]bool, len(r.OrderedTaskIDs))
	for _, id := range r.OrderedTaskIDs {
		inOrder[id] = true
	}
	for id, score := range r.PerTaskScores {
		if !inOrder[id] {
			continue
		}
		p.ConfidenceScores[id] = score.Confidence
		if score.BriefReasoning != "" {
			p.TaskAnnotations = append(p.TaskAnnotations, plan.Annotation{TaskID: id, Note: score.BriefReasoning})
		}
		for _, dep := range score.Dependencies {
			if dep == id || !inOrder[dep] {
				continue
			}
			p.Dependencies = append(p.Dependencies, plan.Dependency{
				Source:          dep,
				Target:          id,
				Relationship:    plan.RelPrerequisite,
				Confidence:      score.Confidence,
				DetectionMethod: "generator",
			})
		}
	}
	for _, id := range r.OrderedTaskIDs {
		if _, ok := p.ConfidenceScores[id]; !ok {
			p.ConfidenceScores[id] = r.Confidence
		}
	}
	for _, ex := range r.ExcludedTasks {
		p.RemovedTasks = append(p.RemovedTasks, plan.RemovedTask{TaskID: ex.TaskID, Reason: ex.Reason})
	}
	return p
}
