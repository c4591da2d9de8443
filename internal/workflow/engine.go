// Package workflow drives a query through the orchestration state machine:
// analyze, route, run agents concurrently, synthesize. State is checkpointed
// after every transition and progress is published to subscribers.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/analyzer"
	"github.com/medsearch-ai/orchestrator/internal/metrics"
	"github.com/medsearch-ai/orchestrator/internal/mockdata"
	"github.com/medsearch-ai/orchestrator/internal/models"
	"github.com/medsearch-ai/orchestrator/internal/streaming"
	"github.com/medsearch-ai/orchestrator/internal/synthesis"
	"github.com/medsearch-ai/orchestrator/internal/tracing"
)

// SearchAgent is the engine's view of a hybrid search agent.
type SearchAgent interface {
	Name() string
	Collection() string
	Search(ctx context.Context, query string, filters *models.Filters) ([]models.RetrievalHit, []models.ErrorRecord)
}

// Analyzer classifies queries. Satisfied by analyzer.Analyzer.
type Analyzer interface {
	Analyze(q models.Query) analyzer.Analysis
}

// Synthesizer assembles the final answer. Satisfied by synthesis.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synthesis.Input) synthesis.Output
}

// Config bounds workflow execution.
type Config struct {
	Deadline     time.Duration
	AgentTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = 30 * time.Second
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 10 * time.Second
	}
	return c
}

// Engine executes workflows. All collaborators are injected; the engine holds
// no global state and is safe for concurrent Execute calls.
type Engine struct {
	cfg         Config
	analyzer    Analyzer
	agents      map[string]SearchAgent
	synth       Synthesizer
	checkpoints CheckpointStore
	stream      *streaming.Manager
	fallback    *mockdata.Provider
	logger      *zap.Logger
}

// NewEngine creates an engine over the given agents. stream and fallback may
// be nil; checkpoints must not be.
func NewEngine(cfg Config, an Analyzer, agents []SearchAgent, synth Synthesizer, checkpoints CheckpointStore, stream *streaming.Manager, fallback *mockdata.Provider, logger *zap.Logger) *Engine {
	byName := make(map[string]SearchAgent, len(agents))
	for _, ag := range agents {
		byName[ag.Name()] = ag
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		analyzer:    an,
		agents:      byName,
		synth:       synth,
		checkpoints: checkpoints,
		stream:      stream,
		fallback:    fallback,
		logger:      logger,
	}
}

// agentOutcome is one agent's contribution to the fan-out.
type agentOutcome struct {
	name     string
	hits     []models.RetrievalHit
	errs     []models.ErrorRecord
	timedOut bool
}

// Execute runs one query end to end. Retrieval and synthesis faults degrade
// the response and are reported in its error log; only configuration faults
// return a non-nil error.
func (e *Engine) Execute(ctx context.Context, q models.Query) (*models.Response, error) {
	wfID := uuid.NewString()
	start := time.Now()
	logger := e.logger.With(zap.String("workflow_id", wfID))

	ctx, span := tracing.StartSpan(ctx, "workflow.execute")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	state := &State{
		WorkflowID: wfID,
		Step:       StepAnalyze,
		Query:      q,
		StartedAt:  start,
		UpdatedAt:  start,
	}
	e.checkpoint(ctx, state, logger)
	e.publishState(wfID, StepAnalyze)

	// ANALYZE
	an := e.analyzer.Analyze(q)
	state.Analysis = an
	metrics.WorkflowsStarted.WithLabelValues(string(an.Intent)).Inc()
	logger.Info("query analyzed",
		zap.String("intent", string(an.Intent)),
		zap.Strings("suggested_agents", an.SuggestedAgents),
	)

	// ROUTE
	e.advance(ctx, state, StepRoute, logger)
	routed := make([]SearchAgent, 0, len(an.SuggestedAgents))
	for _, name := range an.SuggestedAgents {
		ag, ok := e.agents[name]
		if !ok {
			logger.Warn("routed agent not registered", zap.String("agent", name))
			continue
		}
		routed = append(routed, ag)
	}
	if len(routed) == 0 {
		rec := models.NewErrorRecord(models.ErrConfiguration, "router", "no registered agent matches routing decision", false)
		state.RecordError(rec)
		e.fail(ctx, state, logger)
		metrics.RecordWorkflowMetrics(string(an.Intent), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("workflow %s: %s", wfID, rec.Message)
	}
	for _, ag := range routed {
		state.Routed = append(state.Routed, ag.Name())
	}
	e.checkpoint(ctx, state, logger)

	// AGENTS_RUNNING
	e.advance(ctx, state, StepAgentsRunning, logger)
	queryText := an.ExpandedQuery
	if queryText == "" {
		queryText = q.Text
	}
	outcomes := e.runAgents(ctx, wfID, routed, queryText, q.Filters)

	var results []synthesis.AgentResult
	var agentsUsed []string
	for _, out := range outcomes {
		if out.timedOut {
			state.RecordError(models.NewErrorRecord(models.ErrAgentFailure, out.name, "agent did not finish within its timeout", true))
			e.publish(wfID, streaming.Event{Type: streaming.EventAgentFailed, Agent: out.name, Message: "timed out"})
			continue
		}
		for _, rec := range out.errs {
			state.RecordError(rec)
		}
		if len(out.hits) == 0 {
			// A healthy agent always has at least its canned fallback, so
			// empty means the agent gave up.
			state.RecordError(models.NewErrorRecord(models.ErrAgentFailure, out.name, "agent returned no results", true))
			e.publish(wfID, streaming.Event{Type: streaming.EventAgentFailed, Agent: out.name, Message: "no results"})
			continue
		}
		results = append(results, synthesis.AgentResult{Agent: out.name, Hits: out.hits})
		agentsUsed = append(agentsUsed, out.name)
		e.publish(wfID, streaming.Event{Type: streaming.EventAgentCompleted, Agent: out.name, Message: fmt.Sprintf("%d hits", len(out.hits))})
	}

	if ctx.Err() != nil {
		state.RecordError(models.NewErrorRecord(models.ErrWorkflowTimeout, "engine", "workflow deadline exceeded, synthesizing partial results", true))
		logger.Warn("workflow deadline exceeded", zap.Duration("deadline", e.cfg.Deadline))
	}

	if len(results) == 0 {
		// Every agent failed. Answer from the canned dataset rather than
		// returning nothing.
		results = e.fallbackResults(routed, queryText)
		agentsUsed = nil
		state.RecordError(models.NewErrorRecord(models.ErrAgentFailure, "engine", "all agents failed, answering from canned dataset", true))
	}
	state.Results = results
	e.checkpoint(ctx, state, logger)

	// SYNTHESIZE
	e.advance(ctx, state, StepSynthesize, logger)
	out := e.synth.Synthesize(ctx, synthesis.Input{
		Query:   q.Text,
		Intent:  string(an.Intent),
		Results: results,
	})
	if out.Fallback {
		state.RecordError(models.NewErrorRecord(models.ErrSynthesisFailure, "synthesis", "generated answer unavailable, served templated summary", true))
	}

	resp := &models.Response{
		WorkflowID:        wfID,
		Answer:            out.Answer,
		Citations:         out.Citations,
		Confidence:        out.Confidence,
		ConfidenceBand:    out.ConfidenceBand,
		ConflictsDetected: out.ConflictsDetected,
		ConsensusSummary:  out.ConsensusSummary,
		KeyFindings:       out.KeyFindings,
		RecencyScore:      out.RecencyScore,
		AgentsUsed:        agentsUsed,
		Errors:            state.Errors,
	}
	state.Response = resp

	// COMPLETE
	e.advance(ctx, state, StepComplete, logger)
	e.publish(wfID, streaming.Event{Type: streaming.EventCompleted, Message: string(out.ConfidenceBand)})

	status := "ok"
	if len(state.Errors) > 0 {
		status = "degraded"
	}
	metrics.RecordWorkflowMetrics(string(an.Intent), status, time.Since(start).Seconds())
	logger.Info("workflow completed",
		zap.String("status", status),
		zap.Float64("confidence", resp.Confidence),
		zap.Int("citations", len(resp.Citations)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// Checkpoint returns the saved state of a workflow.
func (e *Engine) Checkpoint(ctx context.Context, workflowID string) (*State, error) {
	return e.checkpoints.Load(ctx, workflowID)
}

// runAgents fans the query out to the routed agents and waits for all of
// them, bounding each with the agent timeout. Outcomes preserve routing order.
func (e *Engine) runAgents(ctx context.Context, workflowID string, routed []SearchAgent, query string, filters *models.Filters) []agentOutcome {
	outcomes := make([]agentOutcome, len(routed))
	done := make(chan int, len(routed))

	for _, ag := range routed {
		e.publish(workflowID, streaming.Event{Type: streaming.EventAgentStarted, Agent: ag.Name()})
	}

	for i, ag := range routed {
		go func(i int, ag SearchAgent) {
			actx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
			defer cancel()

			finished := make(chan struct{})
			var hits []models.RetrievalHit
			var errs []models.ErrorRecord
			go func() {
				hits, errs = ag.Search(actx, query, filters)
				close(finished)
			}()

			select {
			case <-finished:
				outcomes[i] = agentOutcome{name: ag.Name(), hits: hits, errs: errs}
			case <-actx.Done():
				outcomes[i] = agentOutcome{name: ag.Name(), timedOut: true}
			}
			done <- i
		}(i, ag)
	}
	for range routed {
		<-done
	}
	return outcomes
}

func (e *Engine) fallbackResults(routed []SearchAgent, query string) []synthesis.AgentResult {
	if e.fallback == nil {
		return nil
	}
	var results []synthesis.AgentResult
	for _, ag := range routed {
		docs := e.fallback.Hits(ag.Collection(), query, 10)
		hits := make([]models.RetrievalHit, 0, len(docs))
		for _, d := range docs {
			hits = append(hits, models.RetrievalHit{
				SourceID:      d.ID,
				Collection:    ag.Collection(),
				Title:         d.Title,
				Snippet:       d.Snippet,
				Authors:       d.Authors,
				Venue:         d.Venue,
				PublishedAt:   d.PublishedAt,
				ExternalID:    d.ExternalID,
				Metadata:      d.Metadata,
				LexicalScore:  d.Score,
				SemanticScore: d.Score,
				FusedScore:    d.Score,
			})
		}
		if len(hits) > 0 {
			results = append(results, synthesis.AgentResult{Agent: ag.Name(), Hits: hits})
		}
	}
	return results
}

// advance transitions and checkpoints; transition failures indicate an engine
// bug and are logged, not surfaced.
func (e *Engine) advance(ctx context.Context, state *State, to Step, logger *zap.Logger) {
	if err := state.Transition(to); err != nil {
		logger.Error("state transition rejected", zap.Error(err))
		return
	}
	e.checkpoint(ctx, state, logger)
	e.publishState(state.WorkflowID, to)
}

func (e *Engine) fail(ctx context.Context, state *State, logger *zap.Logger) {
	_ = state.Transition(StepError)
	e.checkpoint(ctx, state, logger)
	e.publish(state.WorkflowID, streaming.Event{Type: streaming.EventError, State: string(StepError)})
}

// checkpoint persists state; a checkpoint failure never stops the workflow.
func (e *Engine) checkpoint(ctx context.Context, state *State, logger *zap.Logger) {
	if err := e.checkpoints.Save(ctx, state); err != nil {
		logger.Warn("checkpoint save failed", zap.Error(err))
	}
}

func (e *Engine) publishState(workflowID string, step Step) {
	e.publish(workflowID, streaming.Event{Type: streaming.EventStateChanged, State: string(step)})
}

func (e *Engine) publish(workflowID string, evt streaming.Event) {
	if e.stream == nil {
		return
	}
	e.stream.Publish(workflowID, evt)
}
