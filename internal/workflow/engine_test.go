package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/medsearch-ai/orchestrator/internal/analyzer"
	"github.com/medsearch-ai/orchestrator/internal/config"
	"github.com/medsearch-ai/orchestrator/internal/mockdata"
	"github.com/medsearch-ai/orchestrator/internal/models"
	"github.com/medsearch-ai/orchestrator/internal/streaming"
	"github.com/medsearch-ai/orchestrator/internal/synthesis"
)

type stubAgent struct {
	name       string
	collection string
	hits       []models.RetrievalHit
	errs       []models.ErrorRecord
	delay      time.Duration
	calls      int
}

func (s *stubAgent) Name() string       { return s.name }
func (s *stubAgent) Collection() string { return s.collection }

func (s *stubAgent) Search(ctx context.Context, query string, filters *models.Filters) ([]models.RetrievalHit, []models.ErrorRecord) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, nil
		}
	}
	return s.hits, s.errs
}

func agentHit(id, collection string, score float64) models.RetrievalHit {
	return models.RetrievalHit{
		SourceID:   id,
		Collection: collection,
		Title:      "Title " + id,
		Snippet:    "Snippet for " + id + ".",
		FusedScore: score,
	}
}

func threeAgents() (*stubAgent, *stubAgent, *stubAgent) {
	research := &stubAgent{name: "research", collection: "research_articles",
		hits: []models.RetrievalHit{agentHit("r1", "research_articles", 0.9)}}
	clinical := &stubAgent{name: "clinical", collection: "clinical_trials",
		hits: []models.RetrievalHit{agentHit("c1", "clinical_trials", 0.8)}}
	drug := &stubAgent{name: "drug", collection: "drug_labels",
		hits: []models.RetrievalHit{agentHit("d1", "drug_labels", 0.7)}}
	return research, clinical, drug
}

func newTestEngine(t *testing.T, cfg Config, agents ...SearchAgent) (*Engine, *MemoryCheckpointStore, *streaming.Manager) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	checkpoints := NewMemoryCheckpointStore()
	stream := streaming.NewManager(64)
	tunables := config.StaticTunables{T: config.DefaultTunables()}
	synth := synthesis.New(nil, tunables, logger)
	eng := NewEngine(cfg, analyzer.New(logger), agents, synth, checkpoints, stream, mockdata.New(), logger)
	return eng, checkpoints, stream
}

func TestExecuteGeneralQueryRunsAllAgents(t *testing.T) {
	research, clinical, drug := threeAgents()
	eng, _, _ := newTestEngine(t, Config{}, research, clinical, drug)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "diabetes in older adults"})
	require.NoError(t, err)

	assert.Equal(t, 1, research.calls)
	assert.Equal(t, 1, clinical.calls)
	assert.Equal(t, 1, drug.calls)
	assert.ElementsMatch(t, []string{"research", "clinical", "drug"}, resp.AgentsUsed)
	assert.Len(t, resp.Citations, 3)
	assert.NotEmpty(t, resp.Answer)
	assert.NotEmpty(t, resp.WorkflowID)
}

func TestExecuteDrugQueryRoutesOnlyDrugAgent(t *testing.T) {
	research, clinical, drug := threeAgents()
	eng, _, _ := newTestEngine(t, Config{}, research, clinical, drug)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "side effects of metformin"})
	require.NoError(t, err)

	assert.Equal(t, 0, research.calls)
	assert.Equal(t, 0, clinical.calls)
	assert.Equal(t, 1, drug.calls)
	assert.Equal(t, []string{"drug"}, resp.AgentsUsed)
}

func TestExecuteSlowAgentExcluded(t *testing.T) {
	research, clinical, drug := threeAgents()
	clinical.delay = 2 * time.Second
	eng, _, _ := newTestEngine(t, Config{Deadline: 5 * time.Second, AgentTimeout: 100 * time.Millisecond},
		research, clinical, drug)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "diabetes management options"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"research", "drug"}, resp.AgentsUsed)
	var timeoutRecorded bool
	for _, rec := range resp.Errors {
		if rec.Type == models.ErrAgentFailure && rec.Source == "clinical" {
			timeoutRecorded = true
			assert.True(t, rec.Recoverable)
		}
	}
	assert.True(t, timeoutRecorded, "excluded agent must leave an error record")
	// The fast agents still back the answer.
	assert.NotEmpty(t, resp.Citations)
}

func TestExecuteAllAgentsFailUsesCannedData(t *testing.T) {
	slow := func(name, collection string) *stubAgent {
		return &stubAgent{name: name, collection: collection, delay: time.Second}
	}
	eng, _, _ := newTestEngine(t, Config{Deadline: 5 * time.Second, AgentTimeout: 50 * time.Millisecond},
		slow("research", "research_articles"), slow("clinical", "clinical_trials"), slow("drug", "drug_labels"))

	resp, err := eng.Execute(context.Background(), models.Query{Text: "diabetes treatment outcomes"})
	require.NoError(t, err)

	assert.Empty(t, resp.AgentsUsed)
	require.NotEmpty(t, resp.Citations, "canned data must back the answer when every agent fails")
	assert.NotEmpty(t, resp.Answer)
}

func TestExecuteNoRoutableAgentsIsConfigurationError(t *testing.T) {
	// Engine registered with agents whose names never match routing output.
	other := &stubAgent{name: "imaging", collection: "imaging_reports"}
	eng, _, _ := newTestEngine(t, Config{}, other)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "side effects of metformin"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, other.calls)
}

func TestExecuteCheckpointsEveryTransition(t *testing.T) {
	research, clinical, drug := threeAgents()
	eng, checkpoints, _ := newTestEngine(t, Config{}, research, clinical, drug)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "latest research on metformin"})
	require.NoError(t, err)

	state, err := checkpoints.Load(context.Background(), resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, StepComplete, state.Step)
	assert.Equal(t, resp.WorkflowID, state.WorkflowID)
	assert.NotNil(t, state.Response)
	assert.Equal(t, []string{"research"}, state.Routed)
	assert.NotEmpty(t, state.Results)
}

func TestExecutePublishesProgress(t *testing.T) {
	research, _, _ := threeAgents()
	eng, _, stream := newTestEngine(t, Config{}, research)

	resp, err := eng.Execute(context.Background(), models.Query{Text: "latest research on metformin"})
	require.NoError(t, err)

	events := stream.ReplaySince(resp.WorkflowID, 0)
	require.NotEmpty(t, events)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, streaming.EventStateChanged)
	assert.Contains(t, types, streaming.EventAgentStarted)
	assert.Contains(t, types, streaming.EventAgentCompleted)
	assert.Equal(t, streaming.EventCompleted, types[len(types)-1])

	// State events arrive in machine order.
	var states []string
	for _, ev := range events {
		if ev.Type == streaming.EventStateChanged {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []string{"ANALYZE", "ROUTE", "AGENTS_RUNNING", "SYNTHESIZE", "COMPLETE"}, states)
}

func TestExecuteFollowupUsesExpandedQuery(t *testing.T) {
	var got string
	capture := &captureAgent{stubAgent: stubAgent{name: "drug", collection: "drug_labels",
		hits: []models.RetrievalHit{agentHit("d1", "drug_labels", 0.7)}}, got: &got}
	eng, _, _ := newTestEngine(t, Config{}, capture)

	_, err := eng.Execute(context.Background(), models.Query{
		Text:    "What about its side effects?",
		Context: []models.ConversationTurn{{Query: "Tell me about the medication metformin"}},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "in the context of")
	assert.Contains(t, got, "metformin")
}

type captureAgent struct {
	stubAgent
	got *string
}

func (c *captureAgent) Search(ctx context.Context, query string, filters *models.Filters) ([]models.RetrievalHit, []models.ErrorRecord) {
	*c.got = query
	return c.stubAgent.Search(ctx, query, filters)
}

func TestStateTransitionRules(t *testing.T) {
	s := &State{Step: StepAnalyze}
	require.NoError(t, s.Transition(StepRoute))
	require.NoError(t, s.Transition(StepAgentsRunning))
	require.NoError(t, s.Transition(StepSynthesize))
	require.NoError(t, s.Transition(StepComplete))

	s = &State{Step: StepAnalyze}
	assert.Error(t, s.Transition(StepSynthesize), "steps must not be skipped")

	s = &State{Step: StepRoute}
	require.NoError(t, s.Transition(StepError))
	assert.Equal(t, StepError, s.Step)
}
