package workflow

import (
	"fmt"
	"time"

	"github.com/medsearch-ai/orchestrator/internal/analyzer"
	"github.com/medsearch-ai/orchestrator/internal/models"
	"github.com/medsearch-ai/orchestrator/internal/synthesis"
)

// Step is a workflow execution phase. Transitions follow a fixed order;
// ERROR is reachable from any step but only configuration faults go there.
type Step string

const (
	StepAnalyze       Step = "ANALYZE"
	StepRoute         Step = "ROUTE"
	StepAgentsRunning Step = "AGENTS_RUNNING"
	StepSynthesize    Step = "SYNTHESIZE"
	StepComplete      Step = "COMPLETE"
	StepError         Step = "ERROR"
)

var validTransitions = map[Step][]Step{
	StepAnalyze:       {StepRoute, StepError},
	StepRoute:         {StepAgentsRunning, StepError},
	StepAgentsRunning: {StepSynthesize, StepError},
	StepSynthesize:    {StepComplete, StepError},
}

// State is the checkpointable execution record of one workflow. It is saved
// after every transition so a reader can reconstruct where a run stopped.
type State struct {
	WorkflowID string                  `json:"workflow_id"`
	Step       Step                    `json:"step"`
	Query      models.Query            `json:"query"`
	Analysis   analyzer.Analysis       `json:"analysis,omitempty"`
	Routed     []string                `json:"routed,omitempty"`
	Results    []synthesis.AgentResult `json:"results,omitempty"`
	Response   *models.Response        `json:"response,omitempty"`
	Errors     []models.ErrorRecord    `json:"errors,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Transition advances the state to the next step, rejecting moves the state
// machine does not define.
func (s *State) Transition(to Step) error {
	if to == StepError {
		s.Step = StepError
		s.UpdatedAt = time.Now()
		return nil
	}
	for _, next := range validTransitions[s.Step] {
		if next == to {
			s.Step = to
			s.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", s.Step, to)
}

// RecordError appends a fault to the state's error log.
func (s *State) RecordError(rec models.ErrorRecord) {
	s.Errors = append(s.Errors, rec)
}
