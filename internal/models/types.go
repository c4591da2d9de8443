package models

import (
	"time"
)

// Filters narrow a retrieval query before fusion.
type Filters struct {
	YearFrom   int      `json:"year_from,omitempty"`
	YearTo     int      `json:"year_to,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// ConversationTurn is one prior query/answer pair supplied for follow-up context.
type ConversationTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Query is the caller-facing input to the orchestrator.
type Query struct {
	Text    string             `json:"text"`
	Filters *Filters           `json:"filters,omitempty"`
	Context []ConversationTurn `json:"context,omitempty"`
}

// RetrievalHit is a single fused retrieval result from one agent.
type RetrievalHit struct {
	SourceID      string            `json:"source_id"`
	Collection    string            `json:"collection"`
	Title         string            `json:"title"`
	Snippet       string            `json:"snippet"`
	Authors       []string          `json:"authors,omitempty"`
	Venue         string            `json:"venue,omitempty"`
	PublishedAt   string            `json:"published_at,omitempty"` // ISO date, e.g. 2024-01-15
	ExternalID    string            `json:"external_id,omitempty"`  // PMID, NCT number, application number
	Metadata      map[string]string `json:"metadata,omitempty"`
	LexicalScore  float64           `json:"lexical_score"`
	SemanticScore float64           `json:"semantic_score"`
	FusedScore    float64           `json:"fused_score"`
}

// Year returns the publication year, or 0 when unknown.
func (h *RetrievalHit) Year() int {
	if len(h.PublishedAt) < 4 {
		return 0
	}
	var y int
	for _, c := range h.PublishedAt[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		y = y*10 + int(c-'0')
	}
	return y
}

// Citation is an immutable reference backing a claim in the synthesized answer.
// Markers are assigned sequentially in first-use order.
type Citation struct {
	ID          string   `json:"id"`
	Marker      int      `json:"marker"`
	Collection  string   `json:"collection"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	ExternalID  string   `json:"external_id,omitempty"`
	Relevance   float64  `json:"relevance"`
}

// ConfidenceBand is the coarse Low/Medium/High classification of a confidence score.
type ConfidenceBand string

const (
	BandLow    ConfidenceBand = "low"
	BandMedium ConfidenceBand = "medium"
	BandHigh   ConfidenceBand = "high"
)

// BandFor maps a confidence score to its band. Boundaries are <0.4, [0.4,0.7), >=0.7.
func BandFor(score float64) ConfidenceBand {
	switch {
	case score < 0.4:
		return BandLow
	case score < 0.7:
		return BandMedium
	default:
		return BandHigh
	}
}

// Response is the final caller-facing result of one workflow execution.
type Response struct {
	WorkflowID        string         `json:"workflow_id"`
	Answer            string         `json:"answer"`
	Citations         []Citation     `json:"citations"`
	Confidence        float64        `json:"confidence"`
	ConfidenceBand    ConfidenceBand `json:"confidence_band"`
	ConflictsDetected bool           `json:"conflicts_detected"`
	ConsensusSummary  string         `json:"consensus_summary,omitempty"`
	KeyFindings       []string       `json:"key_findings,omitempty"`
	RecencyScore      float64        `json:"recency_score"`
	AgentsUsed        []string       `json:"agents_used"`
	Errors            []ErrorRecord  `json:"errors,omitempty"`
}

// ErrorType classifies a recoverable or fatal fault during a workflow execution.
type ErrorType string

const (
	ErrAgentFailure     ErrorType = "agent_failure"
	ErrProviderFailure  ErrorType = "provider_failure"
	ErrSynthesisFailure ErrorType = "synthesis_failure"
	ErrWorkflowTimeout  ErrorType = "workflow_timeout"
	ErrConfiguration    ErrorType = "configuration_error"
)

// ErrorRecord is a non-fatal fault absorbed into workflow state. Only
// configuration errors are surfaced to the caller as hard failures.
type ErrorRecord struct {
	Type        ErrorType `json:"type"`
	Source      string    `json:"source"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewErrorRecord builds a timestamped error record.
func NewErrorRecord(t ErrorType, source, message string, recoverable bool) ErrorRecord {
	return ErrorRecord{
		Type:        t,
		Source:      source,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
	}
}
