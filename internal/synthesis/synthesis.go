// Package synthesis turns the fused retrieval results of all agents into a
// single cited answer with a confidence score, conflict assessment, and key
// findings.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/config"
	"github.com/medsearch-ai/orchestrator/internal/metrics"
	"github.com/medsearch-ai/orchestrator/internal/models"
)

// MaxCitations caps the citation list on a response.
const MaxCitations = 15

// maxKeyFindings caps the extracted findings list.
const maxKeyFindings = 3

// maxConflictSources bounds how many top sources the conflict prompt sees.
const maxConflictSources = 6

// Generator produces text for answer synthesis and conflict detection.
// Satisfied by llm.Client; nil forces the templated fallback path.
type Generator interface {
	GenerateFor(ctx context.Context, purpose, prompt string, temperature float64, maxTokens int) (string, error)
}

// AgentResult is one agent's contribution, in routing order.
type AgentResult struct {
	Agent string
	Hits  []models.RetrievalHit
}

// Input is everything synthesis needs from the workflow.
type Input struct {
	Query   string
	Intent  string
	Results []AgentResult
}

// Output is the synthesized portion of a response; the workflow fills in
// identity and error fields.
type Output struct {
	Answer            string
	Citations         []models.Citation
	Confidence        float64
	ConfidenceBand    models.ConfidenceBand
	ConflictsDetected bool
	ConsensusSummary  string
	KeyFindings       []string
	RecencyScore      float64
	Fallback          bool
}

// Synthesizer assembles responses. It never fails outright: with no usable
// generator it emits a templated citation-backed answer.
type Synthesizer struct {
	gen      Generator
	tunables config.TunablesSource
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a synthesizer. gen may be nil.
func New(gen Generator, tunables config.TunablesSource, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{gen: gen, tunables: tunables, logger: logger, now: time.Now}
}

// Synthesize builds the answer, citations and scores for the accumulated
// agent results. All hits contribute to confidence; only the citation-capped
// subset backs the answer text.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) Output {
	t := s.tunables.Current()
	hits := flatten(in.Results)
	citations := buildCitations(hits)

	out := Output{
		Citations:    citations,
		Confidence:   confidence(hits, t),
		RecencyScore: s.recency(hits, t),
		KeyFindings:  keyFindings(hits),
	}
	out.ConfidenceBand = models.BandFor(out.Confidence)

	if s.gen != nil {
		out.ConflictsDetected, out.ConsensusSummary = s.detectConflicts(ctx, in.Query, citations, hits)
	}

	answer, fallback := s.answer(ctx, in.Query, citations, hits)
	out.Answer = answer
	out.Fallback = fallback
	return out
}

func flatten(results []AgentResult) []models.RetrievalHit {
	var hits []models.RetrievalHit
	for _, r := range results {
		hits = append(hits, r.Hits...)
	}
	return hits
}

// buildCitations deduplicates hits by source ID, keeping the highest fused
// score per source as the citation's relevance, and assigns markers in
// first-reference order across the flattened agent results, up to
// MaxCitations.
func buildCitations(hits []models.RetrievalHit) []models.Citation {
	best := map[string]models.RetrievalHit{}
	order := []string{}
	for _, h := range hits {
		prev, seen := best[h.SourceID]
		if !seen {
			if len(best) >= MaxCitations {
				continue
			}
			order = append(order, h.SourceID)
			best[h.SourceID] = h
			continue
		}
		if h.FusedScore > prev.FusedScore {
			best[h.SourceID] = h
		}
	}

	citations := make([]models.Citation, 0, len(order))
	for i, id := range order {
		h := best[id]
		citations = append(citations, models.Citation{
			ID:          h.SourceID,
			Marker:      i + 1,
			Collection:  h.Collection,
			Title:       h.Title,
			Authors:     h.Authors,
			PublishedAt: h.PublishedAt,
			ExternalID:  h.ExternalID,
			Relevance:   h.FusedScore,
		})
	}
	return citations
}

// confidence blends result volume with average fused relevance. Volume
// saturates at ten results.
func confidence(hits []models.RetrievalHit, t config.Tunables) float64 {
	if len(hits) == 0 {
		return 0
	}
	volume := math.Min(float64(len(hits))/10.0, 1.0)
	var sum float64
	for _, h := range hits {
		sum += h.FusedScore
	}
	avg := sum / float64(len(hits))
	c := t.ConfidenceCountWeight*volume + t.ConfidenceRelevanceWeight*avg
	return math.Min(c, 1.0)
}

// recency averages a per-hit freshness score that decays linearly with age.
// Hits without a parsable year are skipped.
func (s *Synthesizer) recency(hits []models.RetrievalHit, t config.Tunables) float64 {
	year := s.now().Year()
	var sum float64
	var n int
	for i := range hits {
		y := hits[i].Year()
		if y == 0 {
			continue
		}
		age := float64(year - y)
		if age < 0 {
			age = 0
		}
		sum += math.Max(0, 1.0-t.RecencyDecayPerYear*age)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// keyFindings extracts the first sentence of the top snippets.
func keyFindings(hits []models.RetrievalHit) []string {
	sorted := make([]models.RetrievalHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FusedScore > sorted[j].FusedScore
	})

	var findings []string
	seen := map[string]struct{}{}
	for _, h := range sorted {
		if len(findings) >= maxKeyFindings {
			break
		}
		if _, dup := seen[h.SourceID]; dup {
			continue
		}
		seen[h.SourceID] = struct{}{}
		f := firstSentence(h.Snippet)
		if f == "" {
			continue
		}
		findings = append(findings, f)
	}
	return findings
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(s[:i+1])
		}
	}
	return s
}

type conflictVerdict struct {
	Conflicts bool   `json:"conflicts"`
	Summary   string `json:"summary"`
}

// detectConflicts asks the model whether the sources disagree. Any failure
// reads as no conflict with an empty summary.
func (s *Synthesizer) detectConflicts(ctx context.Context, query string, citations []models.Citation, hits []models.RetrievalHit) (bool, string) {
	if len(citations) < 2 {
		return false, ""
	}
	if len(citations) > maxConflictSources {
		citations = citations[:maxConflictSources]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Below are excerpts from medical sources retrieved for the question: %s\n\n", query)
	writeSourceBlock(&b, citations, hits)
	b.WriteString("\nDo any of these sources contradict each other on the question? " +
		`Respond with JSON only: {"conflicts": true|false, "summary": "<one sentence, empty if no conflict>"}`)

	out, err := s.gen.GenerateFor(ctx, "conflict", b.String(), 0, 256)
	if err != nil {
		s.logger.Debug("conflict detection failed, assuming none", zap.Error(err))
		return false, ""
	}
	var v conflictVerdict
	if err := json.Unmarshal([]byte(stripFences(out)), &v); err != nil {
		s.logger.Debug("conflict verdict unparsable, assuming none", zap.Error(err))
		return false, ""
	}
	if !v.Conflicts {
		return false, ""
	}
	metrics.ConflictsDetected.Inc()
	return true, v.Summary
}

// answer generates the cited answer, falling back to a templated summary when
// generation is unavailable or fails. The bool reports whether the fallback
// path was used.
func (s *Synthesizer) answer(ctx context.Context, query string, citations []models.Citation, hits []models.RetrievalHit) (string, bool) {
	if len(citations) == 0 {
		return "No relevant sources were found for this query. Try rephrasing or broadening the question.", true
	}
	if s.gen == nil {
		return templatedAnswer(query, citations, hits), true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a medical literature assistant. Answer the question using only the numbered sources below. "+
		"Cite every claim with its source marker in square brackets, e.g. [1]. "+
		"If the sources do not answer the question, say so.\n\nQuestion: %s\n\nSources:\n", query)
	writeSourceBlock(&b, citations, hits)
	b.WriteString("\nAnswer:")

	out, err := s.gen.GenerateFor(ctx, "answer", b.String(), 0.2, 1024)
	if err != nil || strings.TrimSpace(out) == "" {
		s.logger.Warn("answer generation failed, using templated fallback", zap.Error(err))
		return templatedAnswer(query, citations, hits), true
	}
	return strings.TrimSpace(out), false
}

// templatedAnswer is the deterministic degraded-mode answer: a summary built
// from the top sources, each claim carrying its marker.
func templatedAnswer(query string, citations []models.Citation, hits []models.RetrievalHit) string {
	snippetByID := map[string]string{}
	for _, h := range hits {
		if _, ok := snippetByID[h.SourceID]; !ok {
			snippetByID[h.SourceID] = h.Snippet
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d retrieved sources for %q:\n\n", len(citations), query)
	max := len(citations)
	if max > 5 {
		max = 5
	}
	for _, c := range citations[:max] {
		line := firstSentence(snippetByID[c.ID])
		if line == "" {
			line = c.Title
		}
		fmt.Fprintf(&b, "- %s [%d]\n", line, c.Marker)
	}
	b.WriteString("\nThis summary was assembled directly from source excerpts; a synthesized answer was not available.")
	return b.String()
}

func writeSourceBlock(b *strings.Builder, citations []models.Citation, hits []models.RetrievalHit) {
	snippetByID := map[string]string{}
	for _, h := range hits {
		if _, ok := snippetByID[h.SourceID]; !ok {
			snippetByID[h.SourceID] = h.Snippet
		}
	}
	for _, c := range citations {
		fmt.Fprintf(b, "[%d] %s (%s, %s): %s\n", c.Marker, c.Title, c.Collection, c.PublishedAt, snippetByID[c.ID])
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
