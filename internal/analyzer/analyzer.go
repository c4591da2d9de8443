// Package analyzer classifies query intent and extracts entities with
// deterministic keyword and pattern matching. It makes no external calls and
// never fails: a query that matches nothing is routed as general.
package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/models"
)

// Intent is the detected purpose of a query.
type Intent string

const (
	IntentResearch      Intent = "research"
	IntentClinicalTrial Intent = "clinical_trial"
	IntentDrugInfo      Intent = "drug_info"
	IntentGeneral       Intent = "general"
)

// Agent names used in routing.
const (
	AgentResearch = "research"
	AgentClinical = "clinical"
	AgentDrug     = "drug"
)

// Analysis is the analyzer output consumed by the workflow router.
type Analysis struct {
	Intent          Intent              `json:"intent"`
	Entities        map[string][]string `json:"entities"`
	SuggestedAgents []string            `json:"suggested_agents"`
	Confidence      float64             `json:"confidence"`
	ExpandedQuery   string              `json:"expanded_query"`
}

var (
	clinicalTrialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(clinical trials?|trials?|phase \d)\b`),
		regexp.MustCompile(`\b(randomized|placebo|controlled|double-blind)\b`),
	}

	diseasePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(diabetes|cancer|hypertension|alzheimer|parkinson|covid|asthma|copd)\b`),
		regexp.MustCompile(`\b(heart disease|heart failure|stroke|arthritis|depression|anxiety|obesity)\b`),
		regexp.MustCompile(`\b(kidney disease|renal disease|chronic kidney disease|ckd|end-stage renal disease|esrd)\b`),
		regexp.MustCompile(`\b(resistant hypertension|high blood pressure|cardiovascular disease)\b`),
	}

	drugNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(metformin|insulin|aspirin|statin|warfarin|lisinopril|semaglutide|dapagliflozin|tirzepatide)\b`),
	}

	followupCues = []string{"what about", "how about", "and in", "and for", "and what"}

	followupPronouns = map[string]struct{}{
		"it": {}, "they": {}, "them": {}, "those": {}, "these": {}, "that": {},
	}
)

var researchKeywords = []string{"research", "study", "studies", "evidence", "literature", "pubmed", "latest research", "meta-analysis"}

var drugKeywords = []string{"drug", "medication", "prescription", "side effect", "dosage", "contraindication"}

// Analyzer performs intent detection and entity extraction.
type Analyzer struct {
	logger *zap.Logger
}

// New creates an analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze classifies the query. The rule ladder checks trial terms first,
// then research terms, then drug terms; no match defaults to general, which
// routes to every agent.
func (a *Analyzer) Analyze(q models.Query) Analysis {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	intent := detectIntent(text)
	entities := extractEntities(text)
	expanded := expandFollowup(q)

	confidence := 0.8
	if intent == IntentGeneral {
		confidence = 0.5
	}

	an := Analysis{
		Intent:          intent,
		Entities:        entities,
		SuggestedAgents: agentsFor(intent),
		Confidence:      confidence,
		ExpandedQuery:   expanded,
	}
	if a.logger != nil {
		a.logger.Debug("query analyzed",
			zap.String("intent", string(intent)),
			zap.Strings("agents", an.SuggestedAgents),
		)
	}
	return an
}

func detectIntent(text string) Intent {
	// Trial terms take priority over the broader keyword sets.
	for _, p := range clinicalTrialPatterns {
		if p.MatchString(text) {
			return IntentClinicalTrial
		}
	}
	// Research before drug to avoid "drug" inside research phrasing winning.
	for _, k := range researchKeywords {
		if strings.Contains(text, k) {
			return IntentResearch
		}
	}
	for _, k := range drugKeywords {
		if strings.Contains(text, k) {
			return IntentDrugInfo
		}
	}
	return IntentGeneral
}

func extractEntities(text string) map[string][]string {
	entities := map[string][]string{}
	collect := func(category string, patterns []*regexp.Regexp) {
		seen := map[string]struct{}{}
		for _, p := range patterns {
			for _, m := range p.FindAllString(text, -1) {
				seen[m] = struct{}{}
			}
		}
		if len(seen) == 0 {
			return
		}
		vals := make([]string, 0, len(seen))
		for v := range seen {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		entities[category] = vals
	}

	collect("diseases", diseasePatterns)
	collect("drugs", drugNamePatterns)
	return entities
}

// expandFollowup rewrites elliptical follow-up queries to be standalone by
// appending the previous turn's query as context. The heuristic is purely
// lexical so analysis stays deterministic.
func expandFollowup(q models.Query) string {
	text := strings.TrimSpace(q.Text)
	if len(q.Context) == 0 {
		return text
	}
	prev := strings.TrimSpace(q.Context[len(q.Context)-1].Query)
	if prev == "" {
		return text
	}

	lower := strings.ToLower(text)
	isFollowup := false
	for _, cue := range followupCues {
		if strings.HasPrefix(lower, cue) {
			isFollowup = true
			break
		}
	}
	if !isFollowup {
		words := strings.Fields(lower)
		for _, w := range words {
			if _, ok := followupPronouns[strings.Trim(w, "?.,!")]; ok {
				isFollowup = true
				break
			}
		}
	}
	if !isFollowup {
		return text
	}
	return text + " (in the context of: " + prev + ")"
}

func agentsFor(intent Intent) []string {
	switch intent {
	case IntentResearch:
		return []string{AgentResearch}
	case IntentClinicalTrial:
		return []string{AgentClinical}
	case IntentDrugInfo:
		return []string{AgentDrug}
	default:
		return []string{AgentResearch, AgentClinical, AgentDrug}
	}
}
