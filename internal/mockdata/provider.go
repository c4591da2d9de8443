// Package mockdata is the last line of defense: a deterministic canned
// dataset served when the index backend or embedding provider is unavailable.
// It is a pure function of (collection, query) and never fails.
package mockdata

import (
	_ "embed"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/medsearch-ai/orchestrator/internal/index"
)

//go:embed dataset.yaml
var rawDataset []byte

// minHits is the floor on returned results so downstream synthesis always
// has non-empty input.
const minHits = 2

type entry struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Snippet     string            `yaml:"snippet"`
	Authors     []string          `yaml:"authors"`
	Venue       string            `yaml:"venue"`
	PublishedAt string            `yaml:"published_at"`
	ExternalID  string            `yaml:"external_id"`
	Keywords    string            `yaml:"keywords"`
	Metadata    map[string]string `yaml:"metadata"`
}

type dataset struct {
	Version     string             `yaml:"version"`
	Collections map[string][]entry `yaml:"collections"`
}

// Provider serves the embedded dataset.
type Provider struct {
	version     string
	collections map[string][]entry
}

// New parses the embedded dataset. The dataset ships with the binary, so a
// parse failure is a build defect and panics at startup rather than at
// query time.
func New() *Provider {
	var ds dataset
	if err := yaml.Unmarshal(rawDataset, &ds); err != nil {
		panic("mockdata: embedded dataset invalid: " + err.Error())
	}
	return &Provider{version: ds.Version, collections: ds.Collections}
}

// Version returns the dataset version string.
func (p *Provider) Version() string { return p.version }

// Collections lists the collections the dataset covers.
func (p *Provider) Collections() []string {
	out := make([]string, 0, len(p.collections))
	for name := range p.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Hits returns canned documents for a collection scored by naive keyword
// overlap with the query. At least minHits documents are always returned for
// a known collection, with decreasing scores.
func (p *Provider) Hits(collection, query string, max int) []index.Document {
	entries := p.collections[collection]
	if len(entries) == 0 {
		return nil
	}
	if max <= 0 {
		max = len(entries)
	}

	words := strings.Fields(strings.ToLower(query))

	type scored struct {
		e       entry
		matches int
		idx     int
	}
	ranked := make([]scored, 0, len(entries))
	for i, e := range entries {
		searchable := strings.ToLower(e.Title + " " + e.Snippet + " " + e.Keywords)
		m := 0
		for _, w := range words {
			if len(w) > 3 && strings.Contains(searchable, w) {
				m++
			}
		}
		ranked = append(ranked, scored{e: e, matches: m, idx: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].matches > ranked[j].matches })

	out := make([]index.Document, 0, max)
	for _, r := range ranked {
		if r.matches == 0 && len(out) >= minHits {
			continue
		}
		out = append(out, index.Document{
			ID:          r.e.ID,
			Score:       0.9 - float64(len(out))*0.05,
			Title:       r.e.Title,
			Snippet:     r.e.Snippet,
			Authors:     r.e.Authors,
			Venue:       r.e.Venue,
			PublishedAt: r.e.PublishedAt,
			ExternalID:  r.e.ExternalID,
			Metadata:    r.e.Metadata,
		})
		if len(out) >= max {
			break
		}
	}
	return out
}
