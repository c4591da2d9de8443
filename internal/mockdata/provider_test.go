package mockdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_AllCollectionsNonEmpty(t *testing.T) {
	p := New()
	assert.NotEmpty(t, p.Version())

	for _, c := range []string{"research_articles", "clinical_trials", "drug_labels"} {
		hits := p.Hits(c, "anything at all", 5)
		require.GreaterOrEqual(t, len(hits), 2, "collection %s must yield at least two hits", c)
		for i, h := range hits {
			assert.NotEmpty(t, h.ID)
			assert.NotEmpty(t, h.Title)
			assert.Greater(t, h.Score, 0.0)
			if i > 0 {
				assert.LessOrEqual(t, h.Score, hits[i-1].Score, "scores must be non-increasing")
			}
		}
	}
}

func TestProvider_Deterministic(t *testing.T) {
	p := New()
	a := p.Hits("drug_labels", "metformin side effects in elderly patients", 3)
	b := p.Hits("drug_labels", "metformin side effects in elderly patients", 3)
	assert.Equal(t, a, b)
}

func TestProvider_KeywordRelevanceOrdering(t *testing.T) {
	p := New()
	hits := p.Hits("drug_labels", "metformin side effects elderly", 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "mock-drug-metformin", hits[0].ID, "the matching drug should rank first")
}

func TestProvider_UnknownCollection(t *testing.T) {
	p := New()
	assert.Nil(t, p.Hits("no_such_collection", "q", 5))
}

func TestProvider_MaxTruncates(t *testing.T) {
	p := New()
	hits := p.Hits("research_articles", "diabetes", 1)
	assert.Len(t, hits, 1)
}
