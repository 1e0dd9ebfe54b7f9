package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const article = `Chapter 1. On the nature of storage engines.

A storage engine balances durability against latency. Relational stores
rank documents by term statistics, while vector stores rank them by
geometric similarity. Choosing between them is a placement problem.

Chapter 2. Placement as classification.

Every document carries signals: vocabulary, structure, density. A
deterministic classifier reads those signals and emits a numeric profile
that downstream policies can reason about reproducibly.`

func TestProfileDeterminism(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	first, err := c.Profile(article, "technology", "article")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := c.Profile(article, "technology", "article")
		require.NoError(t, err)
		// Bit-identical, not approximately equal.
		assert.Equal(t, first, again)
	}
}

func TestProfileScoresInRange(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	inputs := []string{
		"short.",
		article,
		strings.Repeat("the quick brown fox jumps over the lazy dog. ", 500),
	}
	for _, input := range inputs {
		profile, err := c.Profile(input, "general", "article")
		require.NoError(t, err)
		for _, score := range []float64{
			profile.SemanticComplexity,
			profile.TopicCoherence,
			profile.InformationDensity,
			profile.QueryPotential,
		} {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}

func TestProfileValidation(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	t.Run("empty content", func(t *testing.T) {
		_, err := c.Profile("   ", "science", "article")
		assert.Error(t, err)
	})

	t.Run("empty domain", func(t *testing.T) {
		_, err := c.Profile(article, "", "article")
		assert.Error(t, err)
	})
}

func TestQueryPotentialPriors(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	phil, err := c.Profile(article, "philosophy", "reference")
	require.NoError(t, err)
	gen, err := c.Profile(article, "general", "article")
	require.NoError(t, err)

	// High-value domain plus reference content type must outrank the
	// general-domain article for the same body.
	assert.Greater(t, phil.QueryPotential, gen.QueryPotential)
}

func TestStructuralMarkersRaiseQueryPotential(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	flat := strings.Repeat("plain prose without any navigation aids whatsoever ", 40)
	structured := "Chapter 1. Introduction\n" + flat

	a, err := c.Profile(flat, "general", "article")
	require.NoError(t, err)
	b, err := c.Profile(structured, "general", "article")
	require.NoError(t, err)

	assert.Greater(t, b.QueryPotential, a.QueryPotential)
}

func TestRepetitiveTextScoresLowDensity(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	repetitive := strings.Repeat("word word word word word word word word ", 100)
	varied := article

	a, err := c.Profile(repetitive, "general", "article")
	require.NoError(t, err)
	b, err := c.Profile(varied, "general", "article")
	require.NoError(t, err)

	assert.Less(t, a.InformationDensity, b.InformationDensity)
}
