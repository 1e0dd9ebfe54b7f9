package policy

import (
	"testing"

	"github.com/grimoiredb/grimoire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	return p
}

func flatProfile() core.ContentProfile {
	return core.ContentProfile{
		SemanticComplexity: 0.5,
		TopicCoherence:     0.5,
		InformationDensity: 0.5,
		QueryPotential:     0.5,
	}
}

func TestDecideRules(t *testing.T) {
	p := newPolicy(t)

	t.Run("small content goes to full store", func(t *testing.T) {
		d, err := p.Decide(10*1024, flatProfile(), "technology")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyFullStore, d.Strategy)
		// 10 KB is far from the 50 KB threshold: confident placement.
		assert.GreaterOrEqual(t, d.Confidence, 0.7)
		assert.LessOrEqual(t, d.Confidence, 0.99)
	})

	t.Run("large content goes to vector store", func(t *testing.T) {
		d, err := p.Decide(60*1024*1024, flatProfile(), "literature")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyVectorStore, d.Strategy)
	})

	t.Run("complex high-potential content goes hybrid", func(t *testing.T) {
		profile := flatProfile()
		profile.SemanticComplexity = 0.85
		profile.QueryPotential = 0.9
		d, err := p.Decide(500*1024, profile, "technology")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyHybrid, d.Strategy)
	})

	t.Run("high value domain above medium size goes hybrid", func(t *testing.T) {
		d, err := p.Decide(5*1024*1024, flatProfile(), "philosophy")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyHybrid, d.Strategy)
	})

	t.Run("everything else keeps metadata only", func(t *testing.T) {
		d, err := p.Decide(500*1024, flatProfile(), "technology")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyMetadataOnly, d.Strategy)
	})
}

func TestDecideDeterminism(t *testing.T) {
	p := newPolicy(t)
	profile := flatProfile()
	profile.SemanticComplexity = 0.71

	first, err := p.Decide(123456, profile, "science")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := p.Decide(123456, profile, "science")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBoundaryResolvesToCheaperStrategy(t *testing.T) {
	p := newPolicy(t)
	cfg := DefaultConfig()

	t.Run("exactly at small threshold", func(t *testing.T) {
		// Below: full_store. Above (flat profile, plain domain):
		// metadata_only, which is cheaper.
		for i := 0; i < 10; i++ {
			d, err := p.Decide(cfg.SizeSmall, flatProfile(), "technology")
			require.NoError(t, err)
			assert.Equal(t, core.StrategyMetadataOnly, d.Strategy)
		}
	})

	t.Run("exactly at large threshold", func(t *testing.T) {
		// Below (flat profile, plain domain): metadata_only. Above:
		// vector_store. Cheaper wins, consistently.
		for i := 0; i < 10; i++ {
			d, err := p.Decide(cfg.SizeLarge, flatProfile(), "technology")
			require.NoError(t, err)
			assert.Equal(t, core.StrategyMetadataOnly, d.Strategy)
		}
	})

	t.Run("boundary confidence is floor", func(t *testing.T) {
		d, err := p.Decide(cfg.SizeSmall, flatProfile(), "technology")
		require.NoError(t, err)
		assert.InDelta(t, 0.30, d.Confidence, 0.05)
	})

	t.Run("confidence follows the rule behind the chosen side", func(t *testing.T) {
		// At the small threshold with gates wide open: below the line
		// the size rule fires (full_store), above it the profile gates
		// fire (hybrid). The tie picks full_store, so confidence is the
		// size rule's at distance zero, not the profile gates'.
		profile := flatProfile()
		profile.SemanticComplexity = 0.9
		profile.QueryPotential = 0.95

		d, err := p.Decide(cfg.SizeSmall, profile, "technology")
		require.NoError(t, err)
		assert.Equal(t, core.StrategyFullStore, d.Strategy)
		assert.InDelta(t, 0.30, d.Confidence, 1e-9)
	})
}

func TestDomainOverridesTakePrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DomainOverrides["legal"] = core.StrategySpecializedTable
	p, err := New(cfg)
	require.NoError(t, err)

	// Tiny content would normally be full_store; the override wins.
	d, err := p.Decide(1024, flatProfile(), "legal")
	require.NoError(t, err)
	assert.Equal(t, core.StrategySpecializedTable, d.Strategy)
	assert.Equal(t, 0.99, d.Confidence)
}

func TestDecideValidation(t *testing.T) {
	p := newPolicy(t)

	t.Run("negative size", func(t *testing.T) {
		_, err := p.Decide(-1, flatProfile(), "science")
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("profile out of range", func(t *testing.T) {
		profile := flatProfile()
		profile.TopicCoherence = 2
		_, err := p.Decide(1024, profile, "science")
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestStale(t *testing.T) {
	p := newPolicy(t)
	assert.True(t, p.Stale(&core.ContentRecord{PolicyVersion: "v1"}))
	assert.False(t, p.Stale(&core.ContentRecord{PolicyVersion: p.Version()}))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Run("missing version", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Version = ""
		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("non increasing thresholds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SizeMedium = cfg.SizeSmall
		_, err := New(cfg)
		assert.Error(t, err)
	})
}
