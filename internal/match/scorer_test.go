package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights(), DefaultThresholds())
	require.NoError(t, err)
	return s
}

func TestScorer_UEIOnly(t *testing.T) {
	s := defaultScorer(t)

	score := s.Score(Factors{UEIExact: true})
	assert.InDelta(t, 0.5, score, 1e-9)
	assert.Equal(t, LevelMedium, s.Level(score))
}

func TestScorer_AllSignalsClampToOne(t *testing.T) {
	s := defaultScorer(t)

	// 0.5 + 0.3 + 0.2 + 0.1 = 1.1, clamped to 1.0.
	score := s.Score(Factors{
		UEIExact:          true,
		NameExact:         true,
		AwardNumberExact:  true,
		AddressSimilarity: 1.0,
	})
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, LevelHigh, s.Level(score))
}

func TestScorer_ContinuousFactorsScale(t *testing.T) {
	s := defaultScorer(t)

	score := s.Score(Factors{NameSimilarity: 0.5, AddressSimilarity: 0.5})
	// 0.2*0.5 + 0.1*0.5
	assert.InDelta(t, 0.15, score, 1e-9)
	assert.Equal(t, LevelLow, s.Level(score))
}

func TestScorer_NameExactSuppressesSimilarity(t *testing.T) {
	s := defaultScorer(t)

	withBoth := s.Score(Factors{NameExact: true, NameSimilarity: 1.0})
	exactOnly := s.Score(Factors{NameExact: true})
	assert.InDelta(t, exactOnly, withBoth, 1e-9, "similarity must not add on top of an exact match")
	assert.InDelta(t, 0.3, withBoth, 1e-9)
}

func TestScorer_LevelBoundaries(t *testing.T) {
	s := defaultScorer(t)

	assert.Equal(t, LevelLow, s.Level(0.49))
	assert.Equal(t, LevelMedium, s.Level(0.5))
	assert.Equal(t, LevelMedium, s.Level(0.79))
	assert.Equal(t, LevelHigh, s.Level(0.8))
}

func TestScorer_Explain(t *testing.T) {
	s := defaultScorer(t)

	ex := s.Explain(Factors{UEIExact: true, NameSimilarity: 0.8})
	assert.InDelta(t, 0.66, ex.Score, 1e-9)
	assert.Equal(t, LevelMedium, ex.Level)

	byFactor := make(map[string]Contribution)
	for _, c := range ex.Contributions {
		byFactor[c.Factor] = c
	}
	require.Contains(t, byFactor, "uei_exact")
	require.Contains(t, byFactor, "name_similarity")
	assert.InDelta(t, 0.5, byFactor["uei_exact"].Contribution, 1e-9)
	assert.InDelta(t, 0.16, byFactor["name_similarity"].Contribution, 1e-9)
	assert.NotContains(t, byFactor, "name_exact")
}

func TestNewScorer_RejectsBadConfig(t *testing.T) {
	_, err := NewScorer(Weights{UEIExact: -0.1}, DefaultThresholds())
	assert.Error(t, err)

	_, err = NewScorer(DefaultWeights(), Thresholds{Medium: 0.9, High: 0.5})
	assert.Error(t, err)

	_, err = NewScorer(DefaultWeights(), Thresholds{Medium: 0.2, High: 1.5})
	assert.Error(t, err)
}
