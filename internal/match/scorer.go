// Package match scores how confidently an award record and an external
// metadata record refer to the same entity. Used wherever records from two
// systems must be joined on fuzzy evidence.
package match

import (
	"github.com/rotisserie/eris"
)

// Factors holds the match evidence for one candidate pair. Boolean factors
// contribute their full weight when true; continuous factors contribute
// weight × value. NameExact and NameSimilarity describe the same underlying
// signal, so an exact name match suppresses the similarity contribution.
type Factors struct {
	UEIExact          bool
	NameExact         bool
	NameSimilarity    float64 // [0, 1]
	AwardNumberExact  bool
	AddressSimilarity float64 // [0, 1]
}

// Weights configures the relative strength of each factor.
type Weights struct {
	UEIExact          float64 `yaml:"uei_exact" mapstructure:"uei_exact"`
	NameExact         float64 `yaml:"name_exact" mapstructure:"name_exact"`
	NameSimilarity    float64 `yaml:"name_similarity" mapstructure:"name_similarity"`
	AwardNumberExact  float64 `yaml:"award_number_exact" mapstructure:"award_number_exact"`
	AddressSimilarity float64 `yaml:"address_similarity" mapstructure:"address_similarity"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		UEIExact:          0.5,
		NameExact:         0.3,
		NameSimilarity:    0.2,
		AwardNumberExact:  0.2,
		AddressSimilarity: 0.1,
	}
}

// Level is the qualitative confidence bucket.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Thresholds maps a continuous score onto Levels. Must be non-decreasing
// and within [0, 1].
type Thresholds struct {
	Medium float64 `yaml:"medium" mapstructure:"medium"`
	High   float64 `yaml:"high" mapstructure:"high"`
}

// DefaultThresholds returns medium ≥ 0.5, high ≥ 0.8.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.5, High: 0.8}
}

// Contribution is one factor's share of a score, for audit output.
type Contribution struct {
	Factor       string  `json:"factor"`
	Weight       float64 `json:"weight"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Explanation decomposes a score into its named contributions.
type Explanation struct {
	Score         float64        `json:"score"`
	Level         Level          `json:"level"`
	Contributions []Contribution `json:"contributions"`
}

// Scorer combines weighted match evidence into a confidence score.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer validates the configuration and returns a Scorer. Invalid
// weights or thresholds are a policy violation surfaced before any matching
// starts.
func NewScorer(weights Weights, thresholds Thresholds) (*Scorer, error) {
	for name, w := range map[string]float64{
		"uei_exact":          weights.UEIExact,
		"name_exact":         weights.NameExact,
		"name_similarity":    weights.NameSimilarity,
		"award_number_exact": weights.AwardNumberExact,
		"address_similarity": weights.AddressSimilarity,
	} {
		if w < 0 || w > 1 {
			return nil, eris.Errorf("match: weight %s out of range [0,1]: %v", name, w)
		}
	}
	if thresholds.Medium < 0 || thresholds.High > 1 || thresholds.Medium > thresholds.High {
		return nil, eris.Errorf("match: thresholds must satisfy 0 ≤ medium ≤ high ≤ 1, got medium=%v high=%v",
			thresholds.Medium, thresholds.High)
	}
	return &Scorer{weights: weights, thresholds: thresholds}, nil
}

// MustScorer is NewScorer for known-good (default) configuration.
func MustScorer(weights Weights, thresholds Thresholds) *Scorer {
	s, err := NewScorer(weights, thresholds)
	if err != nil {
		panic(err)
	}
	return s
}

// Score combines the factors into a single confidence in [0, 1]. Weights
// are designed to sum to 1.0; clamping guards against configuration drift.
func (s *Scorer) Score(f Factors) float64 {
	var score float64
	for _, c := range s.contributions(f) {
		score += c.Contribution
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Level buckets a score into low, medium, or high.
func (s *Scorer) Level(score float64) Level {
	switch {
	case score >= s.thresholds.High:
		return LevelHigh
	case score >= s.thresholds.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Explain returns the score decomposed into named contributions for audit.
func (s *Scorer) Explain(f Factors) Explanation {
	contribs := s.contributions(f)
	var score float64
	for _, c := range contribs {
		score += c.Contribution
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return Explanation{
		Score:         score,
		Level:         s.Level(score),
		Contributions: contribs,
	}
}

func (s *Scorer) contributions(f Factors) []Contribution {
	var out []Contribution
	add := func(factor string, weight, value float64) {
		if value == 0 {
			return
		}
		out = append(out, Contribution{
			Factor:       factor,
			Weight:       weight,
			Value:        value,
			Contribution: weight * value,
		})
	}

	add("uei_exact", s.weights.UEIExact, boolVal(f.UEIExact))
	add("award_number_exact", s.weights.AwardNumberExact, boolVal(f.AwardNumberExact))
	add("address_similarity", s.weights.AddressSimilarity, clamp01(f.AddressSimilarity))

	// Exact name match and name similarity measure the same signal; count
	// only one to avoid double-weighting it.
	if f.NameExact {
		add("name_exact", s.weights.NameExact, 1)
	} else {
		add("name_similarity", s.weights.NameSimilarity, clamp01(f.NameSimilarity))
	}

	return out
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
