package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Research, Inc.", "ACME RESEARCH"},
		{"acme research inc", "ACME RESEARCH"},
		{"Blue Sky Labs LLC", "BLUE SKY LABS"},
		{"  Many   Spaces   Co ", "MANY SPACES"},
		{"Université de Montréal", "UNIVERSITE DE MONTREAL"},
		{"Stanford University", "STANFORD"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestSimilarity_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("Acme Research Inc", "ACME RESEARCH"), 1e-9)
}

func TestSimilarity_Disjoint(t *testing.T) {
	assert.Zero(t, Similarity("Acme", "Zenith"))
}

func TestSimilarity_Partial(t *testing.T) {
	got := Similarity("Acme Research Laboratories", "Acme Research Labs")
	assert.Greater(t, got, 0.5)
	assert.Less(t, got, 1.0)
}

func TestSimilarity_Empty(t *testing.T) {
	assert.Zero(t, Similarity("", "Acme"))
	assert.Zero(t, Similarity("Acme", ""))
}

func TestSimilarity_Symmetric(t *testing.T) {
	a, b := "Pacific Northwest Labs", "Pacific NW Laboratories"
	assert.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-9)
}
