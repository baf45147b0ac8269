package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestSummarize(t *testing.T) {
	tests := []struct {
		name        string
		values      []*float64
		policy      Policy
		wantMedian  float64
		wantAverage float64
		wantSamples int
	}{
		{name: "odd", values: Values([]float64{30, 10, 20}), policy: ExcludeMissing, wantMedian: 20, wantAverage: 20, wantSamples: 3},
		{name: "even", values: Values([]float64{1, 2, 3, 10}), policy: ExcludeMissing, wantMedian: 2.5, wantAverage: 4, wantSamples: 4},
		{name: "nil skipped", values: []*float64{f(4), nil, f(8)}, policy: ExcludeMissing, wantMedian: 6, wantAverage: 6, wantSamples: 2},
		{name: "zeros kept", values: Values([]float64{0, 10, 20, 30}), policy: ExcludeMissing, wantMedian: 15, wantAverage: 15, wantSamples: 4},
		{name: "zeros dropped", values: Values([]float64{0, 10, 20, 30}), policy: ExcludeMissingAndZero, wantMedian: 20, wantAverage: 20, wantSamples: 3},
		{name: "single", values: []*float64{f(7.5)}, policy: ExcludeMissing, wantMedian: 7.5, wantAverage: 7.5, wantSamples: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.values, tt.policy)
			require.True(t, got.HasData())
			assert.Equal(t, tt.wantSamples, got.Samples)
			assert.InDelta(t, tt.wantMedian, *got.Median, 1e-9)
			assert.InDelta(t, tt.wantAverage, *got.Average, 1e-9)
		})
	}
}

func TestSummarizeNoData(t *testing.T) {
	for _, values := range [][]*float64{nil, {nil, nil}, Values([]int{0, 0})} {
		got := Summarize(values, ExcludeMissingAndZero)
		assert.False(t, got.HasData())
		assert.Nil(t, got.Median)
		assert.Nil(t, got.Average)
	}
}

func TestSummarizeDoesNotMutateInput(t *testing.T) {
	values := Values([]float64{3, 1, 2})
	Summarize(values, ExcludeMissing)
	assert.InDelta(t, 3, *values[0], 0)
	assert.InDelta(t, 1, *values[1], 0)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{ExcludeMissing, ExcludeMissingAndZero} {
		got, ok := ParsePolicy(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
	_, ok := ParsePolicy("truthy")
	assert.False(t, ok)
}
