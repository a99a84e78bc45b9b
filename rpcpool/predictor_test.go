package rpcpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredictorNeutralOnTinyHistory(t *testing.T) {
	p := NewPredictor(16)
	assert.Equal(t, neutralProbability, p.FailureProbability())

	for i := 0; i < minObservations-1; i++ {
		p.Observe(10, true)
	}
	assert.Equal(t, neutralProbability, p.FailureProbability())
}

func TestPredictorAllSuccessStableLatency(t *testing.T) {
	p := NewPredictor(16)
	for i := 0; i < 16; i++ {
		p.Observe(20, false)
	}
	assert.Equal(t, 0.0, p.FailureProbability())
}

func TestPredictorAllFailures(t *testing.T) {
	p := NewPredictor(16)
	for i := 0; i < 16; i++ {
		p.Observe(20, true)
	}
	// Pure error-rate term with flat latency.
	assert.InDelta(t, 0.7, p.FailureProbability(), 0.001)
}

func TestPredictorRisingLatencyRaisesForecast(t *testing.T) {
	stable := NewPredictor(16)
	rising := NewPredictor(16)
	for i := 0; i < 16; i++ {
		stable.Observe(50, false)
		rising.Observe(float64(50+i*40), false)
	}
	assert.Greater(t, rising.FailureProbability(), stable.FailureProbability())
}

func TestPredictorBounded(t *testing.T) {
	p := NewPredictor(8)
	for i := 0; i < 100; i++ {
		p.Observe(float64(i*1000), i%2 == 0)
		prob := p.FailureProbability()
		assert.GreaterOrEqual(t, prob, 0.0)
		assert.LessOrEqual(t, prob, 1.0)
	}
}

func TestPredictorWindowEvictsOldFailures(t *testing.T) {
	p := NewPredictor(8)
	for i := 0; i < 8; i++ {
		p.Observe(20, true)
	}
	high := p.FailureProbability()

	for i := 0; i < 8; i++ {
		p.Observe(20, false)
	}
	assert.Less(t, p.FailureProbability(), high)
	assert.Equal(t, 0.0, p.FailureProbability())
}

func TestPredictorReset(t *testing.T) {
	p := NewPredictor(8)
	for i := 0; i < 8; i++ {
		p.Observe(20, true)
	}
	p.Reset()
	assert.Equal(t, neutralProbability, p.FailureProbability())
}
