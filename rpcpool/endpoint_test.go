package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInferTier(t *testing.T) {
	cases := []struct {
		url  string
		tier Tier
	}{
		{"https://fra.block-engine.example.net", Tier0Ultra},
		{"https://jito.mainnet.example.com", Tier0Ultra},
		{"http://rpc.trading.internal:8899", Tier0Ultra},
		{"http://localhost:8899", Tier0Ultra},
		{"https://mainnet.helius-rpc.com/?api-key=x", Tier1Premium},
		{"https://solana.quicknode.pro/abc", Tier1Premium},
		{"https://mainnet.rpcpool.com/xyz", Tier1Premium},
		{"https://api.mainnet-beta.solana.com", Tier2Public},
		{"https://some.unknown-provider.io", Tier2Public},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tier, inferTier(tc.url), tc.url)
	}
}

func TestInferRegion(t *testing.T) {
	assert.Equal(t, "eu-central", inferRegion("https://fra.example.net"))
	assert.Equal(t, "us-east", inferRegion("https://nyc1.example.net"))
	assert.Equal(t, "ap-northeast", inferRegion("https://tyo.example.net"))
	assert.Equal(t, "global", inferRegion("https://api.mainnet-beta.solana.com"))
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "tier0_ultra", Tier0Ultra.String())
	assert.Equal(t, "tier1_premium", Tier1Premium.String())
	assert.Equal(t, "tier2_public", Tier2Public.String())
}

func TestScoreHealthyPrivateEndpoint(t *testing.T) {
	h := newHealthState("http://rpc.trading.internal:8899")

	for i := 0; i < 30; i++ {
		h.Observe(10*time.Millisecond, true)
	}

	score := h.Score()
	assert.GreaterOrEqual(t, score, 115.0)
	assert.LessOrEqual(t, score, 135.0)
}

func TestScoreFailingPublicEndpoint(t *testing.T) {
	h := newHealthState("https://api.mainnet-beta.solana.com")

	for i := 0; i < 30; i++ {
		h.Observe(700*time.Millisecond, false)
	}

	score := h.Score()
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 20.0)
}

func TestScoreNeverLeavesRange(t *testing.T) {
	h := newHealthState("https://helius.example.com")

	for i := 0; i < 200; i++ {
		success := i%4 != 0
		h.Observe(time.Duration(i%900)*time.Millisecond, success)
		score := h.Score()
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 200.0)
	}
}

func TestScoreRecoversAfterSuccess(t *testing.T) {
	h := newHealthState("https://api.mainnet-beta.solana.com")

	for i := 0; i < 5; i++ {
		h.Observe(100*time.Millisecond, false)
	}
	low := h.Score()

	for i := 0; i < 20; i++ {
		h.Observe(20*time.Millisecond, true)
	}
	assert.Greater(t, h.Score(), low)
	assert.Zero(t, h.ConsecutiveFailures())
}

func TestCooldown(t *testing.T) {
	h := newHealthState("https://api.mainnet-beta.solana.com")
	now := time.Now()

	assert.False(t, h.InCooldown(now))
	h.StartCooldown(now.Add(time.Minute))
	assert.True(t, h.InCooldown(now))
	assert.False(t, h.InCooldown(now.Add(2*time.Minute)))
}

func TestStatsSnapshot(t *testing.T) {
	h := newHealthState("https://mainnet.helius-rpc.com/?api-key=x")
	h.Observe(40*time.Millisecond, true)
	h.Observe(60*time.Millisecond, false)

	stats := h.Stats()
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=x", stats.URL)
	assert.Equal(t, Tier1Premium, stats.Tier)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.Greater(t, stats.LatencyEWMAMs, 0.0)
	assert.Less(t, stats.SuccessRate, 1.0)
	assert.InDelta(t, h.Score(), stats.Score, 0.001)
}
