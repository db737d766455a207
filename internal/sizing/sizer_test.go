package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synth-core/pkg/config"
)

func testSizer() *Sizer {
	return New(config.Default().Sizing)
}

func TestSizeInterpolatesBetweenBands(t *testing.T) {
	s := testSizer()

	res := s.Size(Input{Score: 0.694, Balance: 10000})
	require.False(t, res.Skip())
	assert.Equal(t, "64.40", res.Stake.StringFixed(2))

	high := s.Size(Input{Score: 0.9, Balance: 10000})
	assert.Equal(t, "70.00", high.Stake.StringFixed(2))
}

func TestSizeBelowScoreMinSkips(t *testing.T) {
	res := testSizer().Size(Input{Score: 0.4, Balance: 10000})
	assert.True(t, res.Skip())
	assert.Equal(t, ReasonScoreBelowMin, res.Reason)
}

func TestSizeBelowViableSkips(t *testing.T) {
	res := testSizer().Size(Input{Score: 0.6, Balance: 20})
	assert.True(t, res.Skip())
	assert.Equal(t, ReasonBelowViable, res.Reason)

	none := testSizer().Size(Input{Score: 0.6, Balance: 0})
	assert.Equal(t, ReasonNoBalance, none.Reason)
}

func TestSizeClampsToBounds(t *testing.T) {
	s := testSizer()

	// 100 * 0.005 = 0.5: viable but below min_stake.
	low := s.Size(Input{Score: 0.55, Balance: 100})
	assert.Equal(t, "1.00", low.Stake.StringFixed(2))

	big := s.Size(Input{Score: 0.9, Balance: 1e7})
	assert.Equal(t, "1000.00", big.Stake.StringFixed(2))
}

func TestSizeMonotonicInScore(t *testing.T) {
	s := testSizer()
	prev := s.Size(Input{Score: 0, Balance: 5000}).Stake
	for score := 0.0; score <= 1.0; score += 0.01 {
		cur := s.Size(Input{Score: score, Balance: 5000}).Stake
		assert.False(t, cur.LessThan(prev), "stake decreased at score %.2f", score)
		prev = cur
	}
}

func TestATRDampener(t *testing.T) {
	cfg := config.Default().Sizing
	cfg.ATRDampener.Enabled = true
	s := New(cfg)

	calm := s.Size(Input{Score: 0.9, Balance: 10000, ATR: 1, Price: 1000})
	assert.Equal(t, 1.0, calm.Dampener)

	wild := s.Size(Input{Score: 0.9, Balance: 10000, ATR: 4, Price: 1000})
	assert.InDelta(t, 0.5, wild.Dampener, 1e-9)
	assert.Equal(t, "35.00", wild.Stake.StringFixed(2))
}

func TestRiskPctCapped(t *testing.T) {
	cfg := config.Default().Sizing
	cfg.RiskPctHigh = 0.05
	assert.Equal(t, cfg.MaxRiskPct, New(cfg).RiskPct(1))
}
