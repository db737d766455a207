package order

import "github.com/shopspring/decimal"

var minLimit = decimal.New(1, -2)

// LimitAmounts converts take-profit and stop-loss percentages of stake into
// currency amounts, rounded to cents with a floor of 0.01. The result does
// not depend on the leverage multiplier.
func LimitAmounts(stake decimal.Decimal, takeProfitPct, stopLossPct float64) (tp, sl decimal.Decimal) {
	hundred := decimal.NewFromInt(100)
	tp = stake.Mul(decimal.NewFromFloat(takeProfitPct)).Div(hundred).Round(2)
	sl = stake.Mul(decimal.NewFromFloat(stopLossPct)).Div(hundred).Round(2)
	return decimal.Max(tp, minLimit), decimal.Max(sl, minLimit)
}
