package market

import "time"

// Tick is a single price observation.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// Candle is an OHLC summary of one fixed window [Start, End).
type Candle struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Ticks     int       `json:"ticks"`
	Closed    bool      `json:"closed"`
	Synthetic bool      `json:"synthetic"`
}

func (c *Candle) apply(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Ticks++
}
