package deriv

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIError is the error object the venue attaches to a failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv %s: %s", e.Code, e.Message)
}

type envelope struct {
	MsgType      string        `json:"msg_type"`
	ReqID        *int64        `json:"req_id,omitempty"`
	Error        *APIError     `json:"error,omitempty"`
	Subscription *subscription `json:"subscription,omitempty"`
	Tick         *tickPayload  `json:"tick,omitempty"`
}

type subscription struct {
	ID string `json:"id"`
}

type tickPayload struct {
	Symbol string  `json:"symbol"`
	Epoch  int64   `json:"epoch"`
	Quote  float64 `json:"quote"`
}

// Tick is a single price update for a symbol.
type Tick struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// Account is the authorized account summary.
type Account struct {
	LoginID   string  `json:"loginid"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	IsVirtual int     `json:"is_virtual"`
}

// ProposalRequest describes a contract to price.
type ProposalRequest struct {
	Symbol       string
	ContractType string // CALL, PUT, MULTUP, MULTDOWN
	Amount       float64
	Currency     string
	Duration     int
	DurationUnit string
	Multiplier   int // 0 for non-multiplier contracts
	LimitOrder   *LimitOrder
}

// LimitOrder carries absolute take-profit/stop-loss amounts in account currency.
type LimitOrder struct {
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

// Proposal is a priced contract offer.
type Proposal struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

// Purchase is the result of a buy.
type Purchase struct {
	ContractID int64   `json:"contract_id"`
	BuyPrice   float64 `json:"buy_price"`
	StartTime  int64   `json:"start_time"`
}

// ContractStatus is a snapshot of an open or settled contract.
type ContractStatus struct {
	ContractID int64   `json:"contract_id"`
	IsSold     int     `json:"is_sold"`
	Status     string  `json:"status"`
	Profit     float64 `json:"profit"`
	Payout     float64 `json:"payout"`
	EntrySpot  float64 `json:"entry_spot"`
	ExitSpot   float64 `json:"exit_tick"`
	SellTime   int64   `json:"sell_time"`
}

// Sold reports whether the contract has settled.
func (s ContractStatus) Sold() bool { return s.IsSold == 1 }

// Candle is an OHLC bar returned by ticks_history.
type Candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type contractsFor struct {
	Available []struct {
		ContractType    string          `json:"contract_type"`
		MultiplierRange json.RawMessage `json:"multiplier_range"`
		Multipliers     json.RawMessage `json:"multipliers"`
	} `json:"available"`
}

// parseMultipliers accepts either a list of numbers or a {min,max} object.
func parseMultipliers(raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}
	var list []float64
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]int, 0, len(list))
		for _, v := range list {
			if v > 0 {
				out = append(out, int(v))
			}
		}
		return out
	}
	var rng struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(raw, &rng); err != nil || rng.Min == nil || rng.Max == nil {
		return nil
	}
	lo, hi := int(*rng.Min), int(*rng.Max)
	var out []int
	for _, v := range []int{1, 2, 5, 10, 20, 40, 50, 100, 200, 400, 500, 1000, 2000} {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}
