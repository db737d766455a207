package deriv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Authorize authenticates the session with an API token.
func (c *Client) Authorize(ctx context.Context, token string) (Account, error) {
	var resp struct {
		Authorize Account `json:"authorize"`
	}
	if err := c.Request(ctx, map[string]any{"authorize": token}, &resp); err != nil {
		return Account{}, fmt.Errorf("authorize: %w", err)
	}
	return resp.Authorize, nil
}

// SubscribeTicks starts the tick stream for symbol and returns the subscription id.
func (c *Client) SubscribeTicks(ctx context.Context, symbol string) (string, error) {
	var resp struct {
		Subscription subscription `json:"subscription"`
	}
	if err := c.Request(ctx, map[string]any{"ticks": symbol, "subscribe": 1}, &resp); err != nil {
		return "", fmt.Errorf("subscribe ticks %s: %w", symbol, err)
	}
	return resp.Subscription.ID, nil
}

// Forget cancels a subscription.
func (c *Client) Forget(ctx context.Context, subscriptionID string) error {
	if err := c.Request(ctx, map[string]any{"forget": subscriptionID}, nil); err != nil {
		return fmt.Errorf("forget %s: %w", subscriptionID, err)
	}
	return nil
}

// Balance returns the current account balance.
func (c *Client) Balance(ctx context.Context) (float64, string, error) {
	var resp struct {
		Balance struct {
			Balance  float64 `json:"balance"`
			Currency string  `json:"currency"`
		} `json:"balance"`
	}
	if err := c.Request(ctx, map[string]any{"balance": 1}, &resp); err != nil {
		return 0, "", fmt.Errorf("balance: %w", err)
	}
	return resp.Balance.Balance, resp.Balance.Currency, nil
}

// AllowedMultipliers lists the multiplier values offered for symbol's MULTUP/MULTDOWN contracts.
func (c *Client) AllowedMultipliers(ctx context.Context, symbol, currency string) ([]int, error) {
	var resp struct {
		ContractsFor contractsFor `json:"contracts_for"`
	}
	req := map[string]any{
		"contracts_for":   symbol,
		"currency":        currency,
		"landing_company": "svg",
		"product_type":    "basic",
	}
	if err := c.Request(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("contracts_for %s: %w", symbol, err)
	}

	seen := make(map[int]bool)
	var out []int
	for _, a := range resp.ContractsFor.Available {
		if a.ContractType != "MULTUP" && a.ContractType != "MULTDOWN" {
			continue
		}
		vals := parseMultipliers(a.MultiplierRange)
		if len(vals) == 0 {
			vals = parseMultipliers(a.Multipliers)
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("contracts_for %s: no multiplier contracts offered", symbol)
	}
	sort.Ints(out)
	return out, nil
}

// Proposal prices a contract.
func (c *Client) Proposal(ctx context.Context, r ProposalRequest) (Proposal, error) {
	req := map[string]any{
		"proposal":      1,
		"amount":        r.Amount,
		"basis":         "stake",
		"contract_type": r.ContractType,
		"currency":      r.Currency,
		"symbol":        r.Symbol,
	}
	if r.Duration > 0 {
		req["duration"] = r.Duration
		req["duration_unit"] = r.DurationUnit
	}
	if r.Multiplier > 0 {
		req["multiplier"] = r.Multiplier
	}
	if r.LimitOrder != nil {
		req["limit_order"] = r.LimitOrder
	}

	var resp struct {
		Proposal Proposal `json:"proposal"`
	}
	if err := c.Request(ctx, req, &resp); err != nil {
		return Proposal{}, fmt.Errorf("proposal: %w", err)
	}
	if resp.Proposal.ID == "" {
		return Proposal{}, errors.New("proposal: missing id")
	}
	return resp.Proposal, nil
}

// Buy purchases a priced proposal at most at price.
func (c *Client) Buy(ctx context.Context, proposalID string, price float64) (Purchase, error) {
	var resp struct {
		Buy Purchase `json:"buy"`
	}
	if err := c.Request(ctx, map[string]any{"buy": proposalID, "price": price}, &resp); err != nil {
		return Purchase{}, fmt.Errorf("buy: %w", err)
	}
	if resp.Buy.ContractID == 0 {
		return Purchase{}, errors.New("buy: missing contract id")
	}
	return resp.Buy, nil
}

// OpenContract fetches the current state of a purchased contract.
func (c *Client) OpenContract(ctx context.Context, contractID int64) (ContractStatus, error) {
	var resp struct {
		Contract ContractStatus `json:"proposal_open_contract"`
	}
	if err := c.Request(ctx, map[string]any{"proposal_open_contract": 1, "contract_id": contractID}, &resp); err != nil {
		return ContractStatus{}, fmt.Errorf("proposal_open_contract %d: %w", contractID, err)
	}
	return resp.Contract, nil
}

// CandleHistory fetches the most recent count candles of the given granularity in seconds.
func (c *Client) CandleHistory(ctx context.Context, symbol string, granularity, count int) ([]Candle, error) {
	req := map[string]any{
		"ticks_history": symbol,
		"end":           "latest",
		"style":         "candles",
		"granularity":   granularity,
		"count":         count,
	}
	var resp struct {
		Candles []Candle `json:"candles"`
	}
	if err := c.Request(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("ticks_history %s: %w", symbol, err)
	}
	sort.Slice(resp.Candles, func(i, j int) bool { return resp.Candles[i].Epoch < resp.Candles[j].Epoch })
	return resp.Candles, nil
}

// IsVolatilityIndex reports whether symbol is one of the continuous R_* indices.
func IsVolatilityIndex(symbol string) bool {
	if !strings.HasPrefix(symbol, "R_") {
		return false
	}
	return !strings.Contains(symbol, "CRASH") && !strings.Contains(symbol, "BOOM")
}
