package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

var placeholderTokens = map[string]bool{
	"DUMMY": true, "PLACEHOLDER": true, "CHANGEME": true,
}

// Validate rejects malformed or incomplete documents. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Environment != "DEMO" && c.Environment != "REAL" {
		add("environment must be DEMO or REAL, got %q", c.Environment)
	}

	// Venue
	if c.Deriv.AppID == "" || !isDigits(c.Deriv.AppID) {
		add("deriv.app_id must be a non-empty numeric string")
	}
	token := strings.TrimSpace(c.Deriv.APIToken)
	switch {
	case c.Development.DryRun && (token == "" || placeholderTokens[strings.ToUpper(token)]):
		// dry-run may stream with an unauthorised session
	case len(token) < 10:
		add("deriv.api_token must be at least 10 characters")
	}
	if !strings.HasPrefix(c.Deriv.WebsocketURL, "ws://") && !strings.HasPrefix(c.Deriv.WebsocketURL, "wss://") {
		add("deriv.websocket_url must be a ws:// or wss:// URL")
	}
	positiveDur(add, "deriv.request_timeout", c.Deriv.RequestTimeout)
	positiveDur(add, "deriv.ping_interval", c.Deriv.PingInterval)
	positiveDur(add, "deriv.pong_timeout", c.Deriv.PongTimeout)

	// Connection
	positiveDur(add, "connection.backoff_base", c.Connection.BackoffBase)
	if c.Connection.BackoffMax < c.Connection.BackoffBase {
		add("connection.backoff_max must be >= backoff_base")
	}
	if c.Connection.BackoffJitter < 0 || c.Connection.BackoffJitter >= 1 {
		add("connection.backoff_jitter must be in [0,1)")
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		add("trading.symbols must list at least one symbol")
	}
	if c.Trading.ContractType != ContractRiseFall && c.Trading.ContractType != ContractMultiplier {
		add("trading.contract_type must be %q or %q", ContractRiseFall, ContractMultiplier)
	}
	if c.Trading.RiseFall.Duration < 1 {
		add("trading.rise_fall.duration must be >= 1")
	}
	durationUnit(add, "trading.rise_fall.duration_unit", c.Trading.RiseFall.DurationUnit)
	m := c.Trading.Multiplier
	if m.Multiplier < 1 {
		add("trading.multiplier.multiplier must be >= 1")
	}
	if m.Duration < 1 {
		add("trading.multiplier.duration must be >= 1")
	}
	durationUnit(add, "trading.multiplier.duration_unit", m.DurationUnit)
	if m.TakeProfitPct <= 0 || m.TakeProfitPct > 500 {
		add("trading.multiplier.take_profit_pct must be in (0,500]")
	}
	if m.StopLossPct <= 0 || m.StopLossPct > 100 {
		add("trading.multiplier.stop_loss_pct must be in (0,100]")
	}
	positiveDur(add, "trading.multiplier.settle_timeout", m.SettleTimeout)

	// Market
	if c.Market.Interval < time.Second || c.Market.Interval%time.Second != 0 {
		add("market.interval must be a whole number of seconds")
	}
	if c.Market.Interval > 0 && (c.Market.HTFInterval <= c.Market.Interval || c.Market.HTFInterval%c.Market.Interval != 0) {
		add("market.htf_interval must be a larger multiple of market.interval")
	}

	// Indicators
	ind := c.Indicators
	for name, p := range map[string]int{
		"ema_fast": ind.EMAFast, "ema_slow": ind.EMASlow, "rsi": ind.RSI, "atr": ind.ATR,
		"htf_ema_fast": ind.HTFEMAFast, "htf_ema_slow": ind.HTFEMASlow,
	} {
		if p <= 1 {
			add("indicators.%s must be > 1", name)
		}
	}
	if ind.EMASlow <= ind.EMAFast {
		add("indicators.ema_slow must be greater than ema_fast")
	}
	if ind.HTFEMASlow <= ind.HTFEMAFast {
		add("indicators.htf_ema_slow must be greater than htf_ema_fast")
	}

	// Strategy
	s := c.Strategy
	if s.Lookback < 2 {
		add("strategy.lookback must be >= 2")
	}
	fraction(add, "strategy.pullback_pct", s.PullbackPct)
	band(add, "strategy.rsi_call_band", s.RSICallBand)
	band(add, "strategy.rsi_put_band", s.RSIPutBand)
	if s.Weights.Trend < 0 || s.Weights.RSI < 0 || s.Weights.Proximity < 0 ||
		s.Weights.Trend+s.Weights.RSI+s.Weights.Proximity <= 0 {
		add("strategy.weights must be non-negative with a positive sum")
	}
	if s.TrendNormATR <= 0 {
		add("strategy.trend_norm_atr must be > 0")
	}
	if s.MinATRPct < 0 || s.MinATRPct >= 1 {
		add("strategy.min_atr_pct must be in [0,1)")
	}
	if s.MinEMASpreadPct < 0 || s.MinEMASpreadPct >= 1 {
		add("strategy.min_ema_spread_pct must be in [0,1)")
	}
	if s.RSIOversold < 0 || s.RSIOverbought > 100 || s.RSIOversold >= s.RSIOverbought {
		add("strategy.rsi_oversold and rsi_overbought must satisfy 0 <= oversold < overbought <= 100")
	}

	// Filters
	q := c.Filters.Quality
	if q.MinScore < 0 || q.MinScore > 1 {
		add("filters.quality.min_score must be in [0,1]")
	}
	if q.RSICallMax < 0 || q.RSICallMax > 100 || q.RSIPutMin < 0 || q.RSIPutMin > 100 {
		add("filters.quality RSI bounds must be in [0,100]")
	}
	if q.MaxATRPct < 0 {
		add("filters.quality.max_atr_pct must be >= 0")
	}
	fraction(add, "filters.support_resistance.near_pct", c.Filters.SupportResistance.NearPct)
	if c.Filters.SupportResistance.MinCandles < 1 {
		add("filters.support_resistance.min_candles must be >= 1")
	}

	// Risk
	r := c.Risk
	fraction(add, "risk.max_drawdown", r.MaxDrawdown)
	fraction(add, "risk.max_daily_loss", r.MaxDailyLoss)
	if r.MaxTradesDaily < 1 {
		add("risk.max_trades_daily must be >= 1")
	}
	if r.MaxConsecutiveLosses < 1 {
		add("risk.max_consecutive_losses must be >= 1")
	}
	if r.Cooldown < 0 {
		add("risk.cooldown must be >= 0")
	}
	if _, err := time.LoadLocation(r.DayAnchorTZ); err != nil {
		add("risk.day_anchor_tz: %v", err)
	}
	if r.DayAnchorHour < 0 || r.DayAnchorHour > 23 {
		add("risk.day_anchor_hour must be in [0,23]")
	}

	// Sizing
	z := c.Sizing
	if z.MinStake <= 0 {
		add("sizing.min_stake must be > 0")
	}
	if z.MaxStake <= z.MinStake {
		add("sizing.max_stake must be greater than min_stake")
	}
	if z.MinViableStake < 0 {
		add("sizing.min_viable_stake must be >= 0")
	}
	fraction(add, "sizing.risk_pct", z.RiskPct)
	fraction(add, "sizing.risk_pct_high", z.RiskPctHigh)
	fraction(add, "sizing.max_risk_pct", z.MaxRiskPct)
	if z.RiskPctHigh < z.RiskPct {
		add("sizing.risk_pct_high must be >= risk_pct")
	}
	if z.ScoreHigh <= z.ScoreMin || z.ScoreMin < 0 || z.ScoreHigh > 1 {
		add("sizing.score_min/score_high must satisfy 0 <= min < high <= 1")
	}
	if z.ATRDampener.Enabled && z.ATRDampener.ReferenceATRPct <= 0 {
		add("sizing.atr_dampener.reference_atr_pct must be > 0")
	}

	// Engine
	positiveDur(add, "engine.drain_timeout", c.Engine.DrainTimeout)
	positiveDur(add, "engine.balance_refresh", c.Engine.BalanceRefresh)

	// Storage
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			add("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			add("database.dsn is required for postgres")
		}
	default:
		add("database.type must be sqlite or postgres")
	}

	// API / monitoring
	if c.API.Enabled && (c.API.Port < 1024 || c.API.Port > 65535) {
		add("api.port must be in [1024,65535]")
	}
	if c.API.Enabled && c.Environment == "REAL" && c.API.JWTSecret == "" {
		add("api.jwt_secret is required when the API is enabled on a REAL account")
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst < 1 {
		add("api.rate_limit and api.rate_burst must be positive")
	}
	if c.Monitoring.SnapshotInterval < time.Second {
		add("monitoring.snapshot_interval must be >= 1s")
	}
	if c.Monitoring.SnapshotPath == "" {
		add("monitoring.snapshot_path is required")
	}
	if c.Development.DryRun && c.Development.PaperBalance <= 0 {
		add("development.paper_balance must be > 0 in dry-run")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func positiveDur(add func(string, ...any), name string, d time.Duration) {
	if d <= 0 {
		add("%s must be > 0", name)
	}
}

func fraction(add func(string, ...any), name string, v float64) {
	if v <= 0 || v > 1 {
		add("%s must be in (0,1]", name)
	}
}

func band(add func(string, ...any), name string, b Band) {
	if b.Low < 0 || b.High > 100 || b.Low >= b.High {
		add("%s must satisfy 0 <= low < high <= 100", name)
	}
}

func durationUnit(add func(string, ...any), name, unit string) {
	switch unit {
	case "s", "m", "h":
	default:
		add("%s must be s, m or h", name)
	}
}
