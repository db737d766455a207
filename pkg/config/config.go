package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Contract types understood by the executor.
const (
	ContractRiseFall   = "rise_fall"
	ContractMultiplier = "multiplier"
)

// Config is the immutable, validated document supplied at process start.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	Deriv       DerivConfig       `yaml:"deriv"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Trading     TradingConfig     `yaml:"trading"`
	Market      MarketConfig      `yaml:"market"`
	Indicators  IndicatorConfig   `yaml:"indicators"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Filters     FilterConfig      `yaml:"filters"`
	Risk        RiskConfig        `yaml:"risk"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Engine      EngineConfig      `yaml:"engine"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Development DevelopmentConfig `yaml:"development"`
}

type DerivConfig struct {
	AppID          string        `yaml:"app_id"`
	APIToken       string        `yaml:"api_token"`
	WebsocketURL   string        `yaml:"websocket_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

type ConnectionConfig struct {
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
	StableAfter   time.Duration `yaml:"stable_after"`
}

type TradingConfig struct {
	Symbols      []string         `yaml:"symbols"`
	Currency     string           `yaml:"currency"`
	ContractType string           `yaml:"contract_type"`
	RiseFall     RiseFallConfig   `yaml:"rise_fall"`
	Multiplier   MultiplierConfig `yaml:"multiplier"`
}

type RiseFallConfig struct {
	Duration     int    `yaml:"duration"`
	DurationUnit string `yaml:"duration_unit"`
}

type MultiplierConfig struct {
	Multiplier    int           `yaml:"multiplier"`
	Duration      int           `yaml:"duration"`
	DurationUnit  string        `yaml:"duration_unit"`
	TakeProfitPct float64       `yaml:"take_profit_pct"`
	StopLossPct   float64       `yaml:"stop_loss_pct"`
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

type MarketConfig struct {
	Interval    time.Duration `yaml:"interval"`
	HTFInterval time.Duration `yaml:"htf_interval"`
}

type IndicatorConfig struct {
	EMAFast    int `yaml:"ema_fast"`
	EMASlow    int `yaml:"ema_slow"`
	RSI        int `yaml:"rsi"`
	ATR        int `yaml:"atr"`
	HTFEMAFast int `yaml:"htf_ema_fast"`
	HTFEMASlow int `yaml:"htf_ema_slow"`
}

// Band is an inclusive RSI range.
type Band struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

type Weights struct {
	Trend     float64 `yaml:"trend"`
	RSI       float64 `yaml:"rsi"`
	Proximity float64 `yaml:"proximity"`
}

type StrategyConfig struct {
	Lookback     int     `yaml:"lookback"`
	PullbackPct  float64 `yaml:"pullback_pct"`
	RSICallBand  Band    `yaml:"rsi_call_band"`
	RSIPutBand   Band    `yaml:"rsi_put_band"`
	Weights      Weights `yaml:"weights"`
	TrendNormATR float64 `yaml:"trend_norm_atr"`
	// Setups are skipped when ATR or the EMA spread is below these fractions
	// of price, or when RSI is already extreme in the trend direction.
	MinATRPct       float64 `yaml:"min_atr_pct"`
	MinEMASpreadPct float64 `yaml:"min_ema_spread_pct"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
}

type FilterConfig struct {
	HTF               HTFFilterConfig     `yaml:"htf"`
	Quality           QualityFilterConfig `yaml:"quality"`
	SupportResistance SRFilterConfig      `yaml:"support_resistance"`
}

type HTFFilterConfig struct {
	Enabled      bool `yaml:"enabled"`
	AllowNeutral bool `yaml:"allow_neutral"`
}

type QualityFilterConfig struct {
	Enabled    bool    `yaml:"enabled"`
	MinScore   float64 `yaml:"min_score"`
	RSICallMax float64 `yaml:"rsi_call_max"`
	RSIPutMin  float64 `yaml:"rsi_put_min"`
	MaxATRPct  float64 `yaml:"max_atr_pct"` // 0 disables
}

type SRFilterConfig struct {
	Enabled    bool    `yaml:"enabled"`
	NearPct    float64 `yaml:"near_pct"`
	MinCandles int     `yaml:"min_candles"`
}

type RiskConfig struct {
	MaxDrawdown          float64       `yaml:"max_drawdown"`   // fraction of peak equity
	MaxDailyLoss         float64       `yaml:"max_daily_loss"` // fraction of day-start equity
	MaxTradesDaily       int           `yaml:"max_trades_daily"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	Cooldown             time.Duration `yaml:"cooldown"`
	DayAnchorTZ          string        `yaml:"day_anchor_tz"`
	DayAnchorHour        int           `yaml:"day_anchor_hour"`
}

type SizingConfig struct {
	MinStake       float64        `yaml:"min_stake"`
	MaxStake       float64        `yaml:"max_stake"`
	MinViableStake float64        `yaml:"min_viable_stake"`
	RiskPct        float64        `yaml:"risk_pct"`
	RiskPctHigh    float64        `yaml:"risk_pct_high"`
	MaxRiskPct     float64        `yaml:"max_risk_pct"`
	ScoreMin       float64        `yaml:"score_min"`
	ScoreHigh      float64        `yaml:"score_high"`
	ATRDampener    DampenerConfig `yaml:"atr_dampener"`
}

type DampenerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	ReferenceATRPct float64 `yaml:"reference_atr_pct"`
}

type EngineConfig struct {
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	BalanceRefresh time.Duration `yaml:"balance_refresh"`
	WarmupHistory  bool          `yaml:"warmup_history"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite or postgres
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	JWTSecret   string   `yaml:"jwt_secret"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
}

type MonitoringConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotMaxAge   time.Duration `yaml:"snapshot_max_age"`
}

type DevelopmentConfig struct {
	DryRun       bool    `yaml:"dry_run"`
	PaperBalance float64 `yaml:"paper_balance"`
	MockFeed     bool    `yaml:"mock_feed"`
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Environment: "DEMO",
		LogLevel:    "info",
		LogFormat:   "json",
		Deriv: DerivConfig{
			AppID:          "1089",
			WebsocketURL:   "wss://ws.derivws.com/websockets/v3",
			RequestTimeout: 10 * time.Second,
			PingInterval:   15 * time.Second,
			PongTimeout:    5 * time.Second,
		},
		Connection: ConnectionConfig{
			BackoffBase:   time.Second,
			BackoffMax:    60 * time.Second,
			BackoffJitter: 0.3,
			StableAfter:   30 * time.Second,
		},
		Trading: TradingConfig{
			Symbols:      []string{"R_75"},
			Currency:     "USD",
			ContractType: ContractRiseFall,
			RiseFall:     RiseFallConfig{Duration: 1, DurationUnit: "m"},
			Multiplier: MultiplierConfig{
				Multiplier:    10,
				Duration:      15,
				DurationUnit:  "m",
				TakeProfitPct: 50,
				StopLossPct:   50,
				SettleTimeout: 24 * time.Hour,
			},
		},
		Market:     MarketConfig{Interval: time.Minute, HTFInterval: 5 * time.Minute},
		Indicators: IndicatorConfig{EMAFast: 20, EMASlow: 50, RSI: 14, ATR: 14, HTFEMAFast: 9, HTFEMASlow: 21},
		Strategy: StrategyConfig{
			Lookback:     30,
			PullbackPct:  0.003,
			RSICallBand:  Band{Low: 40, High: 55},
			RSIPutBand:   Band{Low: 45, High: 60},
			Weights:      Weights{Trend: 0.45, RSI: 0.35, Proximity: 0.20},
			TrendNormATR: 2.0,

			MinATRPct:       0.001,
			MinEMASpreadPct: 0.0005,
			RSIOverbought:   70,
			RSIOversold:     30,
		},
		Filters: FilterConfig{
			HTF:               HTFFilterConfig{Enabled: true, AllowNeutral: true},
			Quality:           QualityFilterConfig{Enabled: true, RSICallMax: 65, RSIPutMin: 35},
			SupportResistance: SRFilterConfig{Enabled: true, NearPct: 0.003, MinCandles: 5},
		},
		Risk: RiskConfig{
			MaxDrawdown:          0.10,
			MaxDailyLoss:         0.05,
			MaxTradesDaily:       50,
			MaxConsecutiveLosses: 3,
			Cooldown:             30 * time.Minute,
			DayAnchorTZ:          "UTC",
		},
		Sizing: SizingConfig{
			MinStake:       1,
			MaxStake:       1000,
			MinViableStake: 0.35,
			RiskPct:        0.005,
			RiskPctHigh:    0.007,
			MaxRiskPct:     0.01,
			ScoreMin:       0.55,
			ScoreHigh:      0.75,
			ATRDampener:    DampenerConfig{ReferenceATRPct: 0.002},
		},
		Engine:   EngineConfig{DrainTimeout: 30 * time.Second, BalanceRefresh: 60 * time.Second},
		Database: DatabaseConfig{Type: "sqlite", Path: "data/synth.db"},
		API: APIConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
			RateLimit:   20,
			RateBurst:   50,
		},
		Monitoring: MonitoringConfig{
			SnapshotInterval: 5 * time.Second,
			SnapshotPath:     "data/metrics.json",
			SnapshotMaxAge:   30 * time.Second,
		},
		Development: DevelopmentConfig{DryRun: true, PaperBalance: 10000},
	}
}

// Load reads the YAML document at path on top of Default, applies environment
// overrides (optionally via .env) and validates the result.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Deriv.AppID = getEnv("DERIV__APP_ID", c.Deriv.AppID)
	c.Deriv.APIToken = getEnv("DERIV__API_TOKEN", c.Deriv.APIToken)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Database.DSN = getEnv("DATABASE__DSN", c.Database.DSN)
	c.API.JWTSecret = getEnv("API__JWT_SECRET", c.API.JWTSecret)
	if v := os.Getenv("TRADING__SYMBOLS"); v != "" {
		c.Trading.Symbols = splitAndTrim(v)
	}

	dryRun, err := getEnvBool("DEVELOPMENT__DRY_RUN", c.Development.DryRun)
	if err != nil {
		return err
	}
	c.Development.DryRun = dryRun
	return nil
}

func (c *Config) normalize() {
	c.Environment = strings.ToUpper(strings.TrimSpace(c.Environment))
	c.Trading.ContractType = strings.ToLower(strings.TrimSpace(c.Trading.ContractType))
	c.Trading.RiseFall.DurationUnit = strings.ToLower(c.Trading.RiseFall.DurationUnit)
	c.Trading.Multiplier.DurationUnit = strings.ToLower(c.Trading.Multiplier.DurationUnit)
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	if c.Database.Type == "postgresql" {
		c.Database.Type = "postgres"
	}
	syms := make([]string, 0, len(c.Trading.Symbols))
	seen := make(map[string]bool)
	for _, s := range c.Trading.Symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		syms = append(syms, s)
	}
	c.Trading.Symbols = syms
}

// Location resolves the risk day anchor time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Risk.DayAnchorTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Masked returns a copy safe to print.
func (c Config) Masked() Config {
	if c.Deriv.APIToken != "" {
		c.Deriv.APIToken = mask(c.Deriv.APIToken)
	}
	if c.API.JWTSecret != "" {
		c.API.JWTSecret = mask(c.API.JWTSecret)
	}
	if c.Database.DSN != "" {
		c.Database.DSN = mask(c.Database.DSN)
	}
	return c
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v)
	}
	return b, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
