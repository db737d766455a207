// Package engine is the run context: it owns every component instance for
// one process lifetime and wires the tick pipeline between them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"synth-core/internal/balance"
	"synth-core/internal/connection"
	"synth-core/internal/control"
	"synth-core/internal/data"
	"synth-core/internal/events"
	"synth-core/internal/filter"
	"synth-core/internal/indicators"
	"synth-core/internal/market"
	"synth-core/internal/monitor"
	"synth-core/internal/order"
	"synth-core/internal/persistence"
	"synth-core/internal/reconciliation"
	"synth-core/internal/risk"
	"synth-core/internal/sizing"
	"synth-core/internal/strategy"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
	"synth-core/pkg/deriv"
)

// ErrAlreadyRunning is returned by a second Run on the same engine.
var ErrAlreadyRunning = errors.New("engine already running")

// Store is the persistence the engine needs. *db.Database satisfies it.
type Store interface {
	control.KillSwitchStore
	control.SettingsStore
	risk.Store
	monitor.LatestEventSource
	persistence.EventSink
	events.TradeStore

	ListTrades(ctx context.Context, f db.TradeFilter) ([]db.Trade, error)
	CountTrades(ctx context.Context, f db.TradeFilter) (int, error)
	DeleteTrade(ctx context.Context, id string) error
	DeleteTrades(ctx context.Context, from, to time.Time) (int64, error)
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.Event, error)
	RealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// TickFeed produces ticks until ctx ends, then closes the channel.
type TickFeed func(ctx context.Context) <-chan market.Tick

// Options carries the collaborators that differ between production and tests.
type Options struct {
	Store Store
	// Recorder defaults to a batched recorder over Store.
	Recorder events.Recorder
	Bus      *events.Bus
	// Dial defaults to the venue websocket dialer.
	Dial connection.Dialer
	// Feed replaces the connection manager as the tick source.
	Feed TickFeed
	Now  func() time.Time
	Log  zerolog.Logger
}

// Engine is the explicit context object. Nothing in it is global.
type Engine struct {
	cfg    config.Config
	log    zerolog.Logger
	now    func() time.Time
	loc    *time.Location
	dryRun bool

	store   Store
	rec     events.Recorder
	writer  *persistence.BatchWriter
	bus     *events.Bus
	metrics *monitor.Metrics
	reader  *monitor.Reader

	conn *connection.Manager
	feed TickFeed

	// Pipeline-owned state; only the Run goroutine touches these.
	aggs   map[string]*market.Aggregator
	inds   map[string]*indicators.Engine
	warmed map[string]bool
	strat  *strategy.Engine

	filters     *filter.Chain
	firewall    *risk.Firewall
	sizer       *sizing.Sizer
	balance     *balance.Manager
	multipliers *order.MultiplierResolver
	exec        *order.AsyncExecutor
	recon       *reconciliation.Service
	killSwitch  *control.KillSwitch
	contract    *control.ContractType

	execCtx    context.Context
	execCancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	started  time.Time
	inFlight map[string]string
	view     map[string]monitor.SymbolSnapshot
}

// New builds every component from cfg. The configuration must already be
// validated.
func New(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	log := opts.Log.With().Str("component", "engine").Logger()

	e := &Engine{
		cfg:      cfg,
		log:      log,
		now:      opts.Now,
		loc:      cfg.Location(),
		dryRun:   cfg.Development.DryRun,
		store:    opts.Store,
		rec:      opts.Recorder,
		bus:      opts.Bus,
		metrics:  monitor.NewMetrics(),
		feed:     opts.Feed,
		aggs:     make(map[string]*market.Aggregator),
		inds:     make(map[string]*indicators.Engine),
		warmed:   make(map[string]bool),
		inFlight: make(map[string]string),
		view:     make(map[string]monitor.SymbolSnapshot),
	}
	if e.rec == nil {
		e.writer = persistence.NewBatchWriter(opts.Store, opts.Log, 100, time.Second)
		e.metrics.ObserveEventWriter(e.writer)
		e.rec = events.NewStoreRecorder(e.writer, opts.Store, opts.Bus, opts.Log)
	}
	e.reader = monitor.NewReader(opts.Store, cfg.Monitoring.SnapshotPath, cfg.Monitoring.SnapshotMaxAge, opts.Log)

	e.killSwitch = control.NewKillSwitch(opts.Store, e.rec)
	ct, err := control.NewContractType(ctx, cfg.Trading.ContractType, opts.Store, e.rec)
	if err != nil {
		return nil, fmt.Errorf("engine: contract type: %w", err)
	}
	e.contract = ct

	if e.feed == nil {
		switch {
		case cfg.Development.MockFeed:
			mock := &market.MockFeed{Symbols: cfg.Trading.Symbols, Log: opts.Log}
			e.feed = mock.Run
		default:
			dial := opts.Dial
			if dial == nil {
				dial = connection.DerivDialer(deriv.Options{
					URL:            cfg.Deriv.WebsocketURL,
					AppID:          cfg.Deriv.AppID,
					RequestTimeout: cfg.Deriv.RequestTimeout,
					PingInterval:   cfg.Deriv.PingInterval,
					PongTimeout:    cfg.Deriv.PongTimeout,
					Logger:         opts.Log,
				})
			}
			e.conn = connection.NewManager(dial, connection.Config{
				Token:       cfg.Deriv.APIToken,
				Symbols:     cfg.Trading.Symbols,
				BackoffBase: cfg.Connection.BackoffBase,
				BackoffMax:  cfg.Connection.BackoffMax,
				Jitter:      cfg.Connection.BackoffJitter,
				StableAfter: cfg.Connection.StableAfter,
			}, opts.Log, connection.WithObserver(e.onTransition))
		}
	}

	e.strat = strategy.NewEngine(strategy.Config{
		Strategy:    cfg.Strategy,
		HTFInterval: cfg.Market.HTFInterval,
		HTFPeriods: indicators.Periods{
			EMAFast: cfg.Indicators.HTFEMAFast,
			EMASlow: cfg.Indicators.HTFEMASlow,
			RSI:     cfg.Indicators.RSI,
			ATR:     cfg.Indicators.ATR,
		},
	}, strategy.NewTrendPullback(cfg.Strategy))
	e.filters = filter.NewChain(cfg.Filters, e.killSwitch)
	e.firewall = risk.NewFirewall(cfg.Risk, e.loc, opts.Store, opts.Log)
	e.sizer = sizing.New(cfg.Sizing)
	e.multipliers = order.NewMultiplierResolver(cfg.Trading.Currency, opts.Log)

	var src balance.SourceFunc
	if !e.dryRun && e.conn != nil {
		src = e.balanceSource
	}
	e.balance = balance.NewManager(src, opts.Log)
	e.balance.OnChange(func(b balance.Balance) { e.metrics.Balance.Set(b.Total) })

	var sub order.Submitter
	if e.dryRun {
		sub = order.NewDryRunExecutor(e.multipliers, e.rec, opts.Log)
	} else {
		live := order.NewExecutor(e.venue, e.multipliers, e.rec, order.ExecutorConfig{
			Currency:          cfg.Trading.Currency,
			MultiplierTimeout: cfg.Trading.Multiplier.SettleTimeout,
		}, opts.Log)
		live.OnOpen(func(in order.Intent, _ db.Trade) { e.balance.Confirm(in.ID) })
		sub = live
		e.recon = reconciliation.NewService(opts.Store, e.rec, e.contracts, e.now(), e.now, opts.Log)
		e.recon.OnSettled(e.onReconciled)
	}
	e.exec = order.NewAsyncExecutor(sub, len(cfg.Trading.Symbols), opts.Log)

	log.Info().
		Strs("symbols", cfg.Trading.Symbols).
		Bool("dry_run", e.dryRun).
		Str("contract_type", e.contract.Effective()).
		Strs("filters", e.filters.Gates()).
		Msg("engine built")
	return e, nil
}

// Bus exposes the event bus for live subscribers.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics exposes the Prometheus collectors.
func (e *Engine) Metrics() *monitor.Metrics { return e.metrics }

// Run streams ticks through the pipeline until ctx ends or the feed closes,
// then drains in-flight executions and flushes the recorder.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.started = e.now()
	e.mu.Unlock()

	// Executions outlive ctx until the drain deadline.
	e.execCtx, e.execCancel = context.WithCancel(context.WithoutCancel(ctx))
	defer e.execCancel()

	if e.dryRun {
		e.balance.SetInitialBalance(e.cfg.Development.PaperBalance, e.cfg.Trading.Currency)
		e.metrics.Balance.Set(e.cfg.Development.PaperBalance)
		if err := e.firewall.Start(ctx, e.now(), e.cfg.Development.PaperBalance); err != nil {
			return fmt.Errorf("engine: start risk: %w", err)
		}
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	ticks, connDone := e.startFeed(feedCtx)

	e.log.Info().Msg("pipeline started")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case tick, ok := <-ticks:
			if !ok {
				break loop
			}
			e.onTick(ctx, tick)
		}
	}

	stopFeed()
	var connErr error
	if connDone != nil {
		connErr = <-connDone
	}
	e.drain()
	if connErr != nil && !errors.Is(connErr, context.Canceled) {
		return connErr
	}
	return nil
}

// startFeed returns the tick channel and, for the connection manager, a
// channel carrying its exit error.
func (e *Engine) startFeed(ctx context.Context) (<-chan market.Tick, <-chan error) {
	if e.conn == nil {
		return e.feed(ctx), nil
	}
	done := make(chan error, 1)
	go func() { done <- e.conn.Run(ctx) }()

	out := make(chan market.Tick, 256)
	go func() {
		defer close(out)
		for t := range e.conn.Ticks() {
			select {
			case out <- market.Tick{Symbol: t.Symbol, Price: t.Price, Time: t.Time}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, done
}

// drain stops new submissions, waits for in-flight ones, then flushes.
func (e *Engine) drain() {
	e.exec.Close()
	timeout := e.cfg.Engine.DrainTimeout
	e.log.Info().Int("in_flight", e.exec.Pending()).Dur("timeout", timeout).Msg("draining executions")

	waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
	finished := e.exec.WaitAll(waitCtx)
	cancel()
	if !finished {
		// Unconfirmed submissions resolve to error once their context ends.
		e.log.Warn().Int("in_flight", e.exec.Pending()).Msg("drain timeout, cancelling executions")
		e.execCancel()
		waitCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		e.exec.WaitAll(waitCtx)
		cancel()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.PublishSnapshot(flushCtx); err != nil {
		e.log.Warn().Err(err).Msg("final snapshot failed")
	}
	if err := e.rec.Flush(flushCtx); err != nil {
		e.log.Error().Err(err).Msg("flush events failed")
	}
	if e.writer != nil {
		if err := e.writer.Close(); err != nil {
			e.log.Error().Err(err).Msg("close batch writer failed")
		}
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.log.Info().Msg("engine stopped")
}

func (e *Engine) onTransition(tr connection.Transition) {
	e.metrics.ConnectionState.Set(float64(tr.To))
	level := events.LevelInfo
	if tr.To == connection.Reconnecting {
		level = events.LevelWarn
	}
	data := map[string]any{
		"from":    tr.From.String(),
		"to":      tr.To.String(),
		"attempt": tr.Attempt,
	}
	if tr.Delay > 0 {
		data["delay_ms"] = tr.Delay.Milliseconds()
	}
	if tr.Err != nil {
		data["error"] = tr.Err.Error()
	}
	e.rec.Record(events.Entry{
		Type:    events.EventConnectionState,
		Level:   level,
		Message: fmt.Sprintf("%s -> %s", tr.From, tr.To),
		Data:    data,
	})

	if tr.To == connection.Streaming && !e.dryRun {
		go func() {
			ctx, cancel := context.WithTimeout(e.execCtx, e.cfg.Deriv.RequestTimeout)
			defer cancel()
			if err := e.RefreshBalance(ctx); err != nil {
				// Reconciled outcomes need started risk bookkeeping.
				e.log.Warn().Err(err).Msg("balance sync after connect failed")
				return
			}
			if e.recon == nil {
				return
			}
			report, err := e.recon.Reconcile(e.execCtx)
			if err != nil {
				e.log.Warn().Err(err).Msg("trade reconciliation failed")
			}
			if report.Settled > 0 {
				rctx, rcancel := context.WithTimeout(e.execCtx, e.cfg.Deriv.RequestTimeout)
				defer rcancel()
				if err := e.RefreshBalance(rctx); err != nil {
					e.log.Warn().Err(err).Msg("balance sync after reconciliation failed")
				}
			}
		}()
	}
}

func (e *Engine) session() (connection.Session, error) {
	if e.conn == nil {
		return nil, connection.ErrNotConnected
	}
	return e.conn.Current()
}

func (e *Engine) venue() (order.Venue, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	v, ok := s.(order.Venue)
	if !ok {
		return nil, fmt.Errorf("session %T cannot trade", s)
	}
	return v, nil
}

func (e *Engine) contracts() (reconciliation.ContractSource, error) {
	return e.venue()
}

func (e *Engine) balanceSource() (balance.Source, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	src, ok := s.(balance.Source)
	if !ok {
		return nil, fmt.Errorf("session %T has no balance", s)
	}
	return src, nil
}

func (e *Engine) history() (*data.HistoricalDataService, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	src, ok := s.(data.CandleSource)
	if !ok {
		return nil, fmt.Errorf("session %T has no candle history", s)
	}
	return data.NewHistoricalDataService(src), nil
}
