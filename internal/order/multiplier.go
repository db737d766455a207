package order

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"synth-core/pkg/deriv"
)

// fallbackMultipliers applies to volatility indices when the venue cannot
// tell us what is allowed.
var fallbackMultipliers = []int{50, 100, 200, 300, 500}

// MultiplierSource lists the multipliers a symbol accepts.
type MultiplierSource interface {
	AllowedMultipliers(ctx context.Context, symbol, currency string) ([]int, error)
}

// MultiplierResolver caches allowed multipliers per symbol.
type MultiplierResolver struct {
	currency string
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string][]int
}

func NewMultiplierResolver(currency string, log zerolog.Logger) *MultiplierResolver {
	return &MultiplierResolver{currency: currency, log: log, cache: make(map[string][]int)}
}

// Allowed returns the sorted allowed list for symbol, querying src on a cache
// miss. A failed query falls back to the volatility-index list and is not
// cached, so the next trade retries the venue.
func (r *MultiplierResolver) Allowed(ctx context.Context, src MultiplierSource, symbol string) []int {
	r.mu.Lock()
	cached, ok := r.cache[symbol]
	r.mu.Unlock()
	if ok {
		return cached
	}

	allowed, err := src.AllowedMultipliers(ctx, symbol, r.currency)
	if err != nil {
		if deriv.IsVolatilityIndex(symbol) {
			r.log.Warn().Err(err).Str("symbol", symbol).Ints("allowed", fallbackMultipliers).Msg("using fallback multipliers")
			return fallbackMultipliers
		}
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("allowed multipliers unavailable")
		return nil
	}
	r.mu.Lock()
	r.cache[symbol] = allowed
	r.mu.Unlock()
	return allowed
}

// Cached returns the cached list for symbol without contacting the venue.
func (r *MultiplierResolver) Cached(symbol string) ([]int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[symbol]
	return v, ok
}

// Nearest picks preferred if allowed, else the closest allowed value with ties
// going to the lower one. An empty list returns preferred unchanged.
func Nearest(allowed []int, preferred int) int {
	if len(allowed) == 0 {
		return preferred
	}
	sorted := append([]int(nil), allowed...)
	sort.Ints(sorted)
	best := sorted[0]
	for _, m := range sorted[1:] {
		if abs(m-preferred) < abs(best-preferred) {
			best = m
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
