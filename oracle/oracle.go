package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrStaleQuote indicates the freshest available quote is older than the
	// accepted freshness window.
	ErrStaleQuote = errors.New("oracle: stale price quote")
	// ErrInvalidPrice indicates the oracle reported a zero or negative price.
	ErrInvalidPrice = errors.New("oracle: non-positive price")
	// ErrFeedNotFound indicates no quote exists for the requested feed.
	ErrFeedNotFound = errors.New("oracle: feed not found")
)

// DefaultMaxAge is the freshness window applied when callers do not configure
// their own. Quotes older than this fail validation.
const DefaultMaxAge = time.Hour

// USDDecimals is the fixed-point scale for all USD values in the ledger.
const USDDecimals = 8

// Quote is a pull-oracle price observation. Price is scaled by 10^Expo, so the
// USD price equals Price * 10^Expo. PublishTime is a unix timestamp reported
// by the upstream aggregator.
type Quote struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// Validate rejects non-positive prices and quotes published outside the
// freshness window ending at now.
func (q Quote) Validate(now int64, maxAge time.Duration) error {
	if q.Price <= 0 {
		return ErrInvalidPrice
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now-q.PublishTime > int64(maxAge/time.Second) {
		return ErrStaleQuote
	}
	return nil
}

// Source resolves the latest quote for an opaque feed identifier.
type Source interface {
	GetPrice(feedID string) (Quote, error)
}

// Updater is implemented by sources that accept caller-supplied price update
// blobs, mirroring the pull-oracle updatePriceFeeds flow. Refreshing is
// best-effort from the ledger's perspective; a failed update surfaces to the
// caller who may retry with fresh data.
type Updater interface {
	ApplyUpdate(updates [][]byte) error
}

var pow10 = func() []*big.Int {
	out := make([]*big.Int, 40)
	for i := range out {
		out[i] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(i)), nil)
	}
	return out
}()

func tenPow(n int) *big.Int {
	if n < 0 {
		n = 0
	}
	if n < len(pow10) {
		return pow10[n]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// USDValue converts a token balance in native units into 8-decimal fixed-point
// USD using the supplied quote. Multiplications happen before the single final
// division so rounding loses at most one 1e-8 USD unit.
func USDValue(q Quote, balance *big.Int, decimals uint8) (*big.Int, error) {
	if q.Price <= 0 {
		return nil, ErrInvalidPrice
	}
	if balance == nil || balance.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	// value = balance * price * 10^(expo+8) / 10^decimals, folding negative
	// exponents into the divisor.
	shift := int(q.Expo) + USDDecimals
	num := new(big.Int).Mul(balance, big.NewInt(q.Price))
	den := tenPow(int(decimals))
	if shift >= 0 {
		num.Mul(num, tenPow(shift))
	} else {
		den = new(big.Int).Mul(den, tenPow(-shift))
	}
	return num.Quo(num, den), nil
}

// ManualSource is an in-memory source used for tests and manual overrides
// during incident response.
type ManualSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{quotes: make(map[string]Quote)}
}

// Set stores the quote for the feed identifier.
func (m *ManualSource) Set(feedID string, q Quote) {
	if m == nil {
		return
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return
	}
	m.mu.Lock()
	m.quotes[trimmed] = q
	m.mu.Unlock()
}

// GetPrice retrieves the stored quote for the feed identifier.
func (m *ManualSource) GetPrice(feedID string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	q, ok := m.quotes[strings.TrimSpace(feedID)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, ErrFeedNotFound
	}
	return q, nil
}
