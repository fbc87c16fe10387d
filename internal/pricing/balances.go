// Package pricing values token amounts in USD at a point in time.
package pricing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/types"
)

// Balances accumulates token amounts and values them in USD
type Balances interface {
	Add(token string, amount decimal.Decimal, opts ...AddOption)
	GetUSDString(ctx context.Context) (string, error)
}

// BalancesFactory builds a Balances bound to a chain and timestamp
type BalancesFactory interface {
	New(chain types.ChainID, timestamp int64) Balances
}

type addOptions struct {
	skipChain bool
}

// AddOption modifies how Add keys a token
type AddOption func(*addOptions)

// SkipChain marks the token as already fully qualified, e.g. "coingecko:ethereum"
func SkipChain() AddOption {
	return func(o *addOptions) {
		o.skipChain = true
	}
}

// Ledger is the default Balances backed by a PriceSource
type Ledger struct {
	chain     types.ChainID
	timestamp int64
	source    PriceSource

	mu      sync.Mutex
	amounts map[string]decimal.Decimal
}

// NewLedger creates an empty ledger
func NewLedger(chain types.ChainID, timestamp int64, source PriceSource) *Ledger {
	return &Ledger{
		chain:     chain,
		timestamp: timestamp,
		source:    source,
		amounts:   make(map[string]decimal.Decimal),
	}
}

// TokenKey returns the price key for token on chain
func TokenKey(chain types.ChainID, token string, opts ...AddOption) string {
	o := &addOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.skipChain || strings.Contains(token, ":") {
		return token
	}
	return string(chain) + ":" + strings.ToLower(token)
}

// Add adds amount of token, in the token's smallest unit
func (l *Ledger) Add(token string, amount decimal.Decimal, opts ...AddOption) {
	key := TokenKey(l.chain, token, opts...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.amounts[key] = l.amounts[key].Add(amount)
}

// Amounts returns a copy of the accumulated amounts
func (l *Ledger) Amounts() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(l.amounts))
	for k, v := range l.amounts {
		out[k] = v
	}
	return out
}

// GetUSDValue prices every accumulated token at the ledger timestamp.
// Tokens the source cannot price are skipped.
func (l *Ledger) GetUSDValue(ctx context.Context) (decimal.Decimal, error) {
	amounts := l.Amounts()
	if len(amounts) == 0 {
		return decimal.Zero, nil
	}

	coins := make([]string, 0, len(amounts))
	for coin := range amounts {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	prices, err := l.source.Prices(ctx, l.timestamp, coins)
	if err != nil {
		return decimal.Zero, apperrors.NewPricingError(strings.Join(coins, ","), err)
	}

	logger := logging.FromContext(ctx)
	total := decimal.Zero
	for _, coin := range coins {
		price, ok := prices[coin]
		if !ok {
			logger.WithFields(map[string]interface{}{
				"coin":      coin,
				"timestamp": l.timestamp,
			}).Warn("No price for token, skipping")
			continue
		}
		total = total.Add(price.Value(amounts[coin]))
	}
	return total, nil
}

// GetUSDString returns the USD value rounded to a whole number
func (l *Ledger) GetUSDString(ctx context.Context) (string, error) {
	value, err := l.GetUSDValue(ctx)
	if err != nil {
		return "", err
	}
	return value.StringFixed(0), nil
}

// LedgerFactory creates ledgers sharing one price source
type LedgerFactory struct {
	source PriceSource
}

// NewLedgerFactory creates a BalancesFactory over source
func NewLedgerFactory(source PriceSource) *LedgerFactory {
	return &LedgerFactory{source: source}
}

// New implements BalancesFactory
func (f *LedgerFactory) New(chain types.ChainID, timestamp int64) Balances {
	return NewLedger(chain, timestamp, f.source)
}
