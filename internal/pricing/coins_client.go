package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/retry"
)

// DefaultCoinsBaseURL is the public historical coin price API
const DefaultCoinsBaseURL = "https://coins.llama.fi"

// CoinPrice is the price of one token at a timestamp
type CoinPrice struct {
	Price      decimal.Decimal `json:"price"`
	Symbol     string          `json:"symbol"`
	Decimals   *int32          `json:"decimals,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Confidence float64         `json:"confidence"`
}

// Value converts a raw amount to USD. Tokens without decimals are priced per whole unit.
func (p CoinPrice) Value(amount decimal.Decimal) decimal.Decimal {
	value := amount.Mul(p.Price)
	if p.Decimals != nil && *p.Decimals > 0 {
		value = value.Shift(-*p.Decimals)
	}
	return value
}

// PriceSource returns historical prices keyed by coin
type PriceSource interface {
	Prices(ctx context.Context, timestamp int64, coins []string) (map[string]CoinPrice, error)
}

// CoinsClient queries the historical coin price API
type CoinsClient struct {
	baseURL    string
	httpClient *http.Client
	retry      *retry.RetryConfig
}

var _ PriceSource = (*CoinsClient)(nil)

// NewCoinsClient creates a price client; an empty baseURL uses the public API
func NewCoinsClient(baseURL string, timeout time.Duration) *CoinsClient {
	if baseURL == "" {
		baseURL = DefaultCoinsBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.ShouldRetry = apperrors.IsRetryable

	return &CoinsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryCfg,
	}
}

type coinsResponse struct {
	Coins map[string]CoinPrice `json:"coins"`
}

// Prices fetches the prices of coins at timestamp
func (c *CoinsClient) Prices(ctx context.Context, timestamp int64, coins []string) (map[string]CoinPrice, error) {
	if len(coins) == 0 {
		return map[string]CoinPrice{}, nil
	}

	endpoint := fmt.Sprintf("%s/prices/historical/%d/%s", c.baseURL, timestamp, url.PathEscape(strings.Join(coins, ",")))

	var result coinsResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return apperrors.NewInternalError("failed to create price request", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.NewTransportError(c.baseURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return apperrors.NewServiceError(c.baseURL, resp.StatusCode,
				fmt.Sprintf("status=%d, body=%s", resp.StatusCode, string(body)))
		}

		result = coinsResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return apperrors.NewServiceError(c.baseURL, resp.StatusCode,
				fmt.Sprintf("failed to decode prices: %v", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Coins == nil {
		return map[string]CoinPrice{}, nil
	}
	return result.Coins, nil
}
