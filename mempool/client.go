// Package mempool implements a minimal client for the mempool.space REST
// API. It serves two read-only concerns: recommended fee rates for swap
// transactions and the BTC/USD price behind the displayed exchange rate.
package mempool

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/runekit/runeswap"
)

const (
	// DefaultBaseURL is the public mempool.space instance.
	DefaultBaseURL = "https://mempool.space"

	// DefaultTimeout bounds a single API call. Fee and price lookups sit
	// on the interactive path, so we keep this short.
	DefaultTimeout = 10 * time.Second
)

// Config holds the client configuration.
type Config struct {
	// BaseURL overrides DefaultBaseURL, optional. Self-hosted instances
	// use the same paths.
	BaseURL string

	// HTTPClient overrides the default client, optional.
	HTTPClient *http.Client
}

// Client is a mempool.space API client. It implements both
// runeswap.FeeSource and runeswap.PriceSource.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a mempool.space client.
func NewClient(cfg *Config) *Client {
	c := *cfg
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		cfg:        c,
		httpClient: httpClient,
	}
}

// Compile time checks for the interfaces Client serves.
var _ runeswap.FeeSource = (*Client)(nil)
var _ runeswap.PriceSource = (*Client)(nil)

// RecommendedFees returns the current recommended fee rate tiers.
func (c *Client) RecommendedFees(ctx context.Context) (*runeswap.FeeRates,
	error) {

	var rates runeswap.FeeRates
	err := c.get(ctx, "/api/v1/fees/recommended", &rates)
	if err != nil {
		return nil, err
	}

	return &rates, nil
}

// BTCPriceUSD returns the current BTC/USD price.
func (c *Client) BTCPriceUSD(ctx context.Context) (float64, error) {
	var prices struct {
		USD float64 `json:"USD"`
	}
	if err := c.get(ctx, "/api/v1/prices", &prices); err != nil {
		return 0, err
	}

	return prices.USD, nil
}

// get sends one GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string,
	respBody interface{}) error {

	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, url, nil,
	)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("mempool %s: status %d", path,
			resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}

	return nil
}
