// Package satsterminal implements the HTTP client for the SatsTerminal DEX
// aggregator: quote pricing, PSBT construction and PSBT confirmation. It is
// a thin typed wrapper, all orchestration lives with the callers.
package satsterminal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/runekit/runeswap"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.satsterminal.com/v1"

	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response body is read.
	maxErrorBody = 4096
)

// Config holds the client configuration.
type Config struct {
	// BaseURL overrides DefaultBaseURL, optional.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// HTTPClient overrides the default client, optional.
	HTTPClient *http.Client

	// Timeout overrides DefaultTimeout, ignored when HTTPClient is set.
	Timeout time.Duration
}

// Client is a SatsTerminal API client. It implements
// runeswap.AggregatorClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a SatsTerminal client.
func NewClient(cfg *Config) *Client {
	c := *cfg
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		cfg:        c,
		httpClient: httpClient,
	}
}

// A compile time check that Client implements runeswap.AggregatorClient.
var _ runeswap.AggregatorClient = (*Client)(nil)

// FetchQuote prices a swap for the given input tuple.
func (c *Client) FetchQuote(ctx context.Context,
	req *runeswap.QuoteRequest) (*runeswap.SwapQuote, error) {

	wireReq := &quoteRequest{
		BTCAmount:  req.BTCAmount,
		RuneAmount: req.RuneAmount,
		RuneName:   req.RuneName,
		Address:    req.Address,
		Sell:       req.Sell,
	}

	var wireResp quoteResponse
	if err := c.post(ctx, "/quote", wireReq, &wireResp); err != nil {
		return nil, err
	}

	orders := make([]runeswap.Order, len(wireResp.SelectedOrders))
	for i, order := range wireResp.SelectedOrders {
		orders[i] = runeswap.Order{
			ID:              order.ID,
			Price:           float64(order.Price),
			FormattedAmount: float64(order.FormattedAmount),
			Side:            order.Side,
		}
	}

	return &runeswap.SwapQuote{
		Orders:               orders,
		TotalFormattedAmount: string(wireResp.TotalFormattedAmount),
		TotalPrice:           string(wireResp.TotalPrice),
	}, nil
}

// CreatePSBT constructs the swap PSBT for a fetched quote.
func (c *Client) CreatePSBT(ctx context.Context,
	req *runeswap.PSBTRequest) (*runeswap.PSBTResponse, error) {

	wireReq := &psbtRequest{
		Orders:           ordersToWire(req.Orders),
		Address:          req.Address,
		PublicKey:        req.PublicKey,
		PaymentAddress:   req.PaymentAddress,
		PaymentPublicKey: req.PaymentPublicKey,
		RuneName:         req.RuneName,
		Sell:             req.Sell,
		FeeRate:          req.FeeRate,
	}

	var wireResp psbtResponse
	if err := c.post(ctx, "/psbt/create", wireReq, &wireResp); err != nil {
		return nil, err
	}

	// Either field name carries the PSBT, depending on the endpoint
	// revision.
	psbtBase64 := wireResp.PSBTBase64
	if psbtBase64 == "" {
		psbtBase64 = wireResp.PSBT
	}

	resp := &runeswap.PSBTResponse{
		PSBTBase64: psbtBase64,
		SwapID:     wireResp.SwapID,
	}
	if wireResp.RBFProtected != nil {
		resp.RBFProtected = wireResp.RBFProtected.Base64
	}

	return resp, nil
}

// ConfirmPSBT submits the signed PSBT for broadcast.
func (c *Client) ConfirmPSBT(ctx context.Context,
	req *runeswap.ConfirmRequest) (*runeswap.ConfirmResponse, error) {

	wireReq := &confirmRequest{
		Orders:              ordersToWire(req.Orders),
		Address:             req.Address,
		PublicKey:           req.PublicKey,
		PaymentAddress:      req.PaymentAddress,
		PaymentPublicKey:    req.PaymentPublicKey,
		SignedPSBTBase64:    req.SignedPSBTBase64,
		SwapID:              req.SwapID,
		RuneName:            req.RuneName,
		Sell:                req.Sell,
		SignedRBFPSBTBase64: req.SignedRBFPSBTBase64,
		RBFProtection:       req.RBFProtection,
	}

	var wireResp confirmResponse
	err := c.post(ctx, "/psbt/confirm", wireReq, &wireResp)
	if err != nil {
		return nil, err
	}

	resp := &runeswap.ConfirmResponse{
		TxID: wireResp.TxID,
	}
	if wireResp.RBFProtection != nil {
		resp.RBFProtection = &runeswap.RBFProtectionInfo{
			FundsPreparationTxID: wireResp.RBFProtection.
				FundsPreparationTxID,
		}
	}

	return resp, nil
}

// post sends one JSON request and decodes the JSON response. API error
// bodies are surfaced with their message verbatim: callers classify
// failures by the vendor's error text.
func (c *Client) post(ctx context.Context, path string, reqBody,
	respBody interface{}) error {

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	url := c.cfg.BaseURL + path
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(payload),
	)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", runeswap.UserAgent())
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	log.Tracef("POST %s", url)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		return apiError(path, httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(respBody); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}

	return nil
}

// apiError extracts the vendor error message from a non-200 response.
func apiError(path string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return errors.Errorf("aggregator %s: status %d", path,
			resp.StatusCode)
	}

	var wireErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &wireErr); err == nil {
		msg = wireErr.Message
		if msg == "" {
			msg = wireErr.Error
		}
	}
	if msg == "" {
		msg = string(body)
	}

	return errors.Errorf("aggregator %s: %s", path, msg)
}
