// Package liquidium implements the HTTP client for the Liquidium lending
// protocol's borrow endpoints: preparing a borrow PSBT against a loan offer
// and submitting the signed result.
package liquidium

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/runekit/runeswap"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.liquidium.fi"

	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response body is read.
	maxErrorBody = 4096
)

// Config holds the client configuration.
type Config struct {
	// BaseURL overrides DefaultBaseURL, optional.
	BaseURL string

	// AuthToken is the user JWT issued on wallet authentication.
	AuthToken string

	// HTTPClient overrides the default client, optional.
	HTTPClient *http.Client
}

// Client is a Liquidium API client. It implements runeswap.LendingClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Liquidium client.
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

// A compile time check that Client implements runeswap.LendingClient.
var _ runeswap.LendingClient = (*Client)(nil)

type prepareRequest struct {
	OfferID        string `json:"instant_offer_id"`
	TokenAmount    uint64 `json:"fee_rate_token_amount"`
	OrdinalAddress string `json:"borrower_ordinal_address"`
	OrdinalPubKey  string `json:"borrower_ordinal_pubkey"`
	PaymentAddress string `json:"borrower_payment_address"`
	PaymentPubKey  string `json:"borrower_payment_pubkey"`
}

type prepareResponse struct {
	PSBTBase64 string `json:"base64_psbt"`
	PrepareID  string `json:"prepare_offer_id"`
}

type submitRequest struct {
	SignedPSBTBase64 string `json:"signed_psbt_base_64"`
	PrepareID        string `json:"prepare_offer_id"`
}

type submitResponse struct {
	LoanTxID string `json:"loan_transaction_id"`
}

// PrepareBorrow constructs the borrow PSBT for a loan offer.
func (c *Client) PrepareBorrow(ctx context.Context,
	req *runeswap.PrepareBorrowRequest) (*runeswap.PrepareBorrowResponse,
	error) {

	wireReq := &prepareRequest{
		OfferID:        req.OfferID,
		TokenAmount:    req.RawAmount,
		OrdinalAddress: req.OrdinalAddress,
		OrdinalPubKey:  req.OrdinalPubKey,
		PaymentAddress: req.PaymentAddress,
		PaymentPubKey:  req.PaymentPubKey,
	}

	var wireResp prepareResponse
	err := c.post(ctx, "/api/v1/borrower/loans/start", wireReq, &wireResp)
	if err != nil {
		return nil, err
	}

	return &runeswap.PrepareBorrowResponse{
		PSBTBase64: wireResp.PSBTBase64,
		PrepareID:  wireResp.PrepareID,
	}, nil
}

// SubmitBorrow submits the signed borrow PSBT.
func (c *Client) SubmitBorrow(ctx context.Context,
	req *runeswap.SubmitBorrowRequest) (*runeswap.SubmitBorrowResponse,
	error) {

	wireReq := &submitRequest{
		SignedPSBTBase64: req.SignedPSBTBase64,
		PrepareID:        req.PrepareID,
	}

	var wireResp submitResponse
	err := c.post(
		ctx, "/api/v1/borrower/loans/submit", wireReq, &wireResp,
	)
	if err != nil {
		return nil, err
	}

	return &runeswap.SubmitBorrowResponse{
		LoanTxID: wireResp.LoanTxID,
	}, nil
}

// post sends one JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, reqBody,
	respBody interface{}) error {

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.BaseURL+path,
		bytes.NewReader(payload),
	)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return apiError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}

	return nil
}

// apiError extracts the vendor error message from a non-200 response.
func apiError(path string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return errors.Errorf("liquidium %s: status %d", path,
			resp.StatusCode)
	}

	var wireErr struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &wireErr); err == nil {
		msg = wireErr.Error
	}
	if msg == "" {
		msg = string(body)
	}

	return errors.Errorf("liquidium %s: %s", path, msg)
}
