package satsterminal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runekit/runeswap"
)

// TestFetchQuote tests quote decoding, including the string and number
// encodings the API uses interchangeably for amounts.
func TestFetchQuote(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected *runeswap.SwapQuote
	}{
		{
			name: "string totals",
			body: `{
				"selectedOrders": [
					{"id": "o-1", "price": 15000,
					 "formattedAmount": 500, "side": "sell"}
				],
				"totalFormattedAmount": "500",
				"totalPrice": "0.00015"
			}`,
			expected: &runeswap.SwapQuote{
				Orders: []runeswap.Order{{
					ID:              "o-1",
					Price:           15000,
					FormattedAmount: 500,
					Side:            "sell",
				}},
				TotalFormattedAmount: "500",
				TotalPrice:           "0.00015",
			},
		},
		{
			name: "numeric totals and string prices",
			body: `{
				"selectedOrders": [
					{"id": "o-2", "price": "2500.5",
					 "formattedAmount": "10"}
				],
				"totalFormattedAmount": 10,
				"totalPrice": 0.000025
			}`,
			expected: &runeswap.SwapQuote{
				Orders: []runeswap.Order{{
					ID:              "o-2",
					Price:           2500.5,
					FormattedAmount: 10,
				}},
				TotalFormattedAmount: "10",
				TotalPrice:           "0.000025",
			},
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			var gotReq quoteRequest
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					require.Equal(t, "/quote", r.URL.Path)
					require.NotEmpty(
						t, r.Header.Get("X-Request-Id"),
					)

					err := json.NewDecoder(r.Body).
						Decode(&gotReq)
					require.NoError(t, err)

					_, _ = w.Write([]byte(test.body))
				},
			))
			defer server.Close()

			client := NewClient(&Config{BaseURL: server.URL})
			quote, err := client.FetchQuote(
				context.Background(), &runeswap.QuoteRequest{
					BTCAmount: "0.001",
					RuneName:  "UNCOMMON•GOODS",
					Address:   "bc1q-test",
				},
			)
			require.NoError(t, err)
			require.Equal(t, test.expected, quote)

			require.Equal(t, "0.001", gotReq.BTCAmount)
			require.Equal(t, "UNCOMMON•GOODS", gotReq.RuneName)
		})
	}
}

// TestCreatePSBT tests PSBT construction decoding for both field spellings of
// the PSBT payload.
func TestCreatePSBT(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected *runeswap.PSBTResponse
	}{
		{
			name: "psbtBase64 field",
			body: `{"psbtBase64": "cHNidP8=", "swapId": "s-1"}`,
			expected: &runeswap.PSBTResponse{
				PSBTBase64: "cHNidP8=",
				SwapID:     "s-1",
			},
		},
		{
			name: "legacy psbt field with rbf",
			body: `{"psbt": "cHNidP8=", "swapId": "s-2",
				"rbfProtected": {"base64": "cHNidFJCRg=="}}`,
			expected: &runeswap.PSBTResponse{
				PSBTBase64:   "cHNidP8=",
				SwapID:       "s-2",
				RBFProtected: "cHNidFJCRg==",
			},
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					require.Equal(
						t, "/psbt/create", r.URL.Path,
					)
					_, _ = w.Write([]byte(test.body))
				},
			))
			defer server.Close()

			client := NewClient(&Config{BaseURL: server.URL})
			resp, err := client.CreatePSBT(
				context.Background(), &runeswap.PSBTRequest{
					RuneName: "DOG•GO•TO•THE•MOON",
					FeeRate:  12,
				},
			)
			require.NoError(t, err)
			require.Equal(t, test.expected, resp)
		})
	}
}

// TestConfirmPSBT tests confirmation decoding with and without the RBF
// protection path.
func TestConfirmPSBT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/psbt/confirm", r.URL.Path)

			_, _ = w.Write([]byte(`{
				"txid": "",
				"rbfProtection": {
					"fundsPreparationTxId": "abc123"
				}
			}`))
		},
	))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL})
	resp, err := client.ConfirmPSBT(
		context.Background(), &runeswap.ConfirmRequest{
			SwapID:           "s-1",
			SignedPSBTBase64: "cHNidP8=",
		},
	)
	require.NoError(t, err)
	require.Empty(t, resp.TxID)
	require.NotNil(t, resp.RBFProtection)
	require.Equal(t, "abc123", resp.RBFProtection.FundsPreparationTxID)
}

// TestAPIErrorPassthrough asserts that the vendor's error message survives
// verbatim, failure classification depends on its exact wording.
func TestAPIErrorPassthrough(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{
			name:     "message field",
			status:   http.StatusBadRequest,
			body:     `{"message": "Network fee rate not high enough"}`,
			expected: "Network fee rate not high enough",
		},
		{
			name:     "error field",
			status:   http.StatusConflict,
			body:     `{"error": "QUOTE_EXPIRED"}`,
			expected: "QUOTE_EXPIRED",
		},
		{
			name:     "plain text body",
			status:   http.StatusInternalServerError,
			body:     "upstream unavailable",
			expected: "upstream unavailable",
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(test.status)
					_, _ = w.Write([]byte(test.body))
				},
			))
			defer server.Close()

			client := NewClient(&Config{BaseURL: server.URL})
			_, err := client.FetchQuote(
				context.Background(),
				&runeswap.QuoteRequest{},
			)
			require.Error(t, err)
			require.Contains(t, err.Error(), test.expected)
		})
	}
}

// TestAuthHeader asserts the API key is sent as a bearer token.
func TestAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(
				t, "Bearer test-key",
				r.Header.Get("Authorization"),
			)
			_, _ = w.Write([]byte(`{}`))
		},
	))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, APIKey: "test-key"})
	_, err := client.FetchQuote(
		context.Background(), &runeswap.QuoteRequest{},
	)
	require.NoError(t, err)
}
