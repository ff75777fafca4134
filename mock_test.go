package runeswap

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testTxID is a syntactically valid transaction id.
var testTxID = strings.Repeat("0f", chainhash.HashSize)

var (
	assetRune = Asset{
		Ticker:   "UNCOMMON•GOODS",
		Decimals: 2,
	}

	testWallet = WalletInfo{
		Connected:      true,
		OrdinalAddress: "bc1p-ordinal",
		OrdinalPubKey:  "02aa",
		PaymentAddress: "bc1q-payment",
		PaymentPubKey:  "02bb",
	}
)

// testPsbtB64 builds a minimal well formed PSBT, base64 encoded.
func testPsbtB64(t *testing.T) string {
	t.Helper()

	tx := wire.NewMsgTx(2)
	prevOut := wire.OutPoint{Hash: chainhash.Hash{1}}
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(100_000, []byte{0x51}))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	b64, err := packet.B64Encode()
	require.NoError(t, err)

	return b64
}

// scripted is one scripted call outcome: err takes precedence when set.
type scripted[T any] struct {
	resp *T
	err  error
}

// mockAggregator implements AggregatorClient with per-call scripts. Without a
// script a call succeeds with a canned response.
type mockAggregator struct {
	mtx sync.Mutex

	quote    *SwapQuote
	quoteErr error

	// gate, when set, blocks quote fetches until it is closed.
	gate chan struct{}

	psbtScript    []scripted[PSBTResponse]
	confirmScript []scripted[ConfirmResponse]

	defaultPSBT string

	fetchCalls   int
	createCalls  int
	confirmCalls int

	fetchReqs   []*QuoteRequest
	createReqs  []*PSBTRequest
	confirmReqs []*ConfirmRequest
}

func newMockAggregator(t *testing.T) *mockAggregator {
	return &mockAggregator{
		defaultPSBT: testPsbtB64(t),
	}
}

// FetchQuote implements AggregatorClient.
func (m *mockAggregator) FetchQuote(_ context.Context, req *QuoteRequest) (
	*SwapQuote, error) {

	m.mtx.Lock()
	m.fetchCalls++
	m.fetchReqs = append(m.fetchReqs, req)
	gate := m.gate
	m.mtx.Unlock()

	if gate != nil {
		<-gate
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	if m.quote != nil {
		quote := *m.quote
		return &quote, nil
	}

	return &SwapQuote{
		Orders: []Order{{
			ID: "order-1", Price: 15000, FormattedAmount: 1000,
			Side: "sell",
		}},
		TotalFormattedAmount: "1000",
		TotalPrice:           "0.00015",
	}, nil
}

// fetchCount returns the number of FetchQuote calls so far.
func (m *mockAggregator) fetchCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.fetchCalls
}

// lastFetchReq returns the most recent FetchQuote request, nil if none.
func (m *mockAggregator) lastFetchReq() *QuoteRequest {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if len(m.fetchReqs) == 0 {
		return nil
	}

	return m.fetchReqs[len(m.fetchReqs)-1]
}

// CreatePSBT implements AggregatorClient.
func (m *mockAggregator) CreatePSBT(_ context.Context, req *PSBTRequest) (
	*PSBTResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.createCalls++
	m.createReqs = append(m.createReqs, req)

	if len(m.psbtScript) > 0 {
		next := m.psbtScript[0]
		m.psbtScript = m.psbtScript[1:]
		return next.resp, next.err
	}

	return &PSBTResponse{
		PSBTBase64: m.defaultPSBT,
		SwapID:     "swap-1",
	}, nil
}

// ConfirmPSBT implements AggregatorClient.
func (m *mockAggregator) ConfirmPSBT(_ context.Context, req *ConfirmRequest) (
	*ConfirmResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.confirmCalls++
	m.confirmReqs = append(m.confirmReqs, req)

	if len(m.confirmScript) > 0 {
		next := m.confirmScript[0]
		m.confirmScript = m.confirmScript[1:]
		return next.resp, next.err
	}

	return &ConfirmResponse{TxID: testTxID}, nil
}

// mockWallet implements WalletSigner with per-call scripts. Without a script
// signing succeeds with a canned base64 payload.
type mockWallet struct {
	mtx sync.Mutex

	signScript []scripted[SignPSBTResponse]

	signCalls int
	signReqs  []*SignPSBTRequest
}

// SignPSBT implements WalletSigner.
func (m *mockWallet) SignPSBT(_ context.Context, req *SignPSBTRequest) (
	*SignPSBTResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.signCalls++
	m.signReqs = append(m.signReqs, req)

	if len(m.signScript) > 0 {
		next := m.signScript[0]
		m.signScript = m.signScript[1:]
		return next.resp, next.err
	}

	return &SignPSBTResponse{SignedPSBTBase64: "c2lnbmVkLXBzYnQ="}, nil
}

// mockFees implements FeeSource.
type mockFees struct {
	mtx sync.Mutex

	rates *FeeRates
	err   error

	calls int
}

// RecommendedFees implements FeeSource.
func (m *mockFees) RecommendedFees(_ context.Context) (*FeeRates, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.calls++

	if m.err != nil {
		return nil, m.err
	}
	if m.rates != nil {
		rates := *m.rates
		return &rates, nil
	}

	return &FeeRates{
		FastestFee:  30,
		HalfHourFee: 20,
		HourFee:     12,
		EconomyFee:  9,
		MinimumFee:  4,
	}, nil
}

// mockPrices implements PriceSource.
type mockPrices struct {
	price float64
	err   error
}

// BTCPriceUSD implements PriceSource.
func (m *mockPrices) BTCPriceUSD(_ context.Context) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}

	return m.price, nil
}

// mockLending implements LendingClient with per-call scripts.
type mockLending struct {
	mtx sync.Mutex

	prepareScript []scripted[PrepareBorrowResponse]
	submitScript  []scripted[SubmitBorrowResponse]

	prepareCalls int
	submitCalls  int

	prepareReqs []*PrepareBorrowRequest
	submitReqs  []*SubmitBorrowRequest
}

// PrepareBorrow implements LendingClient.
func (m *mockLending) PrepareBorrow(_ context.Context,
	req *PrepareBorrowRequest) (*PrepareBorrowResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.prepareCalls++
	m.prepareReqs = append(m.prepareReqs, req)

	if len(m.prepareScript) > 0 {
		next := m.prepareScript[0]
		m.prepareScript = m.prepareScript[1:]
		return next.resp, next.err
	}

	return &PrepareBorrowResponse{
		PSBTBase64: "cHNidP8=",
		PrepareID:  "prepare-1",
	}, nil
}

// SubmitBorrow implements LendingClient.
func (m *mockLending) SubmitBorrow(_ context.Context,
	req *SubmitBorrowRequest) (*SubmitBorrowResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.submitCalls++
	m.submitReqs = append(m.submitReqs, req)

	if len(m.submitScript) > 0 {
		next := m.submitScript[0]
		m.submitScript = m.submitScript[1:]
		return next.resp, next.err
	}

	return &SubmitBorrowResponse{LoanTxID: testTxID}, nil
}
