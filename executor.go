package runeswap

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/runekit/runeswap/fsm"
)

const (
	// feeBumpFactor is applied to the fastest fee tier when replaying a
	// pipeline the aggregator rejected for a too-low fee rate.
	feeBumpFactor = 1.3

	// fallbackRetryFeeRate is the sat/vB rate used for the replay when
	// the fee feed is unavailable.
	fallbackRetryFeeRate = 40
)

// FallbackFeeRates is used when the recommended fee feed cannot be reached.
var FallbackFeeRates = FeeRates{
	FastestFee:  25,
	HalfHourFee: 15,
	HourFee:     10,
	EconomyFee:  8,
	MinimumFee:  5,
}

// ExecutorConfig contains the services the swap executor needs.
type ExecutorConfig struct {
	// Aggregator constructs and broadcasts the swap PSBTs.
	Aggregator AggregatorClient

	// Wallet signs the PSBTs, pending human interaction.
	Wallet WalletSigner

	// Fees provides recommended fee rates. Optional: without it the
	// fallback rate set is used.
	Fees FeeSource

	// Machine receives all state dispatches.
	Machine *fsm.Machine

	// Guards are the request-dedup cells shared with the quote
	// coordinator.
	Guards *Guards

	// Clock is used for the quote expiry gate. Defaults to the wall
	// clock.
	Clock clock.Clock
}

// SwapExecutor converts a held quote into a broadcast transaction via three
// strictly sequential network calls: PSBT construction, wallet signature and
// broadcast confirmation. All outcomes, including every failure, surface
// exclusively through machine dispatches.
type SwapExecutor struct {
	cfg ExecutorConfig
}

// NewSwapExecutor creates a swap executor.
func NewSwapExecutor(cfg *ExecutorConfig) *SwapExecutor {
	c := *cfg
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	return &SwapExecutor{cfg: c}
}

// ExecuteSwapRequest bundles the wallet identity, the asset pair and the
// quote to execute. The quote is read-only borrowed state owned by the quote
// coordinator.
type ExecuteSwapRequest struct {
	Wallet   WalletInfo
	AssetIn  *Asset
	AssetOut *Asset
	Quote    *SwapQuote
}

// validate checks the execution preconditions: connected wallet with both
// address/key pairs, a quote, and a pair with exactly one rune side.
func (r *ExecuteSwapRequest) validate() error {
	switch {
	case !r.Wallet.Connected,
		r.Wallet.OrdinalAddress == "",
		r.Wallet.OrdinalPubKey == "",
		r.Wallet.PaymentAddress == "",
		r.Wallet.PaymentPubKey == "",
		r.Quote == nil,
		r.AssetIn == nil,
		r.AssetOut == nil:

		return ErrMissingSwapDetails
	}

	if r.AssetIn.IsBTC == r.AssetOut.IsBTC {
		return ErrMissingSwapDetails
	}

	return nil
}

// runeName returns the non-BTC side's name.
func (r *ExecuteSwapRequest) runeName() string {
	if !r.AssetIn.IsBTC {
		return r.AssetIn.Ticker
	}

	return r.AssetOut.Ticker
}

// ExecuteSwap drives one swap attempt to a terminal state. It never returns
// an error: every outcome is dispatched into the state machine, the caller
// observes progress there. The caller must not invoke it while a previous
// attempt is still swapping.
func (e *SwapExecutor) ExecuteSwap(ctx context.Context,
	req *ExecuteSwapRequest) {

	m := e.cfg.Machine

	if err := req.validate(); err != nil {
		m.Dispatch(fsm.FailSwap{Err: err})
		m.Dispatch(fsm.SetGenericError{Err: err})
		return
	}

	// Expiry gate: refuse to touch the network with a stale quote. The
	// 60s window doubles as the pipeline's soft timeout.
	age := e.cfg.Clock.Now().Sub(req.Quote.CapturedAt)
	if req.Quote.CapturedAt.IsZero() || age > QuoteValidityWindow {
		log.Infof("Refusing to execute expired quote, age %v", age)

		m.Dispatch(fsm.QuoteExpired{})
		m.Dispatch(fsm.SetGenericError{Err: ErrQuoteExpiredRefetch})
		return
	}

	m.Dispatch(fsm.SwapStart{})

	// Whatever happens below, never leave the machine stuck on an
	// in-flight pipeline step. Success is sticky on its own and the
	// terminal error step must survive, so only mid-pipeline steps are
	// forced back to idle.
	defer func() {
		state := m.CurrentState()
		if state.TxID != "" {
			return
		}

		switch state.Step {
		case fsm.StepGettingPSBT, fsm.StepSigning,
			fsm.StepConfirming:

			m.Dispatch(fsm.SetStep{Step: fsm.StepIdle})
		}
	}()

	rates := e.recommendedFees(ctx)
	sell := !req.AssetIn.IsBTC

	// Selling is time sensitive for the counterparty's market order, so
	// it rides the fastest tier. Buys can wait half an hour.
	feeRate := rates.HalfHourFee
	if sell {
		feeRate = rates.FastestFee
	}

	txid, err := e.runPipeline(ctx, req, sell, feeRate)
	if err != nil {
		e.handlePipelineError(ctx, req, sell, err)
		return
	}

	e.finishSuccess(txid)
}

// runPipeline performs the three phases with the given fee rate and returns
// the broadcast transaction id.
func (e *SwapExecutor) runPipeline(ctx context.Context,
	req *ExecuteSwapRequest, sell bool, feeRate uint64) (string, error) {

	m := e.cfg.Machine
	runeName := req.runeName()

	// Phase 1: PSBT construction.
	m.Dispatch(fsm.SetStep{Step: fsm.StepGettingPSBT})

	log.Debugf("Requesting PSBT for %v, sell=%v, feeRate=%d sat/vB",
		runeName, sell, feeRate)

	psbtResp, err := e.cfg.Aggregator.CreatePSBT(ctx, &PSBTRequest{
		Orders:           normalizeOrders(req.Quote.Orders),
		Address:          req.Wallet.OrdinalAddress,
		PublicKey:        req.Wallet.OrdinalPubKey,
		PaymentAddress:   req.Wallet.PaymentAddress,
		PaymentPublicKey: req.Wallet.PaymentPubKey,
		RuneName:         runeName,
		Sell:             sell,
		FeeRate:          feeRate,
	})
	if err != nil {
		return "", fmt.Errorf("psbt creation failed: %w", err)
	}
	if psbtResp.PSBTBase64 == "" || psbtResp.SwapID == "" {
		return "", ErrInvalidPSBTData
	}

	// Make sure the PSBT is well formed before handing it to the wallet.
	_, err = psbt.NewFromRawBytes(
		strings.NewReader(psbtResp.PSBTBase64), true,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPSBTData, err)
	}

	// Phase 2: wallet signature.
	m.Dispatch(fsm.SetStep{Step: fsm.StepSigning})

	signedPSBT, err := e.signPSBT(ctx, psbtResp.PSBTBase64)
	if err != nil {
		return "", err
	}

	// The RBF protected PSBT is best effort: a failed or dismissed
	// signature only costs the protection, not the swap.
	var signedRBF string
	if psbtResp.RBFProtected != "" {
		signedRBF, err = e.signPSBT(ctx, psbtResp.RBFProtected)
		if err != nil {
			log.Warnf("RBF PSBT signing failed, continuing "+
				"without RBF protection: %v", err)
			signedRBF = ""
		}
	}

	// Phase 3: confirmation and broadcast.
	m.Dispatch(fsm.SetStep{Step: fsm.StepConfirming})

	confirmResp, err := e.cfg.Aggregator.ConfirmPSBT(ctx, &ConfirmRequest{
		Orders:              normalizeOrders(req.Quote.Orders),
		Address:             req.Wallet.OrdinalAddress,
		PublicKey:           req.Wallet.OrdinalPubKey,
		PaymentAddress:      req.Wallet.PaymentAddress,
		PaymentPublicKey:    req.Wallet.PaymentPubKey,
		SignedPSBTBase64:    signedPSBT,
		SwapID:              psbtResp.SwapID,
		RuneName:            runeName,
		Sell:                sell,
		SignedRBFPSBTBase64: signedRBF,
		RBFProtection:       signedRBF != "",
	})
	if err != nil {
		return "", fmt.Errorf("swap confirmation failed: %w", err)
	}

	txid := confirmResp.TxID
	if txid == "" && confirmResp.RBFProtection != nil {
		txid = confirmResp.RBFProtection.FundsPreparationTxID
	}
	if txid == "" {
		return "", ErrNoTxID
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return "", fmt.Errorf("invalid transaction id %q: %v", txid,
			err)
	}

	return txid, nil
}

// handlePipelineError routes a failed pipeline into its recovery path.
func (e *SwapExecutor) handlePipelineError(ctx context.Context,
	req *ExecuteSwapRequest, sell bool, pipelineErr error) {

	m := e.cfg.Machine

	switch classifyFailure(pipelineErr) {
	case failureFeeTooLow:
		// One transparent replay with a bumped rate, announced as a
		// transient advisory, not a failure.
		m.Dispatch(fsm.SetGenericError{Err: errors.New(
			"Fee rate too low, retrying with a higher fee " +
				"rate...",
		)})

		bumped := e.bumpedFeeRate(ctx)
		log.Infof("Replaying swap pipeline with bumped fee rate %d "+
			"sat/vB: %v", bumped, pipelineErr)

		txid, retryErr := e.runPipeline(ctx, req, sell, bumped)
		if retryErr != nil {
			m.Dispatch(fsm.FailSwap{Err: fmt.Errorf(
				"swap failed even with a higher fee rate, "+
					"the network may be congested: %v "+
					"(first attempt: %v)",
				retryErr, pipelineErr,
			)})
			return
		}

		e.finishSuccess(txid)

	case failureQuoteExpired:
		m.Dispatch(fsm.QuoteExpired{})
		m.Dispatch(fsm.SetGenericError{Err: ErrQuoteExpiredRefetch})

	case failureCanceled:
		// The user changed their mind. Full reset first, then force
		// idle to defeat any race with a lingering loading flag,
		// finally surface the message. The attempt stays immediately
		// retryable.
		m.Reset()
		m.Dispatch(fsm.SetStep{Step: fsm.StepIdle})
		m.Dispatch(fsm.SetGenericError{Err: pipelineErr})

	default:
		m.Dispatch(fsm.FailSwap{Err: fmt.Errorf("swap failed: %w",
			pipelineErr)})
	}
}

// finishSuccess records the broadcast and blocks re-quoting of the consumed
// quote.
func (e *SwapExecutor) finishSuccess(txid string) {
	log.Infof("Swap broadcast, txid %v", txid)

	e.cfg.Machine.Dispatch(fsm.SwapSuccess{TxID: txid})
	e.cfg.Guards.SetThrottled()
}

// signPSBT asks the wallet for a signature and normalizes the result to
// base64. An empty result means the user dismissed the request.
func (e *SwapExecutor) signPSBT(ctx context.Context, psbtB64 string) (string,
	error) {

	resp, err := e.cfg.Wallet.SignPSBT(ctx, &SignPSBTRequest{
		PSBTBase64: psbtB64,
		Finalize:   false,
		Broadcast:  false,
	})
	if err != nil {
		return "", err
	}

	return signedPSBTBase64(resp)
}

// signedPSBTBase64 extracts the signature from a wallet response, normalizing
// a hex encoded result to base64. An empty response means the user dismissed
// the request.
func signedPSBTBase64(resp *SignPSBTResponse) (string, error) {
	if resp == nil {
		return "", errSigningCanceled
	}

	switch {
	case resp.SignedPSBTBase64 != "":
		return resp.SignedPSBTBase64, nil

	case resp.SignedPSBTHex != "":
		raw, err := hex.DecodeString(resp.SignedPSBTHex)
		if err != nil {
			return "", fmt.Errorf("invalid signed psbt hex: %v",
				err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil

	default:
		return "", errSigningCanceled
	}
}

// recommendedFees fetches the current rate set, falling back to the
// hardcoded set when the feed is unavailable.
func (e *SwapExecutor) recommendedFees(ctx context.Context) FeeRates {
	if e.cfg.Fees == nil {
		return FallbackFeeRates
	}

	rates, err := e.cfg.Fees.RecommendedFees(ctx)
	if err != nil {
		log.Warnf("Fee feed unavailable, using fallback rates: %v",
			err)
		return FallbackFeeRates
	}

	return *rates
}

// bumpedFeeRate computes the replay rate: the fastest tier scaled by
// feeBumpFactor, or the fixed fallback when the feed is down.
func (e *SwapExecutor) bumpedFeeRate(ctx context.Context) uint64 {
	if e.cfg.Fees == nil {
		return fallbackRetryFeeRate
	}

	rates, err := e.cfg.Fees.RecommendedFees(ctx)
	if err != nil {
		log.Warnf("Fee feed unavailable for the retry, using "+
			"fallback rate %d sat/vB: %v", fallbackRetryFeeRate,
			err)
		return fallbackRetryFeeRate
	}

	return uint64(math.Ceil(float64(rates.FastestFee) * feeBumpFactor))
}

// normalizeOrders returns a copy of the orders with the side field upper
// cased, the form the aggregator's PSBT endpoints expect. Numeric fields
// arrive already coerced by the wire codec.
func normalizeOrders(orders []Order) []Order {
	normalized := make([]Order, len(orders))
	for i, order := range orders {
		order.Side = strings.ToUpper(order.Side)
		normalized[i] = order
	}

	return normalized
}
