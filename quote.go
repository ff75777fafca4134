package runeswap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"

	"github.com/runekit/runeswap/fsm"
	"github.com/runekit/runeswap/runes"
)

const (
	// QuoteValidityWindow is how long a fetched quote may be executed.
	// Past it the execution path refuses to touch the network.
	QuoteValidityWindow = 60 * time.Second

	// DefaultDebounceInterval is how long the coordinator waits after
	// the last input change before fetching, so typing doesn't cause one
	// request per keystroke.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultQuoteAddress is used to price quotes while no wallet is
	// connected, so unauthenticated users can still preview rates.
	DefaultQuoteAddress = "bc1p5d7rjq7g6rdk2yhzks9smlaqtedr4dekq08ge8" +
		"ztwac72sfr9rusxg3297"

	// expiryCheckInterval is how often a held quote is checked against
	// its validity window.
	expiryCheckInterval = time.Second

	// updateQueueSize is the buffer of the parameter update queue.
	updateQueueSize = 10
)

// QuoteConfig contains the services and knobs of the quote coordinator.
type QuoteConfig struct {
	// Aggregator prices the swaps.
	Aggregator AggregatorClient

	// Prices provides the BTC/USD rate for the displayed exchange rate.
	// Optional: without it no rate is shown, quoting still works.
	Prices PriceSource

	// Machine receives all state dispatches.
	Machine *fsm.Machine

	// Guards are the request-dedup cells shared with the executor.
	Guards *Guards

	// Clock drives debouncing and expiry stamps. Defaults to the wall
	// clock.
	Clock clock.Clock

	// DebounceInterval overrides DefaultDebounceInterval if non-zero.
	DebounceInterval time.Duration

	// ExpiryTicker paces the validity checks of a held quote. Defaults
	// to a real ticker at expiryCheckInterval.
	ExpiryTicker ticker.Ticker
}

// quoteParams is the current user input the coordinator quotes against.
type quoteParams struct {
	amount   string
	assetIn  *Asset
	assetOut *Asset
	address  string
}

// requestKey validates the input and derives the request key. It returns
// false if the inputs are incomplete: both assets selected, exactly one of
// them BTC, and a positive amount are required before any fetch.
func (p *quoteParams) requestKey() (quoteKey, bool) {
	if p.assetIn == nil || p.assetOut == nil {
		return quoteKey{}, false
	}
	if p.assetIn.IsBTC == p.assetOut.IsBTC {
		return quoteKey{}, false
	}

	amount, err := strconv.ParseFloat(p.amount, 64)
	if err != nil || amount <= 0 {
		return quoteKey{}, false
	}

	address := p.address
	if address == "" {
		address = DefaultQuoteAddress
	}

	return quoteKey{
		assetIn:  p.assetIn.Ticker,
		assetOut: p.assetOut.Ticker,
		amount:   p.amount,
		address:  address,
	}, true
}

// runeName returns the non-BTC side's name.
func (p *quoteParams) runeName() string {
	if p.assetIn != nil && !p.assetIn.IsBTC {
		return p.assetIn.Ticker
	}
	if p.assetOut != nil {
		return p.assetOut.Ticker
	}

	return ""
}

// sell reports the direction: true when the rune is the input asset.
func (p *quoteParams) sell() bool {
	return p.assetIn != nil && !p.assetIn.IsBTC
}

// paramUpdate mutates the coordinator's input inside its event loop.
type paramUpdate func(*quoteParams)

// quoteResult carries one completed fetch back into the event loop, tagged
// with the key it was requested under so stale responses can be discarded.
type quoteResult struct {
	key   quoteKey
	quote *SwapQuote
	price float64
	err   error
}

// QuoteCoordinator debounces user input and keeps a fresh quote for the
// current input tuple. It owns the held quote and its capture timestamp; the
// executor reads them via Quote at call time and must not mutate them.
type QuoteCoordinator struct {
	cfg QuoteConfig

	updates *queue.ConcurrentQueue
	results chan *quoteResult

	// pending is the key of the fetch currently in flight, nil if none.
	// Only touched from the Run loop.
	pending *quoteKey

	mtx          sync.Mutex
	params       quoteParams
	quote        *SwapQuote
	outputAmount string
	exchangeRate string
}

// NewQuoteCoordinator creates a quote coordinator. Zero config fields are
// filled with defaults.
func NewQuoteCoordinator(cfg *QuoteConfig) *QuoteCoordinator {
	c := *cfg
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.ExpiryTicker == nil {
		c.ExpiryTicker = ticker.New(expiryCheckInterval)
	}

	return &QuoteCoordinator{
		cfg:     c,
		updates: queue.NewConcurrentQueue(updateQueueSize),
		results: make(chan *quoteResult),
	}
}

// Run drives the coordinator until the context is canceled. Parameter
// updates, the debounce timer, fetch results and expiry ticks are all
// serialized through this single loop.
func (q *QuoteCoordinator) Run(ctx context.Context) error {
	q.updates.Start()
	defer q.updates.Stop()
	defer q.cfg.ExpiryTicker.Stop()

	log.Debugf("Quote coordinator started, debounce=%v",
		q.cfg.DebounceInterval)

	var debounce <-chan time.Time

	for {
		select {
		case u := <-q.updates.ChanOut():
			// Any input change invalidates the held quote and
			// re-arms the debounce timer.
			q.mtx.Lock()
			u.(paramUpdate)(&q.params)
			q.mtx.Unlock()

			q.clearQuote()
			debounce = q.cfg.Clock.TickAfter(
				q.cfg.DebounceInterval,
			)

		case <-debounce:
			debounce = nil
			q.maybeFetch(ctx)

		case res := <-q.results:
			q.handleResult(res)

		case <-q.cfg.ExpiryTicker.Ticks():
			q.checkExpiry()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetAmount updates the raw input amount string.
func (q *QuoteCoordinator) SetAmount(amount string) {
	q.pushUpdate(func(p *quoteParams) {
		p.amount = amount
	})
}

// SetPair updates the asset pair.
func (q *QuoteCoordinator) SetPair(assetIn, assetOut *Asset) {
	q.pushUpdate(func(p *quoteParams) {
		p.assetIn = assetIn
		p.assetOut = assetOut
	})
}

// SetAddress updates the quoting address, empty while disconnected.
func (q *QuoteCoordinator) SetAddress(address string) {
	q.pushUpdate(func(p *quoteParams) {
		p.address = address
	})
}

// FlipDirection exchanges the asset pair and carries the previous output
// amount over as the new input, mirroring the direction-flip control.
func (q *QuoteCoordinator) FlipDirection() {
	q.mtx.Lock()
	output := strings.ReplaceAll(q.outputAmount, ",", "")
	q.mtx.Unlock()

	q.pushUpdate(func(p *quoteParams) {
		p.assetIn, p.assetOut = p.assetOut, p.assetIn
		if output != "" {
			p.amount = output
		}
	})
}

// Quote returns the held quote, false if none is held or it has expired. The
// returned quote is shared by reference and must be treated as read-only.
func (q *QuoteCoordinator) Quote() (*SwapQuote, bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.quote == nil {
		return nil, false
	}

	return q.quote, true
}

// Pair returns the current asset pair.
func (q *QuoteCoordinator) Pair() (*Asset, *Asset) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.params.assetIn, q.params.assetOut
}

// InputAmount returns the current raw input amount string.
func (q *QuoteCoordinator) InputAmount() string {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.params.amount
}

// OutputAmount returns the display formatted receive amount of the held
// quote, empty without one.
func (q *QuoteCoordinator) OutputAmount() string {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.outputAmount
}

// ExchangeRate returns the display formatted USD price per token unit,
// empty when no live BTC/USD price was available.
func (q *QuoteCoordinator) ExchangeRate() string {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.exchangeRate
}

func (q *QuoteCoordinator) pushUpdate(update paramUpdate) {
	q.updates.ChanIn() <- update
}

// maybeFetch starts a quote fetch if the current input passes all guards.
func (q *QuoteCoordinator) maybeFetch(ctx context.Context) {
	q.mtx.Lock()
	params := q.params
	q.mtx.Unlock()

	key, ok := params.requestKey()
	if !ok {
		// Inputs are incomplete, make sure no stale quote lingers. If
		// a now superseded fetch is still in flight, its result will
		// be discarded, so the loading state must be resolved here.
		q.clearQuote()
		if q.cfg.Machine.CurrentState().QuoteLoading {
			q.cfg.Machine.Dispatch(fsm.SetStep{Step: fsm.StepIdle})
		}
		return
	}

	// A completed swap blocks re-quoting until the guards are reset for
	// a new attempt.
	if q.cfg.Guards.Throttled() {
		log.Debugf("Quote fetch throttled for %v/%v", key.assetIn,
			key.assetOut)
		return
	}

	// Identical consecutive inputs are not re-fetched.
	if !q.cfg.Guards.MarkRequested(key) {
		return
	}

	q.cfg.Machine.Dispatch(fsm.FetchQuoteStart{})
	q.pending = &key

	go q.fetch(ctx, params, key)
}

// fetch performs the quote and price lookups concurrently and reports the
// tagged result back into the event loop.
func (q *QuoteCoordinator) fetch(ctx context.Context, params quoteParams,
	key quoteKey) {

	req := &QuoteRequest{
		RuneName: params.runeName(),
		Address:  key.address,
		Sell:     params.sell(),
	}
	if req.Sell {
		req.RuneAmount = params.amount
	} else {
		req.BTCAmount = params.amount
	}

	var (
		swapQuote *SwapQuote
		price     float64
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		swapQuote, err = q.cfg.Aggregator.FetchQuote(egCtx, req)
		return err
	})
	eg.Go(func() error {
		if q.cfg.Prices == nil {
			return nil
		}

		// The price feed is best effort, the quote stands without a
		// displayed rate.
		p, err := q.cfg.Prices.BTCPriceUSD(egCtx)
		if err != nil {
			log.Warnf("BTC price lookup failed: %v", err)
			return nil
		}
		price = p
		return nil
	})
	err := eg.Wait()

	select {
	case q.results <- &quoteResult{
		key:   key,
		quote: swapQuote,
		price: price,
		err:   err,
	}:

	case <-ctx.Done():
	}
}

// handleResult applies one completed fetch, discarding it if the inputs
// changed while it was in flight.
func (q *QuoteCoordinator) handleResult(res *quoteResult) {
	q.mtx.Lock()
	params := q.params
	q.mtx.Unlock()

	if q.pending != nil && *q.pending == res.key {
		q.pending = nil
	}

	key, ok := params.requestKey()
	if !ok || key != res.key {
		log.Debugf("Discarding stale quote result for %v/%v amount "+
			"%v", res.key.assetIn, res.key.assetOut,
			res.key.amount)

		// Without a successor fetch in flight nothing else will
		// resolve the loading state.
		if q.pending == nil &&
			q.cfg.Machine.CurrentState().QuoteLoading {

			q.cfg.Machine.Dispatch(fsm.SetStep{Step: fsm.StepIdle})
		}
		return
	}

	if res.err != nil {
		q.clearQuote()
		q.cfg.Machine.Dispatch(fsm.FetchQuoteError{
			Err: normalizeQuoteError(res.err),
		})
		return
	}

	res.quote.CapturedAt = q.cfg.Clock.Now()

	q.mtx.Lock()
	q.quote = res.quote
	q.outputAmount = outputAmountFor(&params, res.quote)
	q.exchangeRate = exchangeRateFor(&params, res.quote, res.price)
	q.mtx.Unlock()

	q.cfg.Machine.Dispatch(fsm.FetchQuoteSuccess{})
	q.cfg.ExpiryTicker.Resume()

	log.Infof("Quote ready for %v/%v amount %v, output %v",
		key.assetIn, key.assetOut, key.amount, q.OutputAmount())
}

// checkExpiry drops a held quote that outlived its validity window.
func (q *QuoteCoordinator) checkExpiry() {
	q.mtx.Lock()
	quote := q.quote
	q.mtx.Unlock()

	if quote == nil {
		q.cfg.ExpiryTicker.Pause()
		return
	}

	age := q.cfg.Clock.Now().Sub(quote.CapturedAt)
	if age <= QuoteValidityWindow {
		return
	}

	log.Infof("Held quote expired after %v", age)

	q.clearQuote()
	q.cfg.Machine.Dispatch(fsm.QuoteExpired{})
}

// clearQuote drops the held quote and its derived display values.
func (q *QuoteCoordinator) clearQuote() {
	q.mtx.Lock()
	q.quote = nil
	q.outputAmount = ""
	q.exchangeRate = ""
	q.mtx.Unlock()

	q.cfg.ExpiryTicker.Pause()
}

// normalizeQuoteError rewrites raw liquidity errors into something a user
// can act on, everything else passes through with context.
func normalizeQuoteError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "liquidity") ||
		strings.Contains(msg, "not found") {

		return ErrNoQuoteAvailable
	}

	return fmt.Errorf("quote fetch failed: %w", err)
}

// outputAmountFor derives the display receive amount for the direction:
// token units when buying the rune, BTC units when selling it.
func outputAmountFor(params *quoteParams, quote *SwapQuote) string {
	if params.sell() {
		return runes.FormatAmount(quote.TotalPrice)
	}

	return runes.FormatAmount(quote.TotalFormattedAmount)
}

// exchangeRateFor derives the USD price per token unit from the quote's two
// legs and a live BTC/USD price: (btcAmount * btcPriceUSD) / runeAmount.
// Returns empty when no price is available or the legs don't parse. Display
// only, float math is fine here.
func exchangeRateFor(params *quoteParams, quote *SwapQuote,
	btcPriceUSD float64) string {

	if btcPriceUSD <= 0 {
		return ""
	}

	var btcLeg, runeLeg string
	if params.sell() {
		btcLeg, runeLeg = quote.TotalPrice, params.amount
	} else {
		btcLeg, runeLeg = params.amount, quote.TotalFormattedAmount
	}

	btcAmount, err := strconv.ParseFloat(btcLeg, 64)
	if err != nil {
		return ""
	}
	runeAmount, err := strconv.ParseFloat(runeLeg, 64)
	if err != nil || runeAmount <= 0 {
		return ""
	}

	return runes.FormatUSD(btcAmount * btcPriceUSD / runeAmount)
}
