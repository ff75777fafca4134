// Package runeswap implements the client side orchestration of rune/BTC
// swaps against a DEX aggregator: quote lifecycle management and the
// three-phase execution pipeline that turns a held quote into a signed,
// broadcast Bitcoin transaction. The swap progress lives in a single state
// machine (package fsm) that presentation layers observe.
package runeswap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/runekit/runeswap/fsm"
)

// Config contains all external services and knobs of the swap client.
type Config struct {
	// Aggregator is the DEX aggregator, required.
	Aggregator AggregatorClient

	// Wallet is the signing wallet, required for execution. Quoting
	// works without it.
	Wallet WalletSigner

	// Fees provides recommended fee rates, optional.
	Fees FeeSource

	// Prices provides the BTC/USD rate for display, optional.
	Prices PriceSource

	// Lending is the collateral lending protocol, optional. Without it
	// the borrow surface is disabled.
	Lending LendingClient

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// DebounceInterval overrides the quote debounce, optional.
	DebounceInterval time.Duration
}

// Client bundles the state machine, the quote coordinator and the two
// executors behind one handle. One client instance drives one swap widget.
type Client struct {
	// Machine is the swap attempt's single source of truth.
	Machine *fsm.Machine

	// Quotes keeps a fresh quote for the current input.
	Quotes *QuoteCoordinator

	// Executor runs the swap pipeline.
	Executor *SwapExecutor

	// Borrower runs the borrow pipeline, nil without a lending client.
	Borrower *BorrowExecutor

	guards *Guards

	mtx    sync.Mutex
	wallet WalletInfo
}

// NewClient creates a swap client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Aggregator == nil {
		return nil, errors.New("aggregator client required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	machine := fsm.NewMachine()
	guards := NewGuards()

	quotes := NewQuoteCoordinator(&QuoteConfig{
		Aggregator:       cfg.Aggregator,
		Prices:           cfg.Prices,
		Machine:          machine,
		Guards:           guards,
		Clock:            cfg.Clock,
		DebounceInterval: cfg.DebounceInterval,
	})

	executor := NewSwapExecutor(&ExecutorConfig{
		Aggregator: cfg.Aggregator,
		Wallet:     cfg.Wallet,
		Fees:       cfg.Fees,
		Machine:    machine,
		Guards:     guards,
		Clock:      cfg.Clock,
	})

	client := &Client{
		Machine:  machine,
		Quotes:   quotes,
		Executor: executor,
		guards:   guards,
	}

	if cfg.Lending != nil {
		client.Borrower = NewBorrowExecutor(&BorrowConfig{
			Lending: cfg.Lending,
			Wallet:  cfg.Wallet,
		})
	}

	return client, nil
}

// Run drives the quote coordinator until the context is canceled.
func (c *Client) Run(ctx context.Context) error {
	return c.Quotes.Run(ctx)
}

// SetWallet installs the connected wallet's identity. A change of address
// or connection status resets the whole process state: an attempt belongs
// to one wallet identity.
func (c *Client) SetWallet(wallet WalletInfo) {
	c.mtx.Lock()
	changed := wallet.OrdinalAddress != c.wallet.OrdinalAddress ||
		wallet.Connected != c.wallet.Connected
	c.wallet = wallet
	c.mtx.Unlock()

	if !changed {
		return
	}

	log.Infof("Wallet identity changed, resetting swap state")

	c.Machine.Reset()
	c.guards.Reset()
	c.Quotes.SetAddress(wallet.OrdinalAddress)
}

// Wallet returns the installed wallet identity.
func (c *Client) Wallet() WalletInfo {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.wallet
}

// NewAttempt clears the process state after a success or cancellation so
// the user can start over.
func (c *Client) NewAttempt() {
	c.Machine.Reset()
	c.guards.Reset()
}

// Swap executes the currently held quote with the installed wallet. The
// trigger is refused while an attempt is already swapping, the state
// machine does not enforce mutual exclusion itself.
func (c *Client) Swap(ctx context.Context) {
	if c.Machine.CurrentState().Swapping {
		log.Warnf("Swap trigger ignored, an attempt is in flight")
		return
	}

	quote, _ := c.Quotes.Quote()
	assetIn, assetOut := c.Quotes.Pair()

	c.Executor.ExecuteSwap(ctx, &ExecuteSwapRequest{
		Wallet:   c.Wallet(),
		AssetIn:  assetIn,
		AssetOut: assetOut,
		Quote:    quote,
	})
}
