package runeswap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/runekit/runeswap/runes"
)

// errBorrowCanceled is raised when the wallet returns an empty signing
// result during a borrow.
var errBorrowCanceled = errors.New("User canceled the request")

// BorrowState reports the progress of one borrow attempt. Unlike the swap
// pipeline each phase carries its own flag and there is no quote expiry or
// retry machinery.
type BorrowState struct {
	// IsPreparing is true while the lending protocol constructs the
	// borrow PSBT.
	IsPreparing bool

	// IsSigning is true while the wallet signature is pending.
	IsSigning bool

	// IsSubmitting is true while the signed PSBT is being submitted.
	IsSubmitting bool

	// Err is the first error encountered at any phase.
	Err error

	// LoanTxID is the loan transaction id, set only on success.
	LoanTxID string
}

// BorrowConfig contains the services the borrow executor needs.
type BorrowConfig struct {
	// Lending is the collateral lending protocol.
	Lending LendingClient

	// Wallet signs the borrow PSBT.
	Wallet WalletSigner
}

// BorrowExecutor drives the prepare, sign, submit sequence of a collateral
// loan against a chosen offer.
type BorrowExecutor struct {
	cfg BorrowConfig

	mtx   sync.Mutex
	state BorrowState
}

// NewBorrowExecutor creates a borrow executor.
func NewBorrowExecutor(cfg *BorrowConfig) *BorrowExecutor {
	return &BorrowExecutor{cfg: *cfg}
}

// BorrowRequest describes one borrow attempt.
type BorrowRequest struct {
	// OfferID identifies the chosen loan offer.
	OfferID string

	// Amount is the user entered collateral amount in decimal token
	// units.
	Amount string

	// Decimals is the collateral token's divisibility.
	Decimals int

	// Wallet is the connected wallet's identity.
	Wallet WalletInfo
}

// validate checks the borrow preconditions.
func (r *BorrowRequest) validate() error {
	if r.OfferID == "" {
		return errors.New("no loan offer selected")
	}

	switch {
	case !r.Wallet.Connected,
		r.Wallet.OrdinalAddress == "",
		r.Wallet.OrdinalPubKey == "",
		r.Wallet.PaymentAddress == "",
		r.Wallet.PaymentPubKey == "":

		return errors.New("wallet not connected")
	}

	return nil
}

// State returns a snapshot of the borrow state.
func (b *BorrowExecutor) State() BorrowState {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.state
}

// Reset clears the borrow state for a new attempt.
func (b *BorrowExecutor) Reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.state = BorrowState{}
}

// Execute drives one borrow attempt: prepare, sign, submit. The first error
// at any phase is recorded and all phase flags are cleared on every exit
// path. Progress is observed via State.
func (b *BorrowExecutor) Execute(ctx context.Context, req *BorrowRequest) {
	b.mtx.Lock()
	b.state = BorrowState{}
	b.mtx.Unlock()

	defer b.clearFlags()

	if err := req.validate(); err != nil {
		b.fail(err)
		return
	}

	// The collateral amount is converted with scaled integer arithmetic,
	// decimal input must survive high divisibility without float loss.
	rawAmount, err := runes.DecimalToRaw(req.Amount, req.Decimals)
	if err != nil {
		b.fail(fmt.Errorf("invalid collateral amount: %w", err))
		return
	}
	if rawAmount == 0 {
		b.fail(errors.New("collateral amount must be positive"))
		return
	}

	// Phase 1: the server computes the borrow PSBT.
	b.setPhase(func(s *BorrowState) { s.IsPreparing = true })

	log.Debugf("Preparing borrow against offer %v, raw amount %d",
		req.OfferID, rawAmount)

	prep, err := b.cfg.Lending.PrepareBorrow(ctx, &PrepareBorrowRequest{
		OfferID:        req.OfferID,
		RawAmount:      rawAmount,
		OrdinalAddress: req.Wallet.OrdinalAddress,
		OrdinalPubKey:  req.Wallet.OrdinalPubKey,
		PaymentAddress: req.Wallet.PaymentAddress,
		PaymentPubKey:  req.Wallet.PaymentPubKey,
	})
	if err != nil {
		b.fail(fmt.Errorf("borrow preparation failed: %w", err))
		return
	}
	if prep.PSBTBase64 == "" {
		b.fail(errors.New("no PSBT received for the loan offer"))
		return
	}

	// Phase 2: wallet signature.
	b.setPhase(func(s *BorrowState) { s.IsSigning = true })

	signResp, err := b.cfg.Wallet.SignPSBT(ctx, &SignPSBTRequest{
		PSBTBase64: prep.PSBTBase64,
	})
	if err != nil {
		b.fail(err)
		return
	}

	signed, err := signedPSBTBase64(signResp)
	if err != nil {
		if errors.Is(err, errSigningCanceled) {
			err = errBorrowCanceled
		}
		b.fail(err)
		return
	}

	// Phase 3: submission.
	b.setPhase(func(s *BorrowState) { s.IsSubmitting = true })

	sub, err := b.cfg.Lending.SubmitBorrow(ctx, &SubmitBorrowRequest{
		SignedPSBTBase64: signed,
		PrepareID:        prep.PrepareID,
	})
	if err != nil {
		b.fail(fmt.Errorf("borrow submission failed: %w", err))
		return
	}
	if sub.LoanTxID == "" {
		b.fail(errors.New("no loan transaction id received"))
		return
	}

	log.Infof("Loan started, txid %v", sub.LoanTxID)

	b.mtx.Lock()
	b.state.LoanTxID = sub.LoanTxID
	b.mtx.Unlock()
}

// setPhase marks exactly one phase flag as active.
func (b *BorrowExecutor) setPhase(set func(*BorrowState)) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.state.IsPreparing = false
	b.state.IsSigning = false
	b.state.IsSubmitting = false
	set(&b.state)
}

// fail records the first error of the attempt.
func (b *BorrowExecutor) fail(err error) {
	log.Errorf("Borrow failed: %v", err)

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.state.Err == nil {
		b.state.Err = err
	}
}

// clearFlags drops all phase flags, run on every exit path.
func (b *BorrowExecutor) clearFlags() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.state.IsPreparing = false
	b.state.IsSigning = false
	b.state.IsSubmitting = false
}
