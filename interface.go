package runeswap

import (
	"context"
	"time"
)

// Asset identifies one side of a swap pair. Exactly one side of a valid pair
// is the chain's native currency.
type Asset struct {
	// Ticker is the display name: "BTC" for the native side, the spaced
	// rune name (e.g. "UNCOMMON•GOODS") otherwise.
	Ticker string

	// IsBTC is true for the chain's native currency.
	IsBTC bool

	// Decimals is the token's divisibility. It is 8 for BTC.
	Decimals int
}

// AssetBTC is the native side of every swap pair.
var AssetBTC = Asset{
	Ticker:   "BTC",
	IsBTC:    true,
	Decimals: 8,
}

// WalletInfo carries the connected wallet's identity. Ordinal and payment
// addresses may differ, most taproot wallets expose both.
type WalletInfo struct {
	// Connected is true while a wallet session is active.
	Connected bool

	// OrdinalAddress receives the runes.
	OrdinalAddress string

	// OrdinalPubKey is the public key behind OrdinalAddress.
	OrdinalPubKey string

	// PaymentAddress funds the swap.
	PaymentAddress string

	// PaymentPubKey is the public key behind PaymentAddress.
	PaymentPubKey string
}

// Order is one market order backing a quote. Orders are opaque to us beyond
// the fields needed for normalization, the aggregator round-trips them.
type Order struct {
	// ID is the aggregator's order identifier.
	ID string `json:"id"`

	// Price is the order price in sats.
	Price float64 `json:"price"`

	// FormattedAmount is the order's token amount in display units.
	FormattedAmount float64 `json:"formattedAmount"`

	// Side is the order side, normalized to upper case before use.
	Side string `json:"side,omitempty"`
}

// SwapQuote is a priced set of orders for one input tuple. The value is
// opaque aggregator state, held alongside the capture time that bounds its
// validity. Holders other than the quote coordinator must treat it as
// read-only.
type SwapQuote struct {
	// Orders are the selected market orders.
	Orders []Order

	// TotalFormattedAmount is the received token amount in display units
	// when buying the rune.
	TotalFormattedAmount string

	// TotalPrice is the received BTC amount when selling the rune.
	TotalPrice string

	// CapturedAt is the time the quote fetch completed. A quote older
	// than QuoteValidityWindow must not be executed.
	CapturedAt time.Time
}

// QuoteRequest asks the aggregator to price a swap. Exactly one of BTCAmount
// and RuneAmount is set, matching the direction.
type QuoteRequest struct {
	// BTCAmount is the BTC input amount when buying the rune.
	BTCAmount string

	// RuneAmount is the token input amount when selling the rune.
	RuneAmount string

	// RuneName is the spaced rune name.
	RuneName string

	// Address is the requesting address. Unauthenticated previews use
	// DefaultQuoteAddress.
	Address string

	// Sell is true when the rune is the input asset.
	Sell bool
}

// PSBTRequest asks the aggregator to construct the swap PSBT for a quote's
// orders.
type PSBTRequest struct {
	Orders           []Order
	Address          string
	PublicKey        string
	PaymentAddress   string
	PaymentPublicKey string
	RuneName         string
	Sell             bool

	// FeeRate is the target fee rate in sat/vB.
	FeeRate uint64
}

// PSBTResponse is the aggregator's PSBT construction result.
type PSBTResponse struct {
	// PSBTBase64 is the base64 encoded swap PSBT.
	PSBTBase64 string

	// SwapID identifies the aggregator-side swap session.
	SwapID string

	// RBFProtected optionally carries a second, RBF protected PSBT.
	RBFProtected string
}

// ConfirmRequest submits the signed PSBT for broadcast.
type ConfirmRequest struct {
	Orders           []Order
	Address          string
	PublicKey        string
	PaymentAddress   string
	PaymentPublicKey string
	SignedPSBTBase64 string
	SwapID           string
	RuneName         string
	Sell             bool

	// SignedRBFPSBTBase64 is set when the RBF protected PSBT was signed
	// as well.
	SignedRBFPSBTBase64 string

	// RBFProtection reports whether SignedRBFPSBTBase64 is set.
	RBFProtection bool
}

// RBFProtectionInfo is returned instead of a direct transaction id when the
// broadcast went through the aggregator's RBF protection path.
type RBFProtectionInfo struct {
	// FundsPreparationTxID is the transaction id of the funds
	// preparation transaction.
	FundsPreparationTxID string
}

// ConfirmResponse is the broadcast result.
type ConfirmResponse struct {
	// TxID is the broadcast transaction id.
	TxID string

	// RBFProtection carries the fallback transaction id for RBF
	// protected swaps.
	RBFProtection *RBFProtectionInfo
}

// AggregatorClient is the DEX aggregator this client trades through. All
// three calls are sequential network round-trips of one swap attempt.
type AggregatorClient interface {
	// FetchQuote prices a swap for the given input tuple.
	FetchQuote(ctx context.Context, req *QuoteRequest) (*SwapQuote,
		error)

	// CreatePSBT constructs the swap PSBT for a fetched quote.
	CreatePSBT(ctx context.Context, req *PSBTRequest) (*PSBTResponse,
		error)

	// ConfirmPSBT submits the signed PSBT and returns the broadcast
	// transaction id.
	ConfirmPSBT(ctx context.Context, req *ConfirmRequest) (
		*ConfirmResponse, error)
}

// SignPSBTRequest asks the wallet to sign a PSBT.
type SignPSBTRequest struct {
	// PSBTBase64 is the base64 encoded PSBT to sign.
	PSBTBase64 string

	// Finalize requests input finalization after signing.
	Finalize bool

	// Broadcast requests an immediate broadcast by the wallet. The swap
	// pipeline never sets this, broadcasting is the aggregator's job.
	Broadcast bool
}

// SignPSBTResponse is the wallet's signing result.
type SignPSBTResponse struct {
	// SignedPSBTHex is the signed PSBT, hex encoded.
	SignedPSBTHex string

	// SignedPSBTBase64 is the signed PSBT, base64 encoded.
	SignedPSBTBase64 string

	// TxID is set by wallets that broadcast themselves.
	TxID string
}

// WalletSigner is the external wallet UI. A signing call may suspend
// indefinitely pending human interaction. A nil response with a nil error
// means the user dismissed the request, the pipeline treats that as a
// cancellation, not a failure.
type WalletSigner interface {
	SignPSBT(ctx context.Context, req *SignPSBTRequest) (
		*SignPSBTResponse, error)
}

// FeeRates is a recommended fee rate set in sat/vB, fastest to minimum.
type FeeRates struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// FeeSource provides recommended fee rates.
type FeeSource interface {
	RecommendedFees(ctx context.Context) (*FeeRates, error)
}

// PriceSource provides a live BTC/USD price used for the displayed exchange
// rate. The rate is advisory only, quoting works without it.
type PriceSource interface {
	BTCPriceUSD(ctx context.Context) (float64, error)
}

// PrepareBorrowRequest asks the lending protocol to construct a borrow PSBT
// for a chosen loan offer.
type PrepareBorrowRequest struct {
	// OfferID identifies the loan offer.
	OfferID string

	// RawAmount is the collateral amount in raw token units.
	RawAmount uint64

	OrdinalAddress string
	OrdinalPubKey  string
	PaymentAddress string
	PaymentPubKey  string
}

// PrepareBorrowResponse is the lending protocol's preparation result.
type PrepareBorrowResponse struct {
	// PSBTBase64 is the base64 encoded borrow PSBT.
	PSBTBase64 string

	// PrepareID identifies the prepared offer for submission.
	PrepareID string
}

// SubmitBorrowRequest submits the signed borrow PSBT.
type SubmitBorrowRequest struct {
	SignedPSBTBase64 string
	PrepareID        string
}

// SubmitBorrowResponse is the final borrow result.
type SubmitBorrowResponse struct {
	// LoanTxID is the loan transaction id.
	LoanTxID string
}

// LendingClient is the collateral lending protocol used by the borrow
// process.
type LendingClient interface {
	// PrepareBorrow constructs the borrow PSBT for a loan offer.
	PrepareBorrow(ctx context.Context, req *PrepareBorrowRequest) (
		*PrepareBorrowResponse, error)

	// SubmitBorrow submits the signed borrow PSBT.
	SubmitBorrow(ctx context.Context, req *SubmitBorrowRequest) (
		*SubmitBorrowResponse, error)
}
