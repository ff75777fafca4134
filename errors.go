package runeswap

import (
	"errors"
	"strings"
)

// User facing sentinel errors. The exact wording of several of these is load
// bearing: downstream classification and the presentation layer match on the
// vendor phrases, so they must not be reworded casually.
var (
	// ErrMissingSwapDetails is returned when the execution preconditions
	// are not met. No network call is attempted.
	ErrMissingSwapDetails = errors.New("Missing connection details, " +
		"assets, or quote for the swap")

	// ErrQuoteExpiredRefetch prompts the user to fetch a fresh quote.
	ErrQuoteExpiredRefetch = errors.New("Quote expired. Please fetch a " +
		"new one.")

	// ErrNoQuoteAvailable replaces raw liquidity errors from the
	// aggregator.
	ErrNoQuoteAvailable = errors.New("No quote available for this pair " +
		"or amount")

	// ErrInvalidPSBTData is returned when the aggregator's PSBT response
	// misses the PSBT or the swap id, or the PSBT does not decode.
	ErrInvalidPSBTData = errors.New("Invalid PSBT data received from " +
		"the aggregator")

	// ErrNoTxID is returned when the confirmation response yields no
	// transaction id on either path.
	ErrNoTxID = errors.New("No transaction ID received from swap " +
		"confirmation")

	// errSigningCanceled is raised when the wallet returns an empty
	// signing result. It carries both the cancellation phrase the
	// classifier keys on and the signing context.
	errSigningCanceled = errors.New("User canceled the request: main " +
		"PSBT signing cancelled or failed")
)

// failureKind partitions pipeline errors into their recovery paths.
type failureKind uint8

const (
	// failureGeneric lands in the terminal error step.
	failureGeneric failureKind = iota

	// failureFeeTooLow triggers one transparent fee bumped replay.
	failureFeeTooLow

	// failureQuoteExpired flags the quote as expired, the remedy is a
	// mechanical re-fetch, not user diagnosis.
	failureQuoteExpired

	// failureCanceled means the user changed their mind, the attempt is
	// fully reset and stays retryable.
	failureCanceled
)

// classifyFailure buckets a pipeline error by matching the vendor error
// text. The trigger phrases mirror what the aggregator and wallet SDKs
// actually emit, the aggregator exposes no structured codes. Checked in
// priority order: fee, expiry, cancellation, generic.
func classifyFailure(err error) failureKind {
	if err == nil {
		return failureGeneric
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "fee rate") ||
		strings.Contains(msg, "Network fee rate not high enough"):

		return failureFeeTooLow

	case strings.Contains(strings.ToLower(msg), "quote expired") ||
		strings.Contains(msg, "QUOTE_EXPIRED"):

		return failureQuoteExpired

	case strings.Contains(msg, "User canceled"):
		return failureCanceled

	default:
		return failureGeneric
	}
}
