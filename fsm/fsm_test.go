package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	errQuoteFetch = errors.New("no liquidity")
	errPipeline   = errors.New("psbt construction failed")
)

// TestReducer verifies the effect of every action on a representative prior
// state.
func TestReducer(t *testing.T) {
	inFlight := State{
		Swapping:     true,
		Step:         StepSigning,
		QuoteLoading: true,
	}

	testCases := []struct {
		name     string
		prior    State
		action   Action
		expected State
	}{
		{
			name:     "reset from in flight",
			prior:    inFlight,
			action:   ResetSwap{},
			expected: State{},
		},
		{
			name: "fetch quote start clears stale quote state",
			prior: State{
				QuoteErr:     errQuoteFetch,
				QuoteExpired: true,
			},
			action: FetchQuoteStart{},
			expected: State{
				QuoteLoading: true,
				Step:         StepFetchingQuote,
			},
		},
		{
			name: "fetch quote success",
			prior: State{
				QuoteLoading: true,
				Step:         StepFetchingQuote,
			},
			action: FetchQuoteSuccess{},
			expected: State{
				Step: StepQuoteReady,
			},
		},
		{
			name: "fetch quote error returns to idle",
			prior: State{
				QuoteLoading: true,
				Step:         StepFetchingQuote,
			},
			action: FetchQuoteError{Err: errQuoteFetch},
			expected: State{
				QuoteErr: errQuoteFetch,
				Step:     StepIdle,
			},
		},
		{
			name:   "quote expired stops the swap",
			prior:  inFlight,
			action: QuoteExpired{},
			expected: State{
				QuoteExpired: true,
				Step:         StepIdle,
				// QuoteLoading is untouched by expiry.
				QuoteLoading: true,
			},
		},
		{
			name: "swap start clears previous failure",
			prior: State{
				SwapErr: errPipeline,
				Step:    StepError,
			},
			action: SwapStart{},
			expected: State{
				Swapping: true,
				Step:     StepError,
			},
		},
		{
			name:   "set step",
			prior:  State{Swapping: true},
			action: SetStep{Step: StepConfirming},
			expected: State{
				Swapping: true,
				Step:     StepConfirming,
			},
		},
		{
			name:   "fail swap",
			prior:  inFlight,
			action: FailSwap{Err: errPipeline},
			expected: State{
				SwapErr: errPipeline,
				Step:    StepError,
			},
		},
		{
			name:   "swap success",
			prior:  inFlight,
			action: SwapSuccess{TxID: "deadbeef"},
			expected: State{
				Step:         StepSuccess,
				TxID:         "deadbeef",
				QuoteLoading: true,
			},
		},
		{
			name:   "generic error leaves step and flags alone",
			prior:  inFlight,
			action: SetGenericError{Err: errPipeline},
			expected: State{
				Swapping:     true,
				Step:         StepSigning,
				QuoteLoading: true,
				SwapErr:      errPipeline,
			},
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			next := reduce(tc.prior, tc.action)
			require.Equal(t, tc.expected, next)
		})
	}
}

// TestStickySuccess asserts that once a transaction id is recorded, no
// dispatch sequence can regress the machine away from StepSuccess.
func TestStickySuccess(t *testing.T) {
	m := NewMachine()
	m.Dispatch(SwapStart{})
	m.Dispatch(SwapSuccess{TxID: "deadbeef"})

	actions := []Action{
		ResetSwap{},
		FetchQuoteStart{},
		FetchQuoteError{Err: errQuoteFetch},
		QuoteExpired{},
		SwapStart{},
		SetStep{Step: StepIdle},
		FailSwap{Err: errPipeline},
		SwapSuccess{TxID: "other"},
		SetGenericError{Err: errPipeline},
	}
	for _, action := range actions {
		m.Dispatch(action)

		state := m.CurrentState()
		require.Equal(t, "deadbeef", state.TxID)
		require.Equal(t, StepSuccess, state.Step)
	}

	// Only an explicit reset starts over.
	m.Reset()
	require.Equal(t, State{}, m.CurrentState())
}

// TestIdleClearsLoading asserts that moving to StepIdle always clears both
// loading flags, whatever the prior state was.
func TestIdleClearsLoading(t *testing.T) {
	priors := []State{
		{Swapping: true, QuoteLoading: true, Step: StepSigning},
		{QuoteLoading: true, Step: StepFetchingQuote},
		{Swapping: true, Step: StepConfirming},
		{},
	}
	for _, prior := range priors {
		next := reduce(prior, SetStep{Step: StepIdle})
		require.False(t, next.QuoteLoading)
		require.False(t, next.Swapping)
		require.Equal(t, StepIdle, next.Step)
	}
}

// TestObserverFlow verifies that a registered observer sees every transition
// in order and that WaitForStep resolves once the target step is reached.
func TestObserverFlow(t *testing.T) {
	m := NewMachine()
	observer := NewCachedObserver(100)
	m.RegisterObserver(observer)

	go func() {
		m.Dispatch(FetchQuoteStart{})
		m.Dispatch(FetchQuoteSuccess{})
		m.Dispatch(SwapStart{})
		m.Dispatch(SetStep{Step: StepGettingPSBT})
		m.Dispatch(SetStep{Step: StepSigning})
		m.Dispatch(SetStep{Step: StepConfirming})
		m.Dispatch(SwapSuccess{TxID: "deadbeef"})
	}()

	err := observer.WaitForStep(
		context.Background(), time.Second, StepSuccess,
	)
	require.NoError(t, err)

	expectedSteps := []Step{
		StepFetchingQuote,
		StepQuoteReady,
		StepQuoteReady,
		StepGettingPSBT,
		StepSigning,
		StepConfirming,
		StepSuccess,
	}
	notifications := observer.GetCachedNotifications()
	require.Len(t, notifications, len(expectedSteps))

	for i, notification := range notifications {
		require.Equal(
			t, expectedSteps[i], notification.NextState.Step,
		)
	}
}

// TestObserverAbortOnError verifies that waiting with abortOnError resolves
// with the recorded swap error when the machine fails.
func TestObserverAbortOnError(t *testing.T) {
	m := NewMachine()
	observer := NewCachedObserver(100)
	m.RegisterObserver(observer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errChan := observer.WaitForStepAsync(ctx, StepSuccess, true)

	m.Dispatch(SwapStart{})
	m.Dispatch(FailSwap{Err: errPipeline})

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, errPipeline)

	case <-ctx.Done():
		t.Fatal("timed out waiting for error")
	}
}
