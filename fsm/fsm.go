package fsm

import (
	"sync"
)

// Step is the position of a swap attempt within its lifecycle.
type Step uint8

const (
	// StepIdle means no swap is in flight and no quote fetch is running.
	StepIdle Step = iota

	// StepFetchingQuote means a quote request is in flight.
	StepFetchingQuote

	// StepQuoteReady means a fresh quote is held and the swap may start.
	StepQuoteReady

	// StepGettingPSBT means the aggregator is constructing the swap PSBT.
	StepGettingPSBT

	// StepSigning means the wallet has been asked to sign the PSBT.
	StepSigning

	// StepConfirming means the signed PSBT has been submitted for
	// broadcast and we are waiting for the transaction id.
	StepConfirming

	// StepSuccess is the terminal state of a broadcast swap.
	StepSuccess

	// StepError is the terminal state of a failed swap.
	StepError
)

// String returns a human readable representation of the step.
func (s Step) String() string {
	switch s {
	case StepIdle:
		return "Idle"

	case StepFetchingQuote:
		return "FetchingQuote"

	case StepQuoteReady:
		return "QuoteReady"

	case StepGettingPSBT:
		return "GettingPSBT"

	case StepSigning:
		return "Signing"

	case StepConfirming:
		return "Confirming"

	case StepSuccess:
		return "Success"

	case StepError:
		return "Error"

	default:
		return "Unknown"
	}
}

// State is the full record describing one in-flight swap attempt. It is the
// single source of truth consumed by anything presenting swap progress.
type State struct {
	// Swapping is true from pipeline start until a terminal state.
	Swapping bool

	// Step is the current lifecycle position.
	Step Step

	// SwapErr is the last user facing swap error, nil if none.
	SwapErr error

	// TxID is set on success only. Once set, no action can regress the
	// state away from StepSuccess; a completed swap is authoritative.
	TxID string

	// QuoteExpired is true when the held quote has outlived its validity
	// window.
	QuoteExpired bool

	// QuoteLoading is true while a quote fetch is in flight.
	QuoteLoading bool

	// QuoteErr is the last quote fetch error, nil if none.
	QuoteErr error
}

// Action is the closed set of inputs the reducer accepts. The concrete types
// below are the only implementations.
type Action interface {
	// actionType returns a stable name for logging.
	actionType() string
}

// ResetSwap returns the machine to its initial state.
type ResetSwap struct{}

// FetchQuoteStart marks the start of a quote fetch.
type FetchQuoteStart struct{}

// FetchQuoteSuccess marks a completed quote fetch.
type FetchQuoteSuccess struct{}

// FetchQuoteError records a failed quote fetch.
type FetchQuoteError struct {
	Err error
}

// QuoteExpired flags the held quote as past its validity window.
type QuoteExpired struct{}

// SwapStart marks the start of the execution pipeline.
type SwapStart struct{}

// SetStep moves the machine to the given step. Moving to StepIdle also
// force-clears both loading flags, so a cancelled attempt can never leave a
// stuck spinner behind.
type SetStep struct {
	Step Step
}

// FailSwap records a hard swap failure.
type FailSwap struct {
	Err error
}

// SwapSuccess records the broadcast transaction id.
type SwapSuccess struct {
	TxID string
}

// SetGenericError sets the swap error message without touching the step or
// the loading flags. Used for transient advisories such as a fee bump retry.
type SetGenericError struct {
	Err error
}

func (ResetSwap) actionType() string         { return "ResetSwap" }
func (FetchQuoteStart) actionType() string   { return "FetchQuoteStart" }
func (FetchQuoteSuccess) actionType() string { return "FetchQuoteSuccess" }
func (FetchQuoteError) actionType() string   { return "FetchQuoteError" }
func (QuoteExpired) actionType() string      { return "QuoteExpired" }
func (SwapStart) actionType() string         { return "SwapStart" }
func (SetStep) actionType() string           { return "SetStep" }
func (FailSwap) actionType() string          { return "FailSwap" }
func (SwapSuccess) actionType() string       { return "SwapSuccess" }
func (SetGenericError) actionType() string   { return "SetGenericError" }

// reduce applies a single action to the state and returns the next state.
// The function is pure, all side effects live with the caller.
func reduce(s State, action Action) State {
	// A completed swap is terminal and authoritative. Once a transaction
	// id is recorded no action may alter the state; only Machine.Reset
	// starts a new attempt.
	if s.TxID != "" {
		return s
	}

	switch a := action.(type) {
	case ResetSwap:
		return State{}

	case FetchQuoteStart:
		s.QuoteLoading = true
		s.QuoteErr = nil
		s.QuoteExpired = false
		s.Step = StepFetchingQuote
		return s

	case FetchQuoteSuccess:
		s.QuoteLoading = false
		s.Step = StepQuoteReady
		return s

	case FetchQuoteError:
		s.QuoteLoading = false
		s.QuoteErr = a.Err
		s.Step = StepIdle
		return s

	case QuoteExpired:
		s.QuoteExpired = true
		s.Step = StepIdle
		s.Swapping = false
		return s

	case SwapStart:
		s.Swapping = true
		s.SwapErr = nil
		s.TxID = ""
		s.QuoteExpired = false
		return s

	case SetStep:
		s.Step = a.Step
		if a.Step == StepIdle {
			s.QuoteLoading = false
			s.Swapping = false
		}
		return s

	case FailSwap:
		s.Swapping = false
		s.QuoteLoading = false
		s.SwapErr = a.Err
		s.Step = StepError
		return s

	case SwapSuccess:
		s.Swapping = false
		s.Step = StepSuccess
		s.TxID = a.TxID
		return s

	case SetGenericError:
		s.SwapErr = a.Err
		return s

	default:
		// The action set is closed. Anything else is a programming
		// error, surface it loudly instead of silently ignoring it.
		log.Errorf("unhandled action %T, state unchanged", action)
		return s
	}
}

// Machine owns one swap attempt's state and serializes all mutations of it.
// Consumers read snapshots via CurrentState and subscribe to transitions via
// RegisterObserver.
type Machine struct {
	// mtx ensures that only one action is applied at any given time.
	mtx sync.Mutex

	state State

	// observers is a slice of observers that are notified on every
	// applied action.
	observers []Observer

	// observerMtx ensures that observers are only added or removed
	// safely.
	observerMtx sync.Mutex
}

// NewMachine creates a machine in the initial (idle) state.
func NewMachine() *Machine {
	return &Machine{
		observers: make([]Observer, 0),
	}
}

// Dispatch applies an action through the reducer and notifies all observers
// of the resulting transition.
func (m *Machine) Dispatch(action Action) {
	m.mtx.Lock()
	prev := m.state
	m.state = reduce(m.state, action)
	next := m.state
	m.mtx.Unlock()

	log.Tracef("Dispatch %v: %v -> %v", action.actionType(), prev.Step,
		next.Step)

	m.notify(Notification{
		PreviousState: prev,
		NextState:     next,
		Action:        action,
	})
}

// Reset replaces the state with a fresh initial state, clearing a recorded
// transaction id as well. It is the only way to leave StepSuccess and is
// invoked when the wallet identity changes or the user begins a new attempt.
func (m *Machine) Reset() {
	m.mtx.Lock()
	prev := m.state
	m.state = State{}
	m.mtx.Unlock()

	m.notify(Notification{
		PreviousState: prev,
		NextState:     State{},
		Action:        ResetSwap{},
	})
}

// CurrentState returns a snapshot of the machine's state.
func (m *Machine) CurrentState() State {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.state
}

// RegisterObserver registers an observer with the machine.
func (m *Machine) RegisterObserver(observer Observer) {
	m.observerMtx.Lock()
	defer m.observerMtx.Unlock()

	if observer != nil {
		m.observers = append(m.observers, observer)
	}
}

// RemoveObserver removes an observer from the machine. It returns true if
// the observer was removed, false otherwise.
func (m *Machine) RemoveObserver(observer Observer) bool {
	m.observerMtx.Lock()
	defer m.observerMtx.Unlock()

	for i, o := range m.observers {
		if o == observer {
			m.observers = append(
				m.observers[:i], m.observers[i+1:]...,
			)
			return true
		}
	}

	return false
}

func (m *Machine) notify(notification Notification) {
	m.observerMtx.Lock()
	defer m.observerMtx.Unlock()

	for _, observer := range m.observers {
		observer.Notify(notification)
	}
}
