package runeswap

import (
	"sync"
)

// quoteKey is the input tuple a quote request is keyed on. Any change to it
// invalidates a held quote.
type quoteKey struct {
	assetIn  string
	assetOut string
	amount   string
	address  string
}

// Guards are the mutable cells shared between the quote coordinator and the
// swap executor: the key of the last issued quote request, deduplicating
// identical consecutive fetches, and a throttle flag that blocks all further
// fetches after a completed swap until explicitly reset. Updates happen
// synchronously with the guarded operation so rapid re-triggers cannot slip
// through.
type Guards struct {
	mtx sync.Mutex

	throttled bool

	lastKey quoteKey
	haveKey bool
}

// NewGuards creates an empty guard set.
func NewGuards() *Guards {
	return &Guards{}
}

// MarkRequested records the key of a quote request about to be issued. It
// returns false if the key equals the previous one, in which case the caller
// must skip the fetch.
func (g *Guards) MarkRequested(key quoteKey) bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.haveKey && g.lastKey == key {
		return false
	}

	g.lastKey = key
	g.haveKey = true

	return true
}

// SetThrottled blocks all further quote fetches until Reset is called. Set
// after a completed swap so the consumed quote is never re-priced under the
// success screen.
func (g *Guards) SetThrottled() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	g.throttled = true
}

// Throttled reports whether quote fetching is currently blocked.
func (g *Guards) Throttled() bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.throttled
}

// Reset clears both cells, re-enabling fetching for a new attempt.
func (g *Guards) Reset() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	g.throttled = false
	g.haveKey = false
	g.lastKey = quoteKey{}
}
