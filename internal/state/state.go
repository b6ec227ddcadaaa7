package state

import (
	"sync"
	"sync/atomic"
	"time"

	"ticksonic/internal/market"
)

// State is the shared view of the feed: which symbols are watched, the
// latest quote per symbol and whether the upstream is connected.
type State struct {
	mu      sync.RWMutex
	symbols []string
	quotes  map[string]quoteEntry

	connected atomic.Bool
	lastEvent atomic.Int64 // unix nanos
}

type quoteEntry struct {
	q  market.Quote
	at time.Time
}

func NewState(symbols ...string) *State {
	s := &State{quotes: make(map[string]quoteEntry)}
	s.SetSymbols(symbols)
	return s
}

// SetSymbols stores the canonical (upper-case, trimmed, de-duplicated) form
// of syms and returns it.
func (s *State) SetSymbols(syms []string) []string {
	seen := make(map[string]bool, len(syms))
	canon := make([]string, 0, len(syms))
	for _, sym := range syms {
		c := market.CanonicalSymbol(sym)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		canon = append(canon, c)
	}
	s.mu.Lock()
	s.symbols = canon
	s.mu.Unlock()
	return append([]string(nil), canon...)
}

func (s *State) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// SetQuote records the latest quote for symbol. Older quotes (by timestamp)
// never overwrite newer ones; a zero time always wins.
func (s *State) SetQuote(symbol string, q market.Quote, at time.Time) {
	k := market.CanonicalSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.quotes[k]; ok && !at.IsZero() && at.Before(prev.at) {
		return
	}
	s.quotes[k] = quoteEntry{q: q, at: at}
}

// Quote returns the latest quote for symbol; ok is false if none was seen.
func (s *State) Quote(symbol string) (market.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.quotes[market.CanonicalSymbol(symbol)]
	return e.q, ok
}

func (s *State) SetConnected(v bool) { s.connected.Store(v) }
func (s *State) Connected() bool     { return s.connected.Load() }

func (s *State) Touch(now time.Time) { s.lastEvent.Store(now.UnixNano()) }

// LastEvent is the wall time of the most recent stream event, zero if none.
func (s *State) LastEvent() time.Time {
	n := s.lastEvent.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
