package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedTrade = errors.New("malformed trade")

type Trade struct {
	Symbol string    `json:"symbol"` // canonical UPPER symbol
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Size   int64     `json:"size"` // shares
}

// Quote is the best bid/ask known when a trade is evaluated. A side that is
// zero, negative or NaN counts as absent.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (q Quote) HasBid() bool { return valid(q.Bid) }
func (q Quote) HasAsk() bool { return valid(q.Ask) }

// TwoSided reports whether both sides are present.
func (q Quote) TwoSided() bool { return q.HasBid() && q.HasAsk() }

// Mid returns the midpoint of a two-sided quote.
func (q Quote) Mid() (float64, bool) {
	if !q.TwoSided() {
		return 0, false
	}
	return (q.Bid + q.Ask) / 2, true
}

func valid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Amount is the dollar value of the trade, computed on the decimal
// representations so threshold comparisons are exact.
func (t Trade) Amount() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(t.Size))
}

func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: empty symbol", ErrMalformedTrade)
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrMalformedTrade, t.Price)
	case t.Size < 0:
		return fmt.Errorf("%w: size %d", ErrMalformedTrade, t.Size)
	}
	return nil
}

type EventKind int

const (
	KindTrade EventKind = iota
	KindQuote
)

func (k EventKind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindQuote:
		return "quote"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one item of a market-data stream. Trades from tbbo-style sources
// carry the prevailing quote inline in Quote; otherwise Quote is nil and the
// consumer uses the latest cached quote for the symbol.
type Event struct {
	Kind   EventKind
	Symbol string
	Time   time.Time
	Trade  Trade
	Quote  *Quote
}

func TradeEvent(t Trade) Event {
	return Event{Kind: KindTrade, Symbol: t.Symbol, Time: t.Time, Trade: t}
}

func QuoteEvent(symbol string, at time.Time, q Quote) Event {
	return Event{Kind: KindQuote, Symbol: symbol, Time: at, Quote: &q}
}

// CanonicalSymbol upper-cases and trims a ticker.
func CanonicalSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}
