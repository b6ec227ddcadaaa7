// Package zone classifies a trade price against the prevailing bid/ask.
package zone

import (
	"math"

	"ticksonic/internal/market"
)

const (
	// Epsilon treats prices this close to the bid or ask as equal to it.
	Epsilon = 1e-3
	// TieEpsilon decides the exact midpoint inside the spread.
	TieEpsilon = 1e-9
)

type Zone int

const (
	NoQuote Zone = iota
	AboveAsk
	AtAsk
	Between
	AtBid
	BelowBid
)

func (z Zone) String() string {
	switch z {
	case NoQuote:
		return "no_quote"
	case AboveAsk:
		return "above_ask"
	case AtAsk:
		return "at_ask"
	case Between:
		return "between"
	case AtBid:
		return "at_bid"
	case BelowBid:
		return "below_bid"
	}
	return "unknown"
}

// Bias is the side of the spread a Between trade sits closer to.
type Bias int

const (
	BiasNone Bias = iota
	TowardAsk
	TowardBid
)

func (b Bias) String() string {
	switch b {
	case TowardAsk:
		return "toward_ask"
	case TowardBid:
		return "toward_bid"
	}
	return "none"
}

type Result struct {
	Zone Zone
	Bias Bias // only meaningful for Between
}

// Classify maps price onto a zone. The checks run in a fixed order (at ask,
// at bid, above ask, below bid, between) so a price within Epsilon of both
// sides of a locked market resolves to AtAsk.
func Classify(price float64, q market.Quote) Result {
	if !q.TwoSided() {
		return Result{Zone: NoQuote}
	}
	bid, ask := q.Bid, q.Ask

	switch {
	case math.Abs(price-ask) < Epsilon:
		return Result{Zone: AtAsk}
	case math.Abs(price-bid) < Epsilon:
		return Result{Zone: AtBid}
	case price > ask+Epsilon:
		return Result{Zone: AboveAsk}
	case price < bid-Epsilon:
		return Result{Zone: BelowBid}
	}

	distAsk := math.Abs(price - ask)
	distBid := math.Abs(price - bid)
	switch {
	case math.Abs(distAsk-distBid) < TieEpsilon:
		return Result{Zone: Between, Bias: BiasNone}
	case distAsk < distBid:
		return Result{Zone: Between, Bias: TowardAsk}
	default:
		return Result{Zone: Between, Bias: TowardBid}
	}
}
