// Package engine turns trades into audio-visual signals: it filters by dollar
// amount, classifies against the quote, plays the matching sound and prints
// the line.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"ticksonic/internal/amount"
	"ticksonic/internal/display"
	"ticksonic/internal/market"
	"ticksonic/internal/metrics"
	"ticksonic/internal/sound"
	"ticksonic/internal/zone"
)

const invalidTime = "Invalid timestamp"

// Sounds triggers playback. Implementations must not block on the sound
// finishing.
type Sounds interface {
	Play(id sound.ID) error
}

type Config struct {
	TradeThreshold float64
	BigThreshold   float64
	ShowMid        bool
	Location       *time.Location // nil means time.Local
}

// Signal is everything decided about one emitted trade.
type Signal struct {
	Trade  market.Trade
	Quote  market.Quote
	Result zone.Result
	Big    bool
	Sound  sound.ID
	Line   display.Line
	Style  display.Style
}

type Option func(*Engine)

// WithListener registers fn to receive every emitted signal, after it has
// been printed. fn runs on the processing goroutine and must be quick.
func WithListener(fn func(Signal)) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

type Engine struct {
	tradeThreshold decimal.Decimal
	bigThreshold   decimal.Decimal
	showMid        bool
	loc            *time.Location

	sounds    Sounds
	out       *display.Printer
	log       *slog.Logger
	listeners []func(Signal)
}

func New(cfg Config, sounds Sounds, out *display.Printer, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if !positive(cfg.TradeThreshold) {
		return nil, fmt.Errorf("trade threshold must be positive, got %v", cfg.TradeThreshold)
	}
	if !positive(cfg.BigThreshold) {
		return nil, fmt.Errorf("big threshold must be positive, got %v", cfg.BigThreshold)
	}
	if sounds == nil || out == nil || logger == nil {
		return nil, errors.New("engine needs sounds, printer and logger")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{
		tradeThreshold: decimal.NewFromFloat(cfg.TradeThreshold),
		bigThreshold:   decimal.NewFromFloat(cfg.BigThreshold),
		showMid:        cfg.ShowMid,
		loc:            loc,
		sounds:         sounds,
		out:            out,
		log:            logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Process judges one trade against the quote that prevailed when it printed.
// It reports whether the trade was emitted. Sound and display failures are
// logged and do not fail the event.
func (e *Engine) Process(t market.Trade, q market.Quote) (Signal, bool, error) {
	if err := t.Validate(); err != nil {
		return Signal{}, false, err
	}
	metrics.TradesTotal.WithLabelValues(t.Symbol).Inc()

	amt := t.Amount()
	if amt.LessThan(e.tradeThreshold) {
		metrics.FilteredTotal.WithLabelValues(t.Symbol).Inc()
		e.log.Debug("trade below threshold",
			slog.String("symbol", t.Symbol),
			slog.String("amount", amt.StringFixed(2)),
		)
		return Signal{}, false, nil
	}

	big := amt.GreaterThanOrEqual(e.bigThreshold)
	res := zone.Classify(t.Price, q)
	sig := Signal{
		Trade:  t,
		Quote:  q,
		Result: res,
		Big:    big,
		Sound:  sound.Resolve(res, big),
		Style:  display.StyleFor(res.Zone, big),
		Line: display.Line{
			Price:  amount.Price(t.Price),
			Amount: amount.Magnitude(amt),
			Time:   e.formatTime(t.Time),
			Symbol: t.Symbol,
		},
	}
	if e.showMid {
		sig.Line.Mid = "N/A"
		if mid, ok := q.Mid(); ok {
			sig.Line.Mid = amount.Price(mid)
		}
	}

	if err := e.sounds.Play(sig.Sound); err != nil {
		metrics.PlaybackErrorsTotal.Inc()
		e.log.Warn("sound playback failed",
			slog.String("sound", sig.Sound.String()),
			slog.String("err", err.Error()),
		)
	}
	if err := e.out.Print(sig.Line, sig.Style); err != nil {
		e.log.Warn("display write failed", slog.String("err", err.Error()))
	}
	metrics.SignalsTotal.WithLabelValues(t.Symbol, res.Zone.String()).Inc()
	for _, fn := range e.listeners {
		fn(sig)
	}
	return sig, true, nil
}

func (e *Engine) formatTime(ts time.Time) string {
	if ts.IsZero() {
		return invalidTime
	}
	return ts.In(e.loc).Format(display.TimeLayout)
}
