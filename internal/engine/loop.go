package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticksonic/internal/market"
	"ticksonic/internal/metrics"
	"ticksonic/internal/state"
)

// Run consumes events in arrival order until ctx is done or events is
// closed. Quotes update st; trades are paired with the quote they carry or,
// failing that, the latest cached quote for their symbol. A bad event is
// logged and skipped.
func (e *Engine) Run(ctx context.Context, events <-chan market.Event, st *state.State) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.HandleEvent(ev, st); err != nil {
				metrics.EventErrorsTotal.Inc()
				e.log.Error("event skipped",
					slog.String("kind", ev.Kind.String()),
					slog.String("symbol", ev.Symbol),
					slog.String("err", err.Error()),
				)
			}
		}
	}
}

// HandleEvent processes a single stream event. Panics are converted to
// errors so one poisoned event cannot stop the stream.
func (e *Engine) HandleEvent(ev market.Event, st *state.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Kind, r)
		}
	}()
	st.Touch(time.Now())

	switch ev.Kind {
	case market.KindQuote:
		if ev.Quote == nil {
			return errors.New("quote event without quote")
		}
		st.SetQuote(ev.Symbol, *ev.Quote, ev.Time)
		return nil
	case market.KindTrade:
		q, _ := st.Quote(ev.Trade.Symbol)
		if ev.Quote != nil {
			q = *ev.Quote
			st.SetQuote(ev.Trade.Symbol, q, ev.Time)
		}
		_, _, err := e.Process(ev.Trade, q)
		return err
	}
	return fmt.Errorf("unknown event kind %s", ev.Kind)
}
