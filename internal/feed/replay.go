package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ticksonic/internal/market"
)

// ReplayFeed plays back recorded trades and quotes from JSON Lines, one
// record per line:
//
//	{"type":"trade","symbol":"TSLA","ts":"2025-02-14T14:30:01Z","price":355.1,"size":300,"bid":355.0,"ask":355.1}
//	{"type":"quote","symbol":"TSLA","ts":"2025-02-14T14:30:01Z","bid":355.0,"ask":355.1}
//
// A trade that carries bid and ask is evaluated against that quote. Records
// are paced by their timestamp deltas divided by speed; speed <= 0 replays
// as fast as the consumer reads.
type ReplayFeed struct {
	open    func() (io.ReadCloser, error)
	speed   float64
	symbols map[string]bool
	log     *slog.Logger

	events chan market.Event
	errCh  chan error
	sleep  func(ctx context.Context, d time.Duration) bool
}

type replayRecord struct {
	Type   string    `json:"type"`
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Size   int64     `json:"size"`
	Bid    *float64  `json:"bid"`
	Ask    *float64  `json:"ask"`
}

func NewReplayFeed(path string, speed float64, symbols []string, logger *slog.Logger) *ReplayFeed {
	return newReplay(func() (io.ReadCloser, error) { return os.Open(path) }, speed, symbols, logger)
}

// NewReplayReader replays from r, which is read once.
func NewReplayReader(r io.Reader, speed float64, symbols []string, logger *slog.Logger) *ReplayFeed {
	return newReplay(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, speed, symbols, logger)
}

func newReplay(open func() (io.ReadCloser, error), speed float64, symbols []string, logger *slog.Logger) *ReplayFeed {
	var filter map[string]bool
	for _, s := range symbols {
		if c := market.CanonicalSymbol(s); c != "" {
			if filter == nil {
				filter = make(map[string]bool)
			}
			filter[c] = true
		}
	}
	return &ReplayFeed{
		open:    open,
		speed:   speed,
		symbols: filter,
		log:     logger,
		events:  make(chan market.Event, 1024),
		errCh:   make(chan error, 16),
		sleep:   sleepCtx,
	}
}

func (f *ReplayFeed) Events() <-chan market.Event { return f.events }
func (f *ReplayFeed) Errors() <-chan error        { return f.errCh }

// Run replays the whole input and returns nil at end of input.
func (f *ReplayFeed) Run(ctx context.Context, onStatus func(connected bool)) error {
	defer close(f.events)
	rc, err := f.open()
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	defer rc.Close()
	onStatus(true)
	defer onStatus(false)

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var prev time.Time
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := parseRecord([]byte(line))
		if err != nil {
			err = fmt.Errorf("replay line %d: %w", lineNo, err)
			emitErr(f.errCh, err)
			f.log.Warn("replay record skipped", slog.String("err", err.Error()))
			continue
		}
		if f.symbols != nil && !f.symbols[ev.Symbol] {
			continue
		}
		if d := f.delay(prev, ev.Time); d > 0 {
			if !f.sleep(ctx, d) {
				return nil
			}
		}
		if !ev.Time.IsZero() {
			prev = ev.Time
		}
		if !emit(ctx, f.events, ev) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read replay: %w", err)
	}
	f.log.Info("replay finished", slog.Int("lines", lineNo))
	return nil
}

func (f *ReplayFeed) delay(prev, next time.Time) time.Duration {
	if f.speed <= 0 || prev.IsZero() || next.IsZero() || !next.After(prev) {
		return 0
	}
	return time.Duration(float64(next.Sub(prev)) / f.speed)
}

func parseRecord(b []byte) (market.Event, error) {
	var r replayRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return market.Event{}, err
	}
	sym := market.CanonicalSymbol(r.Symbol)
	if sym == "" {
		return market.Event{}, errors.New("missing symbol")
	}
	var q *market.Quote
	if r.Bid != nil || r.Ask != nil {
		q = &market.Quote{}
		if r.Bid != nil {
			q.Bid = *r.Bid
		}
		if r.Ask != nil {
			q.Ask = *r.Ask
		}
	}

	switch strings.ToLower(r.Type) {
	case "", "trade", "t":
		ev := market.TradeEvent(market.Trade{Symbol: sym, Time: r.Time, Price: r.Price, Size: r.Size})
		ev.Quote = q
		return ev, nil
	case "quote", "q":
		if q == nil {
			return market.Event{}, errors.New("quote record without bid or ask")
		}
		return market.QuoteEvent(sym, r.Time, *q), nil
	}
	return market.Event{}, fmt.Errorf("unknown record type %q", r.Type)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
