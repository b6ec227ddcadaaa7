package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ticksonic/internal/market"
)

type AlpacaConfig struct {
	StreamURL string
	KeyID     string
	Secret    string
	Symbols   []string
	Retry     RetryPolicy
}

// ErrAuth is returned when the stream rejects the credentials. It is not
// retried.
var ErrAuth = errors.New("alpaca stream: authentication failed")

// AlpacaFeed implements Feed against the Alpaca real-time stock stream. It
// subscribes to trades and quotes for every configured symbol and reconnects
// under cfg.Retry.
type AlpacaFeed struct {
	cfg    AlpacaConfig
	seeder *Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool

	events chan market.Event
	errCh  chan error
}

func NewAlpacaFeed(cfg AlpacaConfig, seeder *Client, logger *slog.Logger) *AlpacaFeed {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetry
	}
	syms := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if c := market.CanonicalSymbol(s); c != "" {
			syms = append(syms, c)
		}
	}
	cfg.Symbols = syms
	return &AlpacaFeed{
		cfg:    cfg,
		seeder: seeder,
		log:    logger,
		events: make(chan market.Event, 1024),
		errCh:  make(chan error, 16),
	}
}

func (f *AlpacaFeed) Events() <-chan market.Event { return f.events }
func (f *AlpacaFeed) Errors() <-chan error        { return f.errCh }

func (f *AlpacaFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *AlpacaFeed) setConnected(v bool, onStatus func(bool)) {
	f.mu.Lock()
	changed := f.connected != v
	f.connected = v
	f.mu.Unlock()
	if changed {
		onStatus(v)
	}
}

func (f *AlpacaFeed) Run(ctx context.Context, onStatus func(connected bool)) error {
	defer close(f.events)
	if len(f.cfg.Symbols) == 0 {
		return errors.New("alpaca stream: no symbols")
	}

	remaining := f.cfg.Retry.MaxAttempts
	for {
		if ctx.Err() != nil {
			return nil
		}
		authed, err := f.session(ctx, onStatus)
		f.setConnected(false, onStatus)
		if ctx.Err() != nil {
			return nil
		}
		if authed {
			remaining = f.cfg.Retry.MaxAttempts
		}
		if errors.Is(err, ErrAuth) {
			return err
		}
		if err == nil && !authed {
			err = errors.New("alpaca stream: closed before authentication")
		}
		if err != nil {
			remaining--
			f.emitErr(err)
			if remaining <= 0 {
				return fmt.Errorf("alpaca stream: giving up after %d consecutive failures: %w", f.cfg.Retry.MaxAttempts, err)
			}
		}
		f.log.Warn("stream disconnected, reconnecting",
			slog.Duration("delay", f.cfg.Retry.Delay),
			slog.Int("attempts_left", remaining),
		)
		select {
		case <-time.After(f.cfg.Retry.Delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// session runs one connection from dial to disconnect. It reports whether
// authentication succeeded.
func (f *AlpacaFeed) session(ctx context.Context, onStatus func(bool)) (bool, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := d.DialContext(ctx, f.cfg.StreamURL, nil)
	if err != nil {
		return false, fmt.Errorf("ws open: %w", err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := ws.WriteJSON(map[string]string{
		"action": "auth",
		"key":    f.cfg.KeyID,
		"secret": f.cfg.Secret,
	}); err != nil {
		return false, fmt.Errorf("ws auth: %w", err)
	}

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			case <-done:
				return
			}
		}
	}()

	authed := false
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return authed, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return authed, nil
			}
			return authed, fmt.Errorf("ws read: %w", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))

		msgs, err := decodeMessages(data)
		if err != nil {
			f.emitErr(fmt.Errorf("decode stream message: %w", err))
			f.log.Warn("undecodable stream message", slog.String("err", err.Error()))
			continue
		}
		for _, m := range msgs {
			switch m.Type {
			case "success":
				f.log.Info("stream status", slog.String("msg", m.Msg))
				if m.Msg == "authenticated" && !authed {
					authed = true
					f.setConnected(true, onStatus)
					f.seed(ctx)
					if err := ws.WriteJSON(subscription{
						Action: "subscribe",
						Trades: f.cfg.Symbols,
						Quotes: f.cfg.Symbols,
					}); err != nil {
						return authed, fmt.Errorf("ws subscribe: %w", err)
					}
				}
			case "subscription":
				f.log.Info("subscribed", slog.Any("trades", m.Trades), slog.Any("quotes", m.Quotes))
			case "error":
				// 402 auth failed, 404 auth timeout, 406 connection limit
				if m.Code == 402 {
					return authed, fmt.Errorf("%w: %s", ErrAuth, m.Msg)
				}
				return authed, fmt.Errorf("alpaca stream error %d: %s", m.Code, m.Msg)
			default:
				ev, ok := m.event()
				if !ok {
					continue
				}
				if !emit(ctx, f.events, ev) {
					return authed, nil
				}
			}
		}
	}
}

// seed primes the quote cache from the REST API so the first trades after a
// (re)connect have something to classify against.
func (f *AlpacaFeed) seed(ctx context.Context) {
	if f.seeder == nil {
		return
	}
	for _, sym := range f.cfg.Symbols {
		q, at, err := f.seeder.LatestQuote(ctx, sym)
		if err != nil {
			f.log.Warn("latest quote unavailable", slog.String("symbol", sym), slog.String("err", err.Error()))
			continue
		}
		if !emit(ctx, f.events, market.QuoteEvent(sym, at, q)) {
			return
		}
	}
}

func (f *AlpacaFeed) emitErr(err error) { emitErr(f.errCh, err) }

type subscription struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
}

// streamMessage covers control, trade ("t") and quote ("q") messages.
type streamMessage struct {
	Type   string   `json:"T"`
	Msg    string   `json:"msg"`
	Code   int      `json:"code"`
	Trades []string `json:"trades"`
	Quotes []string `json:"quotes"`

	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
	Size   int64   `json:"s"`
	Bid    float64 `json:"bp"`
	Ask    float64 `json:"ap"`
	Time   string  `json:"t"`
}

// decodeMessages accepts the usual array framing and a bare object.
func decodeMessages(data []byte) ([]streamMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var msgs []streamMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var m streamMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return []streamMessage{m}, nil
}

func (m streamMessage) event() (market.Event, bool) {
	at := parseTime(m.Time)
	switch m.Type {
	case "t":
		return market.TradeEvent(market.Trade{
			Symbol: market.CanonicalSymbol(m.Symbol),
			Time:   at,
			Price:  m.Price,
			Size:   m.Size,
		}), true
	case "q":
		return market.QuoteEvent(market.CanonicalSymbol(m.Symbol), at, market.Quote{Bid: m.Bid, Ask: m.Ask}), true
	}
	return market.Event{}, false
}
