package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ticksonic/internal/market"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMockFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := NewMockFeed()
	statusCh := make(chan bool, 2)
	done := make(chan error, 1)
	go func() { done <- mock.Run(ctx, func(c bool) { statusCh <- c }) }()

	select {
	case c := <-statusCh:
		if !c {
			t.Fatal("expected connected status")
		}
	case <-time.After(time.Second):
		t.Fatal("no status")
	}

	mock.SendEvent(market.TradeEvent(market.Trade{Symbol: "AAPL", Price: 1, Size: 1}))
	select {
	case got := <-mock.Events():
		if got.Symbol != "AAPL" {
			t.Fatal("bad event")
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := <-mock.Events(); ok {
		t.Fatal("events not closed after run")
	}
}

func TestMockFeedStatusAndErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := NewMockFeed()
	mock.SetConnected(false)
	statusCh := make(chan bool, 2)
	done := make(chan error, 1)
	go func() { done <- mock.Run(ctx, func(c bool) { statusCh <- c }) }()

	if c := <-statusCh; c {
		t.Fatal("expected disconnected status")
	}
	mock.SendError(errors.New("upstream hiccup"))
	if err := <-mock.Errors(); err.Error() != "upstream hiccup" {
		t.Fatalf("got %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestDecodeMessages(t *testing.T) {
	msgs, err := decodeMessages([]byte(`[
		{"T":"t","S":"tsla","p":355.12,"s":300,"t":"2025-02-14T14:30:01.123456789Z"},
		{"T":"q","S":"TSLA","bp":355.1,"ap":355.13,"t":"2025-02-14T14:30:01Z"},
		{"T":"subscription","trades":["TSLA"]}
	]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	ev, ok := msgs[0].event()
	if !ok || ev.Kind != market.KindTrade || ev.Trade.Symbol != "TSLA" || ev.Trade.Size != 300 || ev.Trade.Price != 355.12 {
		t.Fatalf("trade got %+v", ev)
	}
	if ev.Trade.Time.Nanosecond() != 123456789 {
		t.Fatalf("nanos lost: %v", ev.Trade.Time)
	}
	ev, ok = msgs[1].event()
	if !ok || ev.Kind != market.KindQuote || ev.Quote.Bid != 355.1 || ev.Quote.Ask != 355.13 {
		t.Fatalf("quote got %+v", ev)
	}
	if _, ok := msgs[2].event(); ok {
		t.Fatal("control message produced an event")
	}

	one, err := decodeMessages([]byte(` {"T":"success","msg":"connected"} `))
	if err != nil || len(one) != 1 || one[0].Msg != "connected" {
		t.Fatalf("bare object got %+v %v", one, err)
	}
	if _, err := decodeMessages([]byte(`[{"T":`)); err == nil {
		t.Fatal("truncated payload decoded")
	}
}

func TestBadTimestampIsZero(t *testing.T) {
	ev, _ := streamMessage{Type: "t", Symbol: "A", Price: 1, Size: 1, Time: "yesterday"}.event()
	if !ev.Trade.Time.IsZero() {
		t.Fatalf("got %v", ev.Trade.Time)
	}
}

// fakeStream plays the Alpaca handshake and then sends msgs.
func fakeStream(t *testing.T, authReply string, msgs ...string) (*httptest.Server, <-chan []byte) {
	t.Helper()
	got := make(chan []byte, 8)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))
		_, auth, err := c.ReadMessage()
		if err != nil {
			return
		}
		got <- auth
		_ = c.WriteMessage(websocket.TextMessage, []byte(authReply))
		_, sub, err := c.ReadMessage()
		if err != nil {
			return
		}
		got <- sub
		for _, m := range msgs {
			_ = c.WriteMessage(websocket.TextMessage, []byte(m))
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, got
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestAlpacaFeedStreamsTradesAndQuotes(t *testing.T) {
	srv, got := fakeStream(t, `[{"T":"success","msg":"authenticated"}]`,
		`[{"T":"subscription","trades":["TSLA"],"quotes":["TSLA"]}]`,
		`[{"T":"q","S":"TSLA","bp":10,"ap":10.02,"t":"2025-02-14T14:30:00Z"},{"T":"t","S":"TSLA","p":10.02,"s":5000,"t":"2025-02-14T14:30:01Z"}]`,
	)
	defer srv.Close()

	f := NewAlpacaFeed(AlpacaConfig{
		StreamURL: wsURL(srv),
		KeyID:     "key",
		Secret:    "secret",
		Symbols:   []string{" tsla "},
		Retry:     RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond},
	}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var status []bool
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(c bool) { mu.Lock(); status = append(status, c); mu.Unlock() })
	}()

	var auth map[string]string
	if err := json.Unmarshal(<-got, &auth); err != nil {
		t.Fatalf("auth frame: %v", err)
	}
	if auth["action"] != "auth" || auth["key"] != "key" || auth["secret"] != "secret" {
		t.Fatalf("auth got %v", auth)
	}
	var sub subscription
	if err := json.Unmarshal(<-got, &sub); err != nil {
		t.Fatalf("subscribe frame: %v", err)
	}
	if sub.Action != "subscribe" || len(sub.Trades) != 1 || sub.Trades[0] != "TSLA" || sub.Quotes[0] != "TSLA" {
		t.Fatalf("subscribe got %+v", sub)
	}

	var evs []market.Event
	for len(evs) < 2 {
		select {
		case ev := <-f.Events():
			evs = append(evs, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d events", len(evs))
		}
	}
	if evs[0].Kind != market.KindQuote || evs[1].Kind != market.KindTrade || evs[1].Trade.Size != 5000 {
		t.Fatalf("events got %+v", evs)
	}
	if !f.Connected() {
		t.Fatal("feed not connected after auth")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(status) < 2 || !status[0] || status[len(status)-1] {
		t.Fatalf("status transitions %v", status)
	}
}

func TestAlpacaFeedAuthFailureIsFatal(t *testing.T) {
	srv, _ := fakeStream(t, `[{"T":"error","code":402,"msg":"auth failed"}]`)
	defer srv.Close()

	f := NewAlpacaFeed(AlpacaConfig{
		StreamURL: wsURL(srv),
		Symbols:   []string{"TSLA"},
		Retry:     RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond},
	}, nil, discard())
	err := f.Run(context.Background(), func(bool) {})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
}

func TestAlpacaFeedGivesUpAfterRetries(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewAlpacaFeed(AlpacaConfig{
		StreamURL: wsURL(srv),
		Symbols:   []string{"TSLA"},
		Retry:     RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	}, nil, discard())
	err := f.Run(context.Background(), func(bool) {})
	if err == nil || !strings.Contains(err.Error(), "giving up after 3") {
		t.Fatalf("got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 3 {
		t.Fatalf("dialed %d times, want 3", hits)
	}
}

func TestAlpacaFeedGivesUpWhenClosedBeforeAuth(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	f := NewAlpacaFeed(AlpacaConfig{
		StreamURL: wsURL(srv),
		Symbols:   []string{"TSLA"},
		Retry:     RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
	}, nil, discard())
	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), func(bool) {}) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "giving up after 2") || !strings.Contains(err.Error(), "before authentication") {
			t.Fatalf("got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed kept reconnecting")
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Fatalf("dialed %d times, want 2", hits)
	}
}

func TestAlpacaFeedSeedsQuotes(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"symbol":"TSLA","quote":{"bp":1.5,"ap":1.6,"t":"2025-02-14T14:29:59Z"}}`)
	}))
	defer rest.Close()
	srv, _ := fakeStream(t, `[{"T":"success","msg":"authenticated"}]`)
	defer srv.Close()

	f := NewAlpacaFeed(AlpacaConfig{StreamURL: wsURL(srv), Symbols: []string{"TSLA"}},
		NewClient(rest.URL, "k", "s", discard()), discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx, func(bool) {}) }()

	select {
	case ev := <-f.Events():
		if ev.Kind != market.KindQuote || ev.Quote.Bid != 1.5 || ev.Quote.Ask != 1.6 {
			t.Fatalf("seed got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no seed quote")
	}
}

func TestClientLatestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/quotes/latest" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("APCA-API-KEY-ID") != "id" || r.Header.Get("APCA-API-SECRET-KEY") != "sec" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"symbol":"AAPL","quote":{"bp":189.5,"ap":189.52,"t":"2025-02-14T14:30:00.5Z"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "id", "sec", discard())
	q, at, err := c.LatestQuote(context.Background(), " aapl")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if q.Bid != 189.5 || q.Ask != 189.52 || at.IsZero() {
		t.Fatalf("got %+v at %v", q, at)
	}

	var logs strings.Builder
	debug := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bad := NewClient(srv.URL, "id", "wrong", debug)
	if _, _, err := bad.LatestQuote(context.Background(), "AAPL"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("want status error, got %v", err)
	}
	if !strings.Contains(logs.String(), "latest quote rejected") || !strings.Contains(logs.String(), "forbidden") {
		t.Fatalf("rejection not logged: %q", logs.String())
	}
	if _, _, err := c.LatestQuote(context.Background(), " "); err == nil {
		t.Fatal("empty symbol accepted")
	}
}
