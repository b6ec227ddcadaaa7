package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticksonic/internal/market"
)

// Client talks to the Alpaca market-data REST API. It is used to seed the
// quote cache so the first trades after connecting are not quote-less.
type Client struct {
	baseURL string
	keyID   string
	secret  string
	httpc   *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, keyID, secret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		keyID:   keyID,
		secret:  secret,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("%s%s", c.baseURL, p)
}

type latestQuoteResponse struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		Bid  float64 `json:"bp"`
		Ask  float64 `json:"ap"`
		Time string  `json:"t"`
	} `json:"quote"`
}

// LatestQuote fetches the current NBBO for symbol.
func (c *Client) LatestQuote(ctx context.Context, symbol string) (market.Quote, time.Time, error) {
	sym := market.CanonicalSymbol(symbol)
	if sym == "" {
		return market.Quote{}, time.Time{}, errors.New("empty symbol")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v2/stocks/"+url.PathEscape(sym)+"/quotes/latest"), nil)
	if err != nil {
		return market.Quote{}, time.Time{}, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return market.Quote{}, time.Time{}, fmt.Errorf("data api unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.logger.Debug("latest quote rejected",
			slog.String("symbol", sym),
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return market.Quote{}, time.Time{}, fmt.Errorf("latest quote %s: status %d", sym, resp.StatusCode)
	}

	var v latestQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return market.Quote{}, time.Time{}, fmt.Errorf("decode latest quote: %w", err)
	}
	return market.Quote{Bid: v.Quote.Bid, Ask: v.Quote.Ask}, parseTime(v.Quote.Time), nil
}

// parseTime accepts RFC 3339 with any fractional precision; anything else
// yields the zero time, which the display renders as an invalid timestamp.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
