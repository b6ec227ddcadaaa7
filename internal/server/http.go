// Package server exposes the optional local HTTP surface: health, the
// effective configuration, the base sound files, a WebSocket stream of
// signals and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ticksonic/internal/config"
	"ticksonic/internal/engine"
	"ticksonic/internal/metrics"
	"ticksonic/internal/sound"
	"ticksonic/internal/state"
)

// SoundFiles lists the base sounds that may be served.
type SoundFiles interface {
	Files() []sound.File
}

type HTTPServer struct {
	cfg config.Config
	st  *state.State
	snd SoundFiles
	hub *hub
	log *slog.Logger
	mux *http.ServeMux
}

func NewHTTPServer(cfg config.Config, st *state.State, snd SoundFiles, logger *slog.Logger) *HTTPServer {
	if snd == nil {
		snd = sound.Silent{}
	}
	s := &HTTPServer{
		cfg: cfg,
		st:  st,
		snd: snd,
		hub: newHub(logger),
		log: logger,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// Serve runs the hub and listens on addr until ctx is done, then shuts down
// gracefully.
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *HTTPServer) serve(ctx context.Context, ln net.Listener) error {
	go s.hub.run(ctx)

	httpSrv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		errc <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// --------- WS broadcasts ----------

type statusFrame struct {
	Connected bool     `json:"connected"`
	Symbols   []string `json:"symbols"`
}

type signalFrame struct {
	Symbol  string   `json:"symbol"`
	Price   float64  `json:"price"`
	Size    int64    `json:"size"`
	Amount  string   `json:"amount"`
	Zone    string   `json:"zone"`
	Big     bool     `json:"big"`
	Sound   string   `json:"sound"`
	Line    string   `json:"line"`
	TimeISO string   `json:"timeISO"`
	Bid     *float64 `json:"bid,omitempty"`
	Ask     *float64 `json:"ask,omitempty"`
}

type errorFrame struct {
	Message string `json:"message"`
}

func (s *HTTPServer) BroadcastStatus() {
	s.hub.publish("", marshalWS("status", statusFrame{
		Connected: s.st.Connected(),
		Symbols:   s.st.Symbols(),
	}))
}

// BroadcastSignal reaches only clients watching the trade's symbol.
func (s *HTTPServer) BroadcastSignal(sig engine.Signal) {
	f := signalFrame{
		Symbol: sig.Trade.Symbol,
		Price:  sig.Trade.Price,
		Size:   sig.Trade.Size,
		Amount: sig.Trade.Amount().StringFixed(2),
		Zone:   sig.Result.Zone.String(),
		Big:    sig.Big,
		Sound:  sig.Sound.String(),
		Line:   sig.Line.String(),
	}
	if !sig.Trade.Time.IsZero() {
		f.TimeISO = sig.Trade.Time.UTC().Format(time.RFC3339Nano)
	}
	if sig.Quote.HasBid() {
		bid := sig.Quote.Bid
		f.Bid = &bid
	}
	if sig.Quote.HasAsk() {
		ask := sig.Quote.Ask
		f.Ask = &ask
	}
	s.hub.publish(f.Symbol, marshalWS("signal", f))
}

func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.publish("", marshalWS("error", errorFrame{Message: msg}))
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	// Sounds
	s.mux.HandleFunc("/sounds/", s.serveSound)

	// WS
	s.mux.HandleFunc("/ws", s.hub.serveWS)

	// API
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/config", s.apiConfig)

	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *HTTPServer) serveSound(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/sounds/")
	for _, f := range s.snd.Files() {
		if filepath.Base(f.Path) != name {
			continue
		}
		// strong caching (1 year) + immutable; URLs carry the content hash
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentType(name))
		http.ServeFile(w, r, f.Path)
		return
	}
	http.NotFound(w, r)
}

func contentType(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".mp3") {
		return "audio/mpeg"
	}
	return "audio/wav"
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":        true,
		"connected": s.st.Connected(),
	}
	if last := s.st.LastEvent(); !last.IsZero() {
		resp["lastEventISO"] = last.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, resp)
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	sounds := map[string]string{}
	for _, f := range s.snd.Files() {
		sounds[f.ID.String()] = f.URL
	}
	writeJSON(w, map[string]any{
		"provider":       s.cfg.Provider,
		"symbols":        s.st.Symbols(),
		"tradeThreshold": s.cfg.TradeThreshold,
		"bigThreshold":   s.cfg.BigThreshold,
		"silent":         s.cfg.Silent,
		"showMid":        s.cfg.ShowMid,
		"timezone":       s.cfg.Timezone,
		"pitch":          map[string]float64{"up": s.cfg.Pitch.Up, "down": s.cfg.Pitch.Down},
		"sounds":         sounds,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
