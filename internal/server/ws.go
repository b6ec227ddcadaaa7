package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"ticksonic/internal/market"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is one encoded message. Frames with an empty symbol (status, errors)
// reach every client; signal frames only reach clients watching the symbol.
type frame struct {
	symbol string
	data   []byte
}

// clientMessage is what a browser may send, e.g.
//
//	{"action":"filter","symbols":["TSLA","AAPL"]}
//
// An empty symbol list clears the filter.
type clientMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type filterRequest struct {
	c       *client
	symbols []string
}

// hub fans signal frames out to connected browsers. Slow clients are dropped
// rather than allowed to stall the broadcaster.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	filter     chan filterRequest
	broadcast  chan frame
	done       chan struct{}
	logger     *slog.Logger
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte

	// owned by hub.run; nil means every symbol
	symbols map[string]bool
}

func (c *client) wants(symbol string) bool {
	return symbol == "" || c.symbols == nil || c.symbols[symbol]
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		filter:     make(chan filterRequest),
		broadcast:  make(chan frame, 1024),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case req := <-h.filter:
			if !h.clients[req.c] {
				continue
			}
			req.c.symbols = nil
			watched := []string{}
			for _, s := range req.symbols {
				if s = market.CanonicalSymbol(s); s == "" {
					continue
				}
				if req.c.symbols == nil {
					req.c.symbols = map[string]bool{}
				}
				if !req.c.symbols[s] {
					req.c.symbols[s] = true
					watched = append(watched, s)
				}
			}
			sort.Strings(watched)
			h.deliver(req.c, marshalWS("filter", map[string][]string{"symbols": watched}))
		case f := <-h.broadcast:
			for c := range h.clients {
				if c.wants(f.symbol) {
					h.deliver(c, f.data)
				}
			}
		}
	}
}

// deliver queues msg for c, dropping the client when its buffer is full.
func (h *hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Debug("ws client too slow; dropping")
		close(c.send)
		delete(h.clients, c)
	}
}

// publish queues a frame without blocking; frames are dropped when the hub
// is saturated or stopped.
func (h *hub) publish(symbol string, msg []byte) {
	select {
	case h.broadcast <- frame{symbol: symbol, data: msg}:
	default:
		h.logger.Debug("ws broadcast dropped", slog.String("symbol", symbol))
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout:  10 * time.Second,
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	CheckOrigin:       func(r *http.Request) bool { return true }, // local dashboard
	EnableCompression: true,
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil || m.Action != "filter" {
			c.hub.logger.Debug("ws message ignored", slog.Int("bytes", len(data)))
			continue
		}
		select {
		case c.hub.filter <- filterRequest{c: c, symbols: m.Symbols}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}
