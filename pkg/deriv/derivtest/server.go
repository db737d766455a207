// Package derivtest runs an in-process venue websocket for tests.
package derivtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Handler answers one request; returning nil sends no reply.
type Handler func(req map[string]any) map[string]any

// Server is a scriptable fake of the venue protocol.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	conns    []*websocket.Conn
	requests []map[string]any
	accepted atomic.Int32
	upgrader websocket.Upgrader
}

// NewServer starts a server with default handlers for authorize, balance and ticks.
func NewServer() *Server {
	s := &Server{handlers: make(map[string]Handler)}
	s.Handle("authorize", func(req map[string]any) map[string]any {
		if tok, _ := req["authorize"].(string); tok == "bad-token" {
			return ErrorReply("InvalidToken", "The token is invalid.")
		}
		return map[string]any{"authorize": map[string]any{"loginid": "VRTC1", "currency": "USD", "balance": 10000.0, "is_virtual": 1}}
	})
	s.Handle("balance", func(map[string]any) map[string]any {
		return map[string]any{"balance": map[string]any{"balance": 10000.0, "currency": "USD"}}
	})
	s.Handle("ticks", func(req map[string]any) map[string]any {
		return map[string]any{"subscription": map[string]any{"id": "sub-" + req["ticks"].(string)}}
	})
	s.Handle("forget", func(map[string]any) map[string]any { return map[string]any{"forget": 1} })
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Handle installs the handler for requests carrying key.
func (s *Server) Handle(key string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
}

// ErrorReply builds a venue error response.
func ErrorReply(code, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": msg}}
}

// Connections returns the number of sessions accepted so far.
func (s *Server) Connections() int { return int(s.accepted.Load()) }

// Requests returns every request received, in order.
func (s *Server) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.requests...)
}

// PushTick sends a tick to every open session.
func (s *Server) PushTick(symbol string, epoch int64, quote float64) {
	s.broadcast(map[string]any{
		"msg_type":     "tick",
		"tick":         map[string]any{"symbol": symbol, "epoch": epoch, "quote": quote},
		"subscription": map[string]any{"id": "sub-" + symbol},
	})
}

// DropAll closes every open session abruptly.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) broadcast(msg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteJSON(msg)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.accepted.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		var h Handler
		var key string
		for k := range req {
			if hh, ok := s.handlers[k]; ok {
				h, key = hh, k
				break
			}
		}
		s.mu.Unlock()
		if h == nil {
			continue
		}

		resp := h(req)
		if resp == nil {
			continue
		}
		resp["req_id"] = req["req_id"]
		resp["echo_req"] = req
		if _, ok := resp["msg_type"]; !ok {
			resp["msg_type"] = key
		}
		s.mu.Lock()
		_ = conn.WriteJSON(resp)
		s.mu.Unlock()
	}
}
