package server

import (
	"fmt"
	"net/http"
	"time"

	"pubsubd/conn"
	"pubsubd/protocol"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StartHTTP serves the WebSocket endpoint and the health/stats pages. The
// WebSocket transport speaks the exact same line protocol as raw TCP; frames
// are carried inside text messages and both pumps are shared via NetConn.
func (s *Server) StartHTTP() error {
	if s.cfg.HTTPPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.WriteTimeout.Duration,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("http sidecar listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) stopHTTP() {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept error")
		return
	}
	ws.SetReadLimit(int64(s.cfg.MaxFrameSize))

	nc := websocket.NetConn(r.Context(), ws, websocket.MessageText)
	c := conn.New(uuid.NewString(), nc, s.cfg.QueueSize, s.cfg.SendBufferSize, nil)

	if !s.hub.Attach(c) {
		nc.Write(protocol.ErrLine("server full"))
		nc.Close()
		return
	}

	go s.writePump(c, nc)
	s.readPump(c, nc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"conns":     s.hub.Registry().ConnCount(),
		"channels":  s.hub.Registry().ChannelCount(),
		"max_conns": s.cfg.MaxConns,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Stats())
}
