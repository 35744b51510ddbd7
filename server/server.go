package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pubsubd/config"
	"pubsubd/conn"
	"pubsubd/hub"
	"pubsubd/middleware"
	"pubsubd/protocol"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server accepts transport connections and runs one read pump and one write
// pump per connection. The read pump decodes frames and hands them to the
// hub; the write pump drains the connection's frame queue back to the
// transport. Teardown from either pump funnels into hub.Detach exactly once.
type Server struct {
	cfg     *config.Config
	hub     *hub.Hub
	limiter *middleware.RateLimiter
	log     zerolog.Logger

	mu      sync.Mutex
	ln      net.Listener
	httpSrv *http.Server
}

func New(cfg *config.Config, h *hub.Hub, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		limiter: middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst, cfg.RateLimitShards),
		log:     log,
	}
}

// Listen binds the TCP listener without accepting yet. Useful for tests that
// need the bound address before serving.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start binds and serves until the listener is closed by Shutdown.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve before Listen")
	}

	for {
		tc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(tc)
	}
}

func (s *Server) handleConn(tc net.Conn) {
	c := conn.New(uuid.NewString(), tc, s.cfg.QueueSize, s.cfg.SendBufferSize, nil)

	if !s.hub.Attach(c) {
		tc.Write(protocol.ErrLine("server full"))
		tc.Close()
		return
	}

	go s.writePump(c, tc)
	s.readPump(c, tc)
}

func (s *Server) readPump(c *conn.Conn, tc net.Conn) {
	defer func() {
		s.limiter.Remove(c.ID)
		s.hub.Detach(c)
	}()

	scanner := bufio.NewScanner(tc)
	scanner.Buffer(make([]byte, 0, 4096), s.cfg.MaxFrameSize)

	for scanner.Scan() {
		if !s.limiter.Allow(c.ID) {
			c.WriteFrame(protocol.RateLimitLine)
			continue
		}
		if !s.hub.HandleFrame(c, scanner.Bytes()) {
			return
		}
	}

	if err := scanner.Err(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn().Str("conn", c.ID).Err(err).Msg("read error")
	}
}

func (s *Server) writePump(c *conn.Conn, tc net.Conn) {
	defer tc.Close()

	write := func(frame []byte) error {
		if s.cfg.WriteTimeout.Duration > 0 {
			tc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout.Duration))
		}
		_, err := tc.Write(frame)
		return err
	}

	for {
		frame, ok := <-c.Out()
		if !ok {
			return
		}
		if err := write(frame); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Warn().Str("conn", c.ID).Err(err).Msg("write error")
			}
			return
		}

		// batch drain
		n := len(c.Out())
		for i := 0; i < n; i++ {
			extra, ok := <-c.Out()
			if !ok {
				return
			}
			if err := write(extra); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	// context canceled = normal shutdown
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	// EOF / connection reset / broken pipe
	errStr := err.Error()
	if strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "use of closed") {
		return true
	}
	return false
}

func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Unlock()
	s.stopHTTP()
	s.limiter.Close()
	s.hub.Shutdown()
}
