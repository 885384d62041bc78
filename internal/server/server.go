// Package server runs the TCP accept loop: one decode-and-publish goroutine
// per connection, feeding decoded events onto the Bus.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/codec"
	"github.com/tanayshah11/mercury-stream/internal/metrics"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Server binds HOST:PORT and fans decoded events into the Bus.
type Server struct {
	addr string
	bus  *bus.Bus
	log  zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// New builds a Server bound to addr once Serve is called.
func New(addr string, b *bus.Bus, log zerolog.Logger) *Server {
	return &Server{addr: addr, bus: b, log: log}
}

// Serve binds the listener and accepts connections until ctx is canceled.
// It blocks until every connection handler has returned or the shutdown
// deadline passes, whichever comes first.
func (s *Server) Serve(ctx context.Context, shutdownDeadline time.Duration) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info().Str("addr", s.addr).Msg("listening")

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownDeadline):
		s.log.Warn().Msg("shutdown deadline exceeded, connections still draining")
		return nil
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	dec := codec.NewDecoder(conn, codec.MaxFrame)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := dec.Next()
		if err != nil {
			if errors.Is(err, codec.ErrStreamClosed) {
				return
			}
			var frameErr *codec.FrameError
			if errors.As(err, &frameErr) {
				s.log.Warn().Err(err).Str("peer", peer).Msg("malformed frame, closing connection")
			} else {
				s.log.Debug().Err(err).Str("peer", peer).Msg("connection read error")
			}
			return
		}

		recvTsMs := time.Now().UnixMilli()
		t, err := ticker.Decode(payload, recvTsMs)
		if err != nil {
			var syn *json.SyntaxError
			s.log.Warn().Err(err).Bool("syntax_error", errors.As(err, &syn)).Str("peer", peer).Msg("malformed json, closing connection")
			return
		}

		metrics.EventsTotal.Inc()
		s.bus.Publish(t)
	}
}
