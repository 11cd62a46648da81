// Package server is the TCP harness: it accepts sockets, hands each one
// to a bounded worker pool running the session loop, and drains in-flight
// sessions on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/alitto/pond"
	"go.uber.org/zap"

	"github.com/quantegy/ordergate/params"
	"github.com/quantegy/ordergate/pkg/auth"
	"github.com/quantegy/ordergate/pkg/engine"
	"github.com/quantegy/ordergate/pkg/metrics"
)

type Server struct {
	cfg     params.Server
	engine  *engine.Engine
	auth    *auth.Verifier
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	listener net.Listener
	pool     *pond.WorkerPool
}

func New(cfg params.Server, eng *engine.Engine, verifier *auth.Verifier,
	log *zap.SugaredLogger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		auth:    verifier,
		log:     log,
		metrics: m,
		pool:    pond.New(cfg.SessionWorkers, cfg.SessionBacklog),
	}
}

// Addr returns the bound listen address, useful when cfg asked for :0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the TCP listener without accepting yet, so callers can
// learn the address before starting Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	return nil
}

// Serve accepts until ctx cancels, then stops taking new connections and
// waits for in-flight sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Infow("server_listening", "addr", s.listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warnw("accept_failed", "err", err)
			continue
		}
		sess := &session{
			conn:    conn,
			engine:  s.engine,
			auth:    s.auth,
			cfg:     s.cfg,
			log:     s.log,
			metrics: s.metrics,
		}
		s.pool.Submit(func() { sess.run(ctx) })
	}

	s.log.Infow("server_draining", "running", s.pool.RunningWorkers())
	s.pool.StopAndWait()
	s.log.Infow("server_stopped")
	return nil
}
