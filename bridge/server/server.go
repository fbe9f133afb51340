/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package server accepts attestation requests from the parent instance and answers them
// with documents obtained from the NSM.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/edgelesssys/nsmbridge/bridge/events"
	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/bridge/nsm"
	"github.com/edgelesssys/nsmbridge/bridge/protocol"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config configures how connections are served.
type Config struct {
	// Framing selects how messages are delimited on a connection.
	Framing framing.Mode
	// BufferSize is the maximum size of a single message.
	BufferSize int
	// ReadTimeout ends a session if no message arrives in time. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout ends a session if a response cannot be written in time. Zero disables it.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config treating every read of up to 8 KiB as one message.
func DefaultConfig() Config {
	return Config{
		Framing:    framing.Raw,
		BufferSize: 8192,
	}
}

// Server answers attestation requests. Connections are served one at a time.
type Server struct {
	attester nsm.Attester
	cfg      Config
	log      *zap.Logger
	metrics  *serverMetrics
	eventlog *events.Log

	mut    sync.Mutex
	active net.Conn
}

// New creates a new Server. promFactory and eventlog may be nil.
func New(attester nsm.Attester, cfg Config, log *zap.Logger, promFactory *promauto.Factory, eventlog *events.Log) (*Server, error) {
	if _, err := framing.ParseMode(string(cfg.Framing)); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", cfg.BufferSize)
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return nil, errors.New("timeouts must not be negative")
	}
	return &Server{
		attester: attester,
		cfg:      cfg,
		log:      log,
		metrics:  newServerMetrics(promFactory, "nsmbridge", "server"),
		eventlog: eventlog,
	}, nil
}

// Serve accepts connections on lis and serves them sequentially.
// It returns nil once ctx is done, closing lis and the active connection.
// If lis is closed otherwise, the accept error is returned.
// Other accept errors are logged and retried.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = lis.Close()
		s.closeActive()
	})
	defer stop()

	s.log.Info("Listening for attestation requests", zap.String("address", lis.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Stopping server")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
				return err
			}
			s.metrics.acceptErrors.Inc()
			backoff = nextBackoff(backoff)
			s.log.Error("Failed to accept connection", zap.Error(err), zap.Duration("retryIn", backoff))
			select {
			case <-ctx.Done():
				s.log.Info("Stopping server")
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		s.serveConn(ctx, conn)
	}
}

func nextBackoff(backoff time.Duration) time.Duration {
	if backoff == 0 {
		return minAcceptBackoff
	}
	return min(2*backoff, maxAcceptBackoff)
}

func (s *Server) setActive(conn net.Conn) {
	s.mut.Lock()
	s.active = conn
	s.mut.Unlock()
}

func (s *Server) closeActive() {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.active != nil {
		_ = s.active.Close()
	}
}

// serveConn handles messages on conn until the peer disconnects or an I/O error occurs.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	sessionID := uuid.NewString()
	log := s.log.With(zap.String("sessionID", sessionID), zap.Stringer("remoteAddr", conn.RemoteAddr()))
	log.Info("Accepted connection")
	s.metrics.connections.Inc()

	s.setActive(conn)
	defer func() {
		s.setActive(nil)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("Closing connection failed", zap.Error(err))
		}
		log.Info("Connection closed")
	}()
	if ctx.Err() != nil {
		return
	}

	fc, err := framing.New(s.cfg.Framing, conn, s.cfg.BufferSize)
	if err != nil {
		log.Error("Creating message framing failed", zap.Error(err))
		return
	}

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		msg, err := fc.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("Peer closed the connection")
			case errors.Is(err, os.ErrDeadlineExceeded):
				log.Info("No request received before read timeout", zap.Duration("timeout", s.cfg.ReadTimeout))
			case ctx.Err() != nil:
				log.Info("Closing connection on shutdown")
			default:
				log.Error("Reading request failed", zap.Error(err))
			}
			return
		}
		log.Debug("Received message", zap.Int("bytes", len(msg)))

		resp := s.handle(log, sessionID, msg)

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := fc.WriteMessage(resp); err != nil {
			log.Error("Writing response failed", zap.Error(err))
			return
		}
		log.Debug("Sent response", zap.Int("bytes", len(resp)))
	}
}

// Handle processes a single request message and returns the encoded response.
// It never fails: errors are reported to the caller in the response.
func (s *Server) Handle(msg []byte) []byte {
	return s.handle(s.log, "", msg)
}

func (s *Server) handle(log *zap.Logger, sessionID string, msg []byte) []byte {
	event := events.AttestationEvent{SessionID: sessionID}
	resp, result := s.process(log, msg, &event)

	event.Result = result
	s.metrics.requests.WithLabelValues(result).Inc()
	if s.eventlog != nil {
		s.eventlog.Attestation(event)
	}

	data, err := protocol.Marshal(resp)
	if err != nil {
		// responses only consist of strings
		panic(err)
	}
	return data
}

func (s *Server) process(log *zap.Logger, msg []byte, event *events.AttestationEvent) (any, string) {
	req, err := protocol.ParseRequest(msg)
	if err != nil {
		log.Info("Received invalid request", zap.Error(err))
		return errorResponse(err), resultInvalidJSON
	}

	userData, err := req.DecodeUserData()
	if err != nil {
		log.Info("Received invalid user data", zap.Error(err))
		return errorResponse(err), resultInvalidUserData
	}
	event.UserDataLen = len(userData)

	nonce, err := req.DecodeNonce()
	if err != nil {
		log.Info("Received invalid nonce", zap.Error(err))
		return errorResponse(err), resultInvalidNonce
	}
	event.NonceLen = len(nonce)
	log.Debug("Decoded request", zap.Int("userDataLen", len(userData)), zap.Int("nonceLen", len(nonce)))

	start := time.Now()
	doc, err := s.attester.Attest(userData, nonce)
	s.metrics.nsmDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Requesting attestation document failed", zap.Error(err))
		return protocol.NSMError(err), resultNSMError
	}
	event.DocumentLen = len(doc)
	log.Info("Obtained attestation document", zap.Int("documentLen", len(doc)))

	return protocol.NewResponse(doc), resultSuccess
}

func errorResponse(err error) protocol.ErrorResponse {
	var reqErr *protocol.Error
	if errors.As(err, &reqErr) {
		return reqErr.Response()
	}
	return protocol.ErrorResponse{Error: protocol.CategoryInvalidJSON, Message: err.Error()}
}
