package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB"
	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
)

// Server is a TCP server that exposes GlobalDB cursors.
type Server struct {
	listener   net.Listener
	instance   *GlobalDB.Instance
	identity   core.Identity
	authConfig *AuthConfig
	tlsEnabled bool
	log        *zap.SugaredLogger
	metrics    *metrics
	done       chan struct{}
	wg         sync.WaitGroup
}

type ServerOption func(*Server)

func WithLogger(log *zap.SugaredLogger) ServerOption {
	return func(s *Server) { s.log = log }
}

func withMetrics(m *metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server whose clients write as identity.
func NewServer(instance *GlobalDB.Instance, identity core.Identity, opts ...ServerOption) *Server {
	s := &Server{
		instance: instance,
		identity: identity,
		log:      zap.NewNop().Sugar(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServerWithAuth creates a server that requires every client to
// authenticate. Clients write as their authenticated identity.
func NewServerWithAuth(instance *GlobalDB.Instance, authConfig *AuthConfig, opts ...ServerOption) *Server {
	s := NewServer(instance, core.Identity{}, opts...)
	s.authConfig = authConfig
	return s
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.log.Infow("Server listening", "addr", listener.Addr().String())

	go s.acceptLoop()
	return nil
}

// StartTLS is Start with TLS using the given certificate and key files.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to start TLS server: %w", err)
	}
	s.listener = listener
	s.tlsEnabled = true

	s.log.Infow("Server listening", "addr", listener.Addr().String(), "tls", true)

	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) TLSEnabled() bool {
	return s.tlsEnabled
}

func (s *Server) authRequired() bool {
	return s.authConfig != nil && s.authConfig.Enabled
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Warnw("Accept error", "err", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	remote := nc.RemoteAddr().String()
	s.log.Infow("Client connected", "remote", remote)
	s.metrics.clientConnected()
	defer s.metrics.clientDisconnected()

	sess := newSession(s, nc)
	defer sess.close()

	// Closing the connection unblocks the read below on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.done:
			nc.Close()
		case <-stop:
		}
	}()

	reader := bufio.NewReader(nc)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				select {
				case <-s.done:
				default:
					s.log.Warnw("Read error", "remote", remote, "err", err)
				}
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		if lower == "quit" || lower == "exit" {
			s.log.Infow("Client disconnected", "remote", remote)
			return
		}

		resp, reply := Response{}, true
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "AUTH "):
			resp = s.handleAuth(line, sess)
		case s.authRequired() && !sess.state.IsAuthenticated():
			resp = Response{Success: false, Type: TypeAuth, Error: "authentication required"}
		case s.authRequired() && sess.state.Expired(time.Now()):
			sess.state.authenticated = false
			resp = Response{Success: false, Type: TypeAuth, Error: "authentication required: token expired"}
		default:
			req, err := DecodeRequest([]byte(line))
			if err != nil {
				resp = failure(0, fmt.Errorf("invalid request: %w", err))
				break
			}
			resp, reply = sess.handle(req)
		}
		if !reply {
			continue
		}

		if err := sess.send(resp); err != nil {
			s.log.Warnw("Write error", "remote", remote, "err", err)
			return
		}
	}
}

// connOptions configures the connections opened for clients.
func (s *Server) connOptions() []conn.Option {
	opts := []conn.Option{conn.WithLogger(s.log)}
	if s.metrics != nil {
		opts = append(opts, conn.WithListener(s.metrics.listener()))
	}
	return opts
}
