package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Server accepts TCP connections for one simulated instrument and hands
// each to the instrument's protocol on its own goroutine.
type Server struct {
	name              string
	proto             Protocol
	listener          net.Listener
	stopChan          chan struct{}
	activeConnections map[string]net.Conn
	connectionsMutex  sync.RWMutex
	wg                sync.WaitGroup
	metrics           *Metrics
	logger            *slog.Logger
}

// NewServer creates a server for inst.
func NewServer(inst Instrument, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:              inst.Name(),
		proto:             inst,
		stopChan:          make(chan struct{}),
		activeConnections: make(map[string]net.Conn),
		logger:            logger,
	}
}

// SetMetrics attaches connection gauges.
func (s *Server) SetMetrics(m *Metrics) { s.metrics = m }

// Listen binds addr. Use port 0 for an ephemeral port.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("simulated instrument listening", "instrument", s.name, "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// ListenAndServe binds addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on a bound listener until Close.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept connection", "instrument", s.name, "error", err)
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	s.logger.Debug("client connected", "instrument", s.name, "client", conn.RemoteAddr().String())
	s.proto.Serve(conn)
	s.logger.Debug("client disconnected", "instrument", s.name, "client", conn.RemoteAddr().String())
}

func (s *Server) track(conn net.Conn, open bool) {
	key := conn.RemoteAddr().String()
	s.connectionsMutex.Lock()
	defer s.connectionsMutex.Unlock()
	if open {
		s.activeConnections[key] = conn
		s.metrics.connected(s.name, 1)
		return
	}
	if _, ok := s.activeConnections[key]; ok {
		delete(s.activeConnections, key)
		s.metrics.connected(s.name, -1)
	}
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.connectionsMutex.RLock()
	defer s.connectionsMutex.RUnlock()
	return len(s.activeConnections)
}

// Close stops accepting, drops open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.connectionsMutex.RLock()
	for _, conn := range s.activeConnections {
		conn.Close()
	}
	s.connectionsMutex.RUnlock()
	s.wg.Wait()
	return err
}
