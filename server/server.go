package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnaka91/go-oscdispatch/osc"
	"github.com/dnaka91/go-oscdispatch/space"
)

// Possible errors while sending packets.
var (
	ErrNotRunning    = errors.New("server is not running")
	ErrNoDestination = errors.New("packet has no peer address")
	ErrQueueFull     = errors.New("transmit queue is full")
)

// queueItem travels on the receive and transmit queues. Nil data marks the
// shutdown sentinel.
type queueItem struct {
	data    []byte
	addr    net.Addr
	timetag osc.TimeTag
}

// Server is an OSC client/server over UDP. Received datagrams are parsed
// and dispatched to the address space through the Handler; outgoing packets
// are built and written from a transmit queue.
type Server struct {
	cfg     Config
	space   *space.AddressSpace
	handler *Handler
	stats   *Stats

	mu      sync.Mutex
	running bool
	conn    net.PacketConn
	rx      chan queueItem
	tx      chan queueItem
	eg      *errgroup.Group
}

// NewServer creates a Server with the given config. A nil address space
// creates an empty one.
func NewServer(cfg Config, sp *space.AddressSpace) *Server {
	cfg.SetDefaults()
	if sp == nil {
		sp = space.NewAddressSpace()
	}

	stats := NewStats()
	handler := NewHandler(sp)
	handler.stats = stats

	return &Server{
		cfg:     cfg,
		space:   sp,
		handler: handler,
		stats:   stats,
	}
}

// AddressSpace returns the address space associated with the server.
func (s *Server) AddressSpace() *space.AddressSpace { return s.space }

// Handler returns the dispatch engine of the server.
func (s *Server) Handler() *Handler { return s.handler }

// Stats returns the server counters.
func (s *Server) Stats() *Stats { return s.stats }

// LocalAddr returns the bound address, or nil when the server was never
// opened.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// Open binds the UDP endpoint and starts the receive, transmit and dispatch
// loops. It is a no-op when already running.
func (s *Server) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	conn, err := net.ListenPacket("udp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}

	s.conn = conn
	s.rx = make(chan queueItem, s.cfg.QueueSize)
	s.tx = make(chan queueItem, s.cfg.QueueSize)
	s.running = true

	s.handler.Open()
	if s.cfg.MonitoringPort != 0 {
		s.stats.Start(s.cfg.MonitoringPort)
	}

	s.eg = &errgroup.Group{}
	s.eg.Go(s.readLoop)
	s.eg.Go(s.rxLoop)
	s.eg.Go(s.txLoop)

	log.Infof("listening on %s", conn.LocalAddr())

	return nil
}

// Close stops all loops with sentinel values, closes the endpoint and waits
// for the background tasks to exit. Close is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn, eg := s.conn, s.eg
	s.mu.Unlock()

	s.handler.Close()

	err := conn.Close()
	s.rx <- queueItem{}
	s.tx <- queueItem{}

	if werr := eg.Wait(); werr != nil && err == nil {
		err = werr
	}

	return err
}

// SendPacket builds the given packet and places it on the transmit queue.
// The packet's peer address is used as the destination. Build errors are
// returned to the caller; a full queue fails with ErrQueueFull instead of
// blocking.
func (s *Server) SendPacket(p osc.Packet) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	data, err := p.BuildPacket()
	if err != nil {
		return err
	}

	var addr net.Addr
	switch pkt := p.(type) {
	case *osc.Message:
		addr = pkt.Peer
	case *osc.Bundle:
		addr = pkt.Peer
	}
	if addr == nil {
		return ErrNoDestination
	}

	select {
	case s.tx <- queueItem{data: data, addr: addr, timetag: osc.Now()}:
		return nil
	default:
		s.stats.IncDropped()
		return ErrQueueFull
	}
}

// readLoop receives datagrams from the endpoint and places them on the
// receive queue without blocking; items are dropped when the queue is full.
func (s *Server) readLoop() error {
	buf := make([]byte, s.cfg.BufSize)

	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("failed to read from the UDP connection: %v", err)
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		item := queueItem{data: data, addr: addr, timetag: osc.Now()}

		select {
		case s.rx <- item:
			s.stats.IncReceived()
		default:
			s.stats.IncDropped()
			log.Warnf("receive queue full, dropping %d byte datagram from %s", n, addr)
		}
	}
}

// rxLoop parses received items and hands the packets to the dispatch
// engine. A codec error aborts only the current datagram; the remaining
// bytes after the first bad packet are discarded.
func (s *Server) rxLoop() error {
	for item := range s.rx {
		if item.data == nil {
			return nil
		}

		remaining := item.data
		for len(remaining) > 0 {
			packet, rest, err := osc.ParsePacket(remaining)
			if err != nil {
				s.stats.IncParseError()
				log.Warnf("failed to parse packet from %s: %v", item.addr, err)
				break
			}

			switch pkt := packet.(type) {
			case *osc.Message:
				pkt.Peer = item.addr
			case *osc.Bundle:
				pkt.Peer = item.addr
			}

			s.handler.HandlePacket(packet, item.timetag)
			remaining = rest
		}
	}

	return nil
}

// txLoop writes outgoing items to the endpoint.
func (s *Server) txLoop() error {
	for item := range s.tx {
		if item.data == nil {
			return nil
		}

		if _, err := s.conn.WriteTo(item.data, item.addr); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Errorf("failed to send %d bytes to %s: %v", len(item.data), item.addr, err)
			}
			continue
		}
		s.stats.IncSent()
	}

	return nil
}
