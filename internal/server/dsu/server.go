// Package dsu runs the cemuhook UDP server: it answers Version, Pad Info
// and Pad Data requests and pushes fresh pad data to every client that has
// asked for it.
package dsu

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isaacs-12/nso-gc-bridge/controller"
	"github.com/isaacs-12/nso-gc-bridge/dsu"
	"github.com/isaacs-12/nso-gc-bridge/internal/log"
)

// Pad is one attached controller slot. Transports publish decoded states
// into it; the server drains it when building outgoing packets.
type Pad struct {
	id       byte
	connType byte
	counter  uint32
	latch    controller.Latch
}

// ID returns the pad slot id (0-3).
func (p *Pad) ID() byte { return p.id }

// Publish stores a freshly decoded controller state.
func (p *Pad) Publish(st controller.State) { p.latch.Update(st) }

// Snapshot returns the current effective state without consuming latched
// presses.
func (p *Pad) Snapshot() controller.State { return p.latch.Snapshot() }

// buildPacket drains the latch into a Pad Data packet. The per-pad counter
// is strictly increasing and wraps at 2^32.
func (p *Pad) buildPacket(serverID uint32) []byte {
	n := atomic.AddUint32(&p.counter, 1)
	return dsu.BuildPadData(serverID, p.id, p.connType, n, p.latch.BuildAndClear())
}

// Server is the DSU protocol server. One instance is shared by all
// controller pipelines.
type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger
	serverID  uint32

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	conn *net.UDPConn
	port int

	mu       sync.Mutex
	pads     map[byte]*Pad
	clients  map[string]*net.UDPAddr
	lastPush time.Time
}

// New creates a DSU server. A zero ServerID in the config is replaced with
// a random one.
func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	id := config.ServerID
	if id == 0 {
		var b [4]byte
		_, _ = rand.Read(b[:])
		id = binary.LittleEndian.Uint32(b[:])
	}
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		serverID:  id,
		ready:     make(chan struct{}),
		pads:      make(map[byte]*Pad),
		clients:   make(map[string]*net.UDPAddr),
	}
}

// AttachPad registers a controller slot. Pad ids must be unique per server.
func (s *Server) AttachPad(padID, connType byte) (*Pad, error) {
	if padID >= dsu.MaxSlots {
		return nil, fmt.Errorf("pad id %d out of range 0-%d", padID, dsu.MaxSlots-1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pads[padID]; ok {
		return nil, fmt.Errorf("pad %d already attached", padID)
	}
	p := &Pad{id: padID, connType: connType}
	s.pads[padID] = p
	return p, nil
}

// Pad returns the pad attached at the given slot, or nil.
func (s *Server) Pad(padID byte) *Pad {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pads[padID]
}

// Ready returns a channel closed once the server has bound its socket.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Port returns the UDP port actually bound. Valid after Ready.
func (s *Server) Port() int { return s.port }

// Close stops the server by closing its socket. Safe to call more than
// once; the socket is closed exactly once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// ListenAndServe binds the UDP socket, walking the fallback port range if
// the base port is taken, then runs the receive/push loop until Close.
func (s *Server) ListenAndServe() error {
	ip := net.ParseIP(s.config.Host)
	if ip == nil {
		return fmt.Errorf("invalid DSU host %q", s.config.Host)
	}

	var bindErr error
	for k := 0; k <= s.config.PortFallbacks; k++ {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: s.config.Port + k})
		if err != nil {
			bindErr = err
			continue
		}
		s.conn = conn
		s.port = conn.LocalAddr().(*net.UDPAddr).Port
		break
	}
	if s.conn == nil {
		return fmt.Errorf("no free DSU port in %d-%d: %w",
			s.config.Port, s.config.Port+s.config.PortFallbacks, bindErr)
	}

	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("DSU server listening", "host", s.config.Host, "port", s.port, "serverID", s.serverID)

	buf := make([]byte, 1024)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("DSU server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.pushPads()
				continue
			}
			s.logger.Error("DSU read error", "error", err)
			continue
		}

		s.rawLogger.Log("dsu<-"+addr.String(), buf[:n])
		s.handleDatagram(buf[:n], addr)
		s.pushPads()
	}
}

func (s *Server) handleDatagram(pkt []byte, addr *net.UDPAddr) {
	req, err := dsu.ParseRequest(pkt)
	if err != nil {
		s.logger.Log(context.Background(), log.LevelTrace, "Ignoring datagram", "remote", addr.String(), "error", err)
		return
	}

	switch req.Type {
	case dsu.MsgTypeVersion:
		s.send(dsu.BuildVersionResponse(req.ClientID), addr)

	case dsu.MsgTypePadInfo:
		s.handlePadInfo(req, addr)

	case dsu.MsgTypePadData:
		s.handlePadData(req, addr)

	default:
		s.logger.Debug("Unknown DSU message type", "type", fmt.Sprintf("%#x", req.Type), "remote", addr.String())
	}
}

func (s *Server) handlePadInfo(req *dsu.Request, addr *net.UDPAddr) {
	if len(req.Payload) < 4 {
		return
	}
	count := int(int32(binary.LittleEndian.Uint32(req.Payload)))
	if count < 0 || count > dsu.MaxSlots || len(req.Payload) < 4+count {
		return
	}

	for i := 0; i < count; i++ {
		slot := req.Payload[4+i]
		status := dsu.SlotStatus{PadID: slot}
		s.mu.Lock()
		if p, ok := s.pads[slot]; ok {
			status.Connected = true
			status.ConnType = p.connType
		}
		s.mu.Unlock()
		s.send(dsu.BuildPadInfoResponse(req.ClientID, status), addr)
	}
}

func (s *Server) handlePadData(req *dsu.Request, addr *net.UDPAddr) {
	// Payload: registration flags, slot, mac[6]. The sender becomes a
	// known client and is served every subsequent push.
	s.mu.Lock()
	s.clients[addr.String()] = addr
	s.mu.Unlock()

	if len(req.Payload) < 2 {
		return
	}
	slot := req.Payload[1]
	s.mu.Lock()
	p := s.pads[slot]
	s.mu.Unlock()
	if p == nil {
		return
	}
	s.send(p.buildPacket(s.serverID), addr)
}

// pushPads sends the latest state of every pad to every known client, at
// most once per PushInterval.
func (s *Server) pushPads() {
	s.mu.Lock()
	if time.Since(s.lastPush) < s.config.PushInterval {
		s.mu.Unlock()
		return
	}
	s.lastPush = time.Now()
	pads := make([]*Pad, 0, len(s.pads))
	for _, p := range s.pads {
		pads = append(pads, p)
	}
	clients := make([]*net.UDPAddr, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if len(clients) == 0 {
		return
	}
	for _, p := range pads {
		pkt := p.buildPacket(s.serverID)
		for _, c := range clients {
			if _, err := s.conn.WriteToUDP(pkt, c); err != nil {
				s.logger.Warn("Dropping DSU client", "remote", c.String(), "error", err)
				s.mu.Lock()
				delete(s.clients, c.String())
				s.mu.Unlock()
			}
		}
	}
}

func (s *Server) send(pkt []byte, addr *net.UDPAddr) {
	s.rawLogger.Log("dsu->"+addr.String(), pkt)
	if _, err := s.conn.WriteToUDP(pkt, addr); err != nil {
		s.logger.Warn("DSU send failed", "remote", addr.String(), "error", err)
		s.mu.Lock()
		delete(s.clients, addr.String())
		s.mu.Unlock()
	}
}
