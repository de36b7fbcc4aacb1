package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"
)

// Socket buffer sizes for burst handling (4MB each).
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// DefaultWorkersPerSocket is the default number of worker goroutines per
// UDP socket.
const DefaultWorkersPerSocket = 256

// maxUDPMessageSize bounds a received datagram. Queries are small; anything
// near this size is already garbage, but the buffer must fit EDNS-sized
// messages.
const maxUDPMessageSize = 4096

// bufferPool reduces allocations for incoming UDP packets.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, maxUDPMessageSize)
		return &buf
	},
}

// UDPServer serves DNS queries over UDP.
//
// One socket is bound per CPU core with SO_REUSEPORT so the kernel spreads
// incoming packets across them without userspace coordination. Each socket
// gets one receiver goroutine and a fixed pool of workers; the receiver
// never blocks on the workers, dropping packets instead, which keeps the
// receive path fast when overloaded (the client retries, as UDP clients
// must anyway).
type UDPServer struct {
	Logger           *slog.Logger
	Handler          *QueryHandler
	WorkersPerSocket int

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

// packet is one received datagram pending processing.
type packet struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run binds the sockets and serves until the context is cancelled.
// Returns an error if socket creation fails, or if the goroutines do not
// exit within the shutdown timeout.
func (s *UDPServer) Run(ctx context.Context, addr string) error {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	s.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenUDPReusePort(ctx, addr)
		if err != nil {
			for _, c := range s.conns {
				_ = c.Close()
			}
			return err
		}

		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)

		s.conns = append(s.conns, conn)
		s.startWorkers(ctx, conn)
	}

	<-ctx.Done()
	return s.Stop(5 * time.Second)
}

// RunOnConn serves on an existing UDP connection. Used by tests and callers
// that manage the socket themselves.
func (s *UDPServer) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}
	s.conns = []*net.UDPConn{conn}
	s.startWorkers(ctx, conn)
	<-ctx.Done()
	return nil
}

// startWorkers spawns the receiver and the worker pool for one socket.
func (s *UDPServer) startWorkers(ctx context.Context, conn *net.UDPConn) {
	packetCh := make(chan packet, s.WorkersPerSocket*2)

	s.wg.Go(func() {
		s.recvLoop(ctx, conn, packetCh)
	})
	for range s.WorkersPerSocket {
		s.wg.Go(func() {
			s.workerLoop(ctx, conn, packetCh)
		})
	}
}

// recvLoop reads datagrams and hands them to the worker pool without ever
// blocking on it.
func (s *UDPServer) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- packet) {
	for {
		bufPtr := bufferPool.Get().(*[]byte)

		n, peer, err := conn.ReadFromUDP(*bufPtr)
		if err != nil {
			bufferPool.Put(bufPtr)
			// Shutdown or closed socket either way.
			return
		}

		select {
		case out <- packet{bufPtr, n, peer}:
		default:
			// All workers busy; drop to keep the receive path fast.
			bufferPool.Put(bufPtr)
		}
	}
}

func (s *UDPServer) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			s.handlePacket(ctx, conn, pkt)
		}
	}
}

// handlePacket decodes one datagram, runs the handler, and writes the reply.
func (s *UDPServer) handlePacket(ctx context.Context, conn *net.UDPConn, p packet) {
	defer bufferPool.Put(p.bufPtr)

	if s.Handler == nil {
		return
	}

	req := new(dns.Msg)
	if err := req.Unpack((*p.bufPtr)[:p.n]); err != nil {
		if resp := formatErrorFromRaw((*p.bufPtr)[:p.n]); resp != nil {
			s.send(ctx, conn, p.peer, resp)
		}
		return
	}

	resp := s.Handler.Handle(ctx, req)
	if resp == nil {
		return
	}
	resp.Truncate(clientUDPSize(req))
	s.send(ctx, conn, p.peer, resp)
}

// send packs and writes one reply. A reply that cannot be packed or written
// is logged and abandoned; there is nothing more to do for that request.
func (s *UDPServer) send(ctx context.Context, conn *net.UDPConn, peer *net.UDPAddr, resp *dns.Msg) {
	out, err := resp.Pack()
	if err != nil {
		if s.Logger != nil {
			s.Logger.ErrorContext(ctx, "failed to pack udp response", "err", err)
		}
		return
	}
	if _, err := conn.WriteToUDP(out, peer); err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "failed to send udp response", "peer", peer.String(), "err", err)
		}
	}
}

// Stop closes the sockets and waits up to timeout for goroutines to exit.
func (s *UDPServer) Stop(timeout time.Duration) error {
	for _, c := range s.conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp server: timeout waiting for goroutines to exit")
	}
}

// clientUDPSize returns the reply size the client can accept: its EDNS
// advertised payload size when present, else the classic 512 bytes. The
// forwarder echoes no OPT record of its own; this only bounds truncation.
func clientUDPSize(req *dns.Msg) int {
	if opt := req.IsEdns0(); opt != nil {
		if size := int(opt.UDPSize()); size >= dns.MinMsgSize {
			return min(size, maxUDPMessageSize)
		}
	}
	return dns.MinMsgSize
}

// formatErrorFromRaw builds a FORMERR reply for a datagram that would not
// parse, if at least the 12-byte header is intact to recover the id.
func formatErrorFromRaw(raw []byte) *dns.Msg {
	if len(raw) < 12 {
		return nil
	}
	m := new(dns.Msg)
	m.Id = uint16(raw[0])<<8 | uint16(raw[1])
	m.Response = true
	m.Rcode = dns.RcodeFormatError
	return m
}

// listenUDPReusePort binds a UDP socket with SO_REUSEPORT so multiple
// sockets can share the address, letting the kernel load-balance packets
// across the per-core sockets.
func listenUDPReusePort(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
