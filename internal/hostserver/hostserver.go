// Package hostserver carries the messaging service over udp. Every remote
// address is one connection.
package hostserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blukai/featherlink/internal/datagram"
	"github.com/blukai/featherlink/internal/debug"
	"github.com/blukai/featherlink/internal/handshake"
	"github.com/blukai/featherlink/internal/messaging"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const DefaultIdleTimeout = time.Second * 10

// identities of udp peers are derived from their address within this
// namespace, so a peer keeps its id across reconnects from the same address.
var addrNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("featherlink:udp"))

func makeKey(addr *net.UDPAddr) messaging.Key {
	return messaging.Key(xxhash.Sum64String(addr.String()))
}

type client struct {
	addr     *net.UDPAddr
	conn     *messaging.Conn
	lastSeen time.Time

	// serializes OnFrame and Disconnect of conn
	mu   sync.Mutex
	gone bool
}

func (c *client) disconnect(service *messaging.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gone = true
	service.Disconnect(c.conn)
}

type Config struct {
	// IdleTimeout evicts peers that sent nothing, keep alives included, for
	// that long. DefaultIdleTimeout when zero.
	IdleTimeout time.Duration
	// Operators are ips (or ip:port) granted handshake.NotifyPermission.
	Operators []string
}

type HostServer struct {
	conn *net.UDPConn
	buf  []byte

	logger *log.Logger

	service     *messaging.Service
	idleTimeout time.Duration
	operators   []string

	// guards clients and lastSeen only; service calls run outside it so
	// handlers may use the server
	mu      sync.Mutex
	clients map[messaging.Key]*client
}

func NewHostServer(
	network, address string,
	service *messaging.Service,
	config Config,
	logger *log.Logger,
) (*HostServer, error) {
	debug.Assert(service != nil, "nil service")

	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}

	hs := &HostServer{
		conn: conn,
		buf:  make([]byte, datagram.MaxSize),

		logger: logger,

		service:     service,
		idleTimeout: config.IdleTimeout,
		operators:   config.Operators,

		clients: make(map[messaging.Key]*client),
	}

	return hs, nil
}

// Addr can be useful to retreive server's address when HostServer was
// constructed with ":0".
func (hs *HostServer) Addr() *net.UDPAddr {
	return hs.conn.LocalAddr().(*net.UDPAddr)
}

func (hs *HostServer) Service() *messaging.Service { return hs.service }

// Clients is the number of known peers, authenticated or not.
func (hs *HostServer) Clients() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.clients)
}

func (hs *HostServer) identify(addr *net.UDPAddr) messaging.Identity {
	identity := messaging.Identity{
		ID:   uuid.NewSHA1(addrNamespace, []byte(addr.String())),
		Name: addr.String(),
	}
	if lo.Contains(hs.operators, addr.IP.String()) || lo.Contains(hs.operators, addr.String()) {
		identity.Permissions = []string{handshake.NotifyPermission}
	}
	return identity
}

// sender writes frames of one peer. Writes on a shared udp conn are safe for
// concurrent use.
type sender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (s *sender) SendFrame(ch messaging.Channel, frame []byte) error {
	data, err := datagram.Marshal(ch, frame)
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(data, s.addr); err != nil {
		return fmt.Errorf("could not write to udp: %w", err)
	}
	return nil
}

func (hs *HostServer) runRecv(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			err := hs.conn.SetReadDeadline(time.Now().Add(time.Second))
			debug.NoErr(err)

			n, addr, err := hs.conn.ReadFromUDP(hs.buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return err
				}

				hs.logger.Error().
					Msgf("could not read from udp: %v", err)
				continue
			}

			kind, frame, err := datagram.Unmarshal(hs.buf[:n])
			if err != nil {
				hs.logger.Debug().
					Str("addr", addr.String()).
					Msgf("dropping datagram: %v", err)
				continue
			}

			// the service keeps no reference to frame, but decoded
			// messages must not alias a buffer that is about to be reused
			hs.handle(addr, kind, append([]byte(nil), frame...))
		}
	}
}

func (hs *HostServer) handle(addr *net.UDPAddr, kind datagram.Kind, frame []byte) {
	c := hs.lookup(addr, kind)
	if c == nil {
		return
	}

	ch, ok := kind.Channel()
	if !ok {
		return
	}

	// frames are handled by the single recv loop, so per connection order
	// holds without hs.mu
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return
	}
	hs.service.OnFrame(c.conn, ch, frame)
}

func (hs *HostServer) lookup(addr *net.UDPAddr, kind datagram.Kind) *client {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	key := makeKey(addr)
	c, ok := hs.clients[key]
	if !ok {
		// keep alives do not open connections
		if kind == datagram.KindKeepAlive {
			return nil
		}

		c = &client{addr: addr}
		c.conn = hs.service.Connect(key, hs.identify(addr), &sender{conn: hs.conn, addr: addr})
		hs.clients[key] = c

		hs.logger.Debug().
			Str("addr", addr.String()).
			Msg("new client")
	}
	c.lastSeen = time.Now()
	return c
}

func (hs *HostServer) runClientEvictor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
			now := time.Now()
			hs.evict(now)
			hs.service.Tick(now)
		}
	}
}

func (hs *HostServer) evict(now time.Time) {
	var idle []*client

	hs.mu.Lock()
	for key, c := range hs.clients {
		if now.Sub(c.lastSeen) > hs.idleTimeout {
			delete(hs.clients, key)
			idle = append(idle, c)
		}
	}
	hs.mu.Unlock()

	for _, c := range idle {
		c.disconnect(hs.service)
		hs.logger.Debug().
			Str("addr", c.addr.String()).
			Msg("evicted client")
	}
}

// Run serves until ctx is done, then disconnects every peer and closes the
// socket.
func (hs *HostServer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hs.runRecv(ctx) })
	g.Go(func() error { return hs.runClientEvictor(ctx) })
	err := g.Wait()

	hs.mu.Lock()
	clients := lo.Values(hs.clients)
	hs.clients = make(map[messaging.Key]*client)
	hs.mu.Unlock()

	for _, c := range clients {
		c.disconnect(hs.service)
	}

	if closeErr := hs.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}
