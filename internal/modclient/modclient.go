// Package modclient is the client mod side of the protocol over udp. It is
// used by the reference client and by end to end tests.
package modclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blukai/featherlink/internal/datagram"
	"github.com/blukai/featherlink/internal/debug"
	"github.com/blukai/featherlink/internal/messaging"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/blukai/featherlink/internal/rpc"
	"github.com/phuslu/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const DefaultKeepAlive = time.Second * 5

var ErrUnexpectedMessage = errors.New("unexpected message")

type Config struct {
	Platform     protocol.Platform
	PlatformMods []protocol.PlatformMod
	FeatherMods  []protocol.FeatherMod
	// KeepAlive is how often a keep alive is sent. DefaultKeepAlive when
	// zero.
	KeepAlive time.Duration
	// CallTimeout bounds ui calls, rpc.DefaultCallTimeout when zero.
	CallTimeout time.Duration
}

type ModClient struct {
	conn    *net.UDPConn
	readBuf []byte

	logger *log.Logger

	endpoint *messaging.Endpoint
	recvCh   chan protocol.Message
	calls    *rpc.Calls[protocol.UIResponse]

	config      Config
	sendTimeout time.Duration
	recvTimeout time.Duration

	mu      sync.Mutex
	enabled map[protocol.FeatherMod]struct{}
	blocked map[protocol.FeatherMod]struct{}
}

func NewModClient(network, address string, config Config, logger *log.Logger) (*ModClient, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	conn, err := net.DialUDP(network, nil, addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultKeepAlive
	}

	mc := &ModClient{
		conn:    conn,
		readBuf: make([]byte, datagram.MaxSize),

		logger: logger,

		recvCh: make(chan protocol.Message, 64),
		calls:  rpc.NewCalls[protocol.UIResponse](config.CallTimeout, time.Now),

		config:      config,
		sendTimeout: time.Second,
		recvTimeout: time.Second,

		enabled: make(map[protocol.FeatherMod]struct{}),
		blocked: make(map[protocol.FeatherMod]struct{}),
	}
	mc.endpoint = messaging.NewClientEndpoint(messaging.FrameSenderFunc(mc.sendFrame))

	for _, mod := range config.FeatherMods {
		mc.enabled[mod] = struct{}{}
	}

	return mc, nil
}

// LocalAddr is the address the server knows the client by.
func (mc *ModClient) LocalAddr() *net.UDPAddr {
	return mc.conn.LocalAddr().(*net.UDPAddr)
}

func (mc *ModClient) write(data []byte) error {
	err := mc.conn.SetWriteDeadline(time.Now().Add(mc.sendTimeout))
	debug.NoErr(err)

	if _, err := mc.conn.Write(data); err != nil {
		return fmt.Errorf("could not write: %w", err)
	}
	return nil
}

func (mc *ModClient) sendFrame(ch messaging.Channel, frame []byte) error {
	data, err := datagram.Marshal(ch, frame)
	if err != nil {
		return err
	}
	return mc.write(data)
}

func (mc *ModClient) runRecv(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			err := mc.conn.SetReadDeadline(time.Now().Add(mc.recvTimeout))
			debug.NoErr(err)

			n, _, err := mc.conn.ReadFromUDP(mc.readBuf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return err
				}

				mc.logger.Error().
					Msgf("could not read: %v", err)
				continue
			}

			kind, frame, err := datagram.Unmarshal(mc.readBuf[:n])
			if err != nil {
				mc.logger.Error().
					Msgf("dropping datagram: %v", err)
				continue
			}
			ch, ok := kind.Channel()
			if !ok {
				continue
			}

			m, ok, err := mc.endpoint.Receive(ch, append([]byte(nil), frame...))
			if err != nil {
				mc.logger.Error().
					Str("channel", string(ch)).
					Msgf("dropping frame: %v", err)
				continue
			}
			if !ok {
				continue
			}

			mc.logger.Debug().
				Str("message", fmt.Sprintf("%T", m)).
				Msg("recv")

			// intercept messages that the client answers on its own
			switch m := m.(type) {
			case protocol.UIResponse:
				if !mc.calls.Resolve(m.ID, m) {
					mc.logger.Debug().
						Uint32("id", m.ID).
						Msg("ui response without pending call")
				}
			case protocol.GetEnabledMods:
				if err := mc.endpoint.Send(protocol.EnabledMods{ID: m.ID, Mods: mc.EnabledMods()}); err != nil {
					mc.logger.Error().
						Msgf("could not answer enabled mods request: %v", err)
				}
			case protocol.ModsAction:
				mc.apply(m)
				mc.deliver(ctx, m)
			default:
				mc.deliver(ctx, m)
			}
		}
	}
}

func (mc *ModClient) deliver(ctx context.Context, m protocol.Message) {
	select {
	case <-ctx.Done():
	case mc.recvCh <- m:
	}
}

func (mc *ModClient) runKeepAlive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		// the tick also expires ui calls that ran out of time
		case <-time.After(mc.config.KeepAlive):
			if err := mc.write(datagram.KeepAlive()); err != nil {
				mc.logger.Error().
					Msgf("could not send keep alive: %v", err)
			}
			mc.calls.Expire(time.Now())
		}
	}
}

// Run reads from the server until ctx is done. Pending calls fail with
// rpc.ErrClosed once it returns.
func (mc *ModClient) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mc.runRecv(ctx) })
	g.Go(func() error { return mc.runKeepAlive(ctx) })
	err := g.Wait()

	mc.calls.Close()
	if closeErr := mc.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Recv returns the next message the client does not handle itself.
func (mc *ModClient) Recv(ctx context.Context) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mc.recvTimeout):
		return nil, fmt.Errorf("timeout reached")
	case m := <-mc.recvCh:
		return m, nil
	}
}

func (mc *ModClient) Send(m protocol.Message) error {
	return mc.endpoint.Send(m)
}

// Handshake is blocking. It returns the protocol version of the server.
func (mc *ModClient) Handshake(ctx context.Context) (uint32, error) {
	if err := mc.Send(protocol.Handshake{ProtocolVersion: protocol.Version}); err != nil {
		return 0, fmt.Errorf("could not send handshake: %w", err)
	}

	m, err := mc.Recv(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not recv handshake ack: %w", err)
	}
	ack, ok := m.(protocol.HandshakeAck)
	if !ok {
		return 0, fmt.Errorf("%w (got %T; want %T)", ErrUnexpectedMessage, m, protocol.HandshakeAck{})
	}

	hello := protocol.ClientHello{
		Platform:     mc.config.Platform,
		PlatformMods: mc.config.PlatformMods,
		FeatherMods:  mc.config.FeatherMods,
	}
	if err := mc.Send(hello); err != nil {
		return 0, fmt.Errorf("could not send hello: %w", err)
	}

	return ack.ProtocolVersion, nil
}

// Call is blocking. It issues a ui rpc call on namespace and waits for the
// answer, a timeout or ctx.
func (mc *ModClient) Call(ctx context.Context, namespace, call, body string) (protocol.UIResponse, error) {
	c, err := mc.calls.Issue()
	if err != nil {
		return protocol.UIResponse{}, fmt.Errorf("could not issue call: %w", err)
	}

	req := protocol.UIRequest{ID: c.ID(), Frame: namespace, Path: call, Payload: body}
	if err := mc.Send(req); err != nil {
		mc.calls.Forget(c.ID(), err)
		return protocol.UIResponse{}, fmt.Errorf("could not send call: %w", err)
	}

	resp, err := c.Wait(ctx)
	if err != nil {
		mc.calls.Forget(c.ID(), err)
		return protocol.UIResponse{}, fmt.Errorf("could not get response to %s/%s: %w", namespace, call, err)
	}
	return resp, nil
}

func (mc *ModClient) apply(m protocol.ModsAction) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, mod := range m.Mods {
		switch m.Action {
		case protocol.ModsBlock:
			mc.blocked[mod] = struct{}{}
		case protocol.ModsUnblock:
			delete(mc.blocked, mod)
		case protocol.ModsEnable:
			mc.enabled[mod] = struct{}{}
		case protocol.ModsDisable:
			delete(mc.enabled, mod)
		}
	}
}

func sortMods(mods []protocol.FeatherMod) []protocol.FeatherMod {
	slices.SortFunc(mods, func(a, b protocol.FeatherMod) int {
		return strings.Compare(a.Name, b.Name)
	})
	return mods
}

// EnabledMods are the enabled mods that are not blocked, sorted by name.
func (mc *ModClient) EnabledMods() []protocol.FeatherMod {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mods := lo.Filter(lo.Keys(mc.enabled), func(mod protocol.FeatherMod, _ int) bool {
		_, blocked := mc.blocked[mod]
		return !blocked
	})
	return sortMods(mods)
}

func (mc *ModClient) BlockedMods() []protocol.FeatherMod {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return sortMods(lo.Keys(mc.blocked))
}
