package messaging

import (
	"io"
	"sync"
	"time"

	"github.com/blukai/featherlink/internal/handshake"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/blukai/featherlink/internal/rpc"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// Handler receives what the service does not handle itself.
type Handler interface {
	Join(p *Player)
	Message(p *Player, m protocol.Message)
	Leave(p *Player)
	// Notice shows a server notice to p.
	Notice(p *Player, message string)
}

// NopHandler can be embedded to implement only part of Handler.
type NopHandler struct{}

func (NopHandler) Join(*Player) {}

func (NopHandler) Message(*Player, protocol.Message) {}

func (NopHandler) Leave(*Player) {}

func (NopHandler) Notice(*Player, string) {}

// Key is chosen by the host and identifies a connection.
type Key uint64

// Conn is a connection known to the service, authenticated or not.
type Conn struct {
	key      Key
	identity Identity
	endpoint *Endpoint
	session  *handshake.Session

	mu     sync.Mutex
	player *Player
}

func (c *Conn) Key() Key { return c.key }

// Player is nil until the handshake completed.
func (c *Conn) Player() *Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

func (c *Conn) setPlayer(p *Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.player = p
}

type Config struct {
	Handler  Handler
	RPC      *rpc.Host
	Notifier *handshake.Notifier
	// CallTimeout bounds server initiated calls, rpc.DefaultCallTimeout when
	// zero.
	CallTimeout time.Duration
	// Background is sent to players asking for the server list background.
	Background []byte
	Now        func() time.Time
}

// Service is the server side of the protocol for every connection of a host.
type Service struct {
	handler     Handler
	rpc         *rpc.Host
	notifier    *handshake.Notifier
	callTimeout time.Duration
	background  []byte
	now         func() time.Time

	mu    sync.Mutex
	conns map[Key]*Conn

	logger *log.Logger
}

func NewService(config Config, logger *log.Logger) *Service {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	if config.Handler == nil {
		config.Handler = NopHandler{}
	}
	if config.RPC == nil {
		config.RPC = rpc.NewHost(logger)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Service{
		handler:     config.Handler,
		rpc:         config.RPC,
		notifier:    config.Notifier,
		callTimeout: config.CallTimeout,
		background:  config.Background,
		now:         config.Now,

		conns: make(map[Key]*Conn),

		logger: logger,
	}
}

func (s *Service) RPC() *rpc.Host { return s.rpc }

// Connect registers a new connection. A connection already known under key is
// disconnected first.
func (s *Service) Connect(key Key, identity Identity, sender FrameSender) *Conn {
	s.mu.Lock()
	previous := s.conns[key]
	s.mu.Unlock()
	if previous != nil {
		s.Disconnect(previous)
	}

	c := &Conn{
		key:      key,
		identity: identity,
		endpoint: NewServerEndpoint(sender),
	}
	c.session = handshake.NewSession(func(ack protocol.HandshakeAck) error {
		return c.endpoint.Send(ack)
	}, s.notifier, s.logger)

	s.mu.Lock()
	s.conns[key] = c
	s.mu.Unlock()

	return c
}

func (s *Service) Conn(key Key) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[key]
	return c, ok
}

// Players returns every authenticated player.
func (s *Service) Players() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]*Player, 0, len(s.conns))
	for _, c := range s.conns {
		if p := c.Player(); p != nil {
			players = append(players, p)
		}
	}
	return players
}

// OnFrame handles one inbound frame of c. Frames of one connection must be
// delivered in order and never concurrently.
//
// rpc handlers run inline, so they must not wait on server initiated calls of
// the same player; the reply could never be read.
func (s *Service) OnFrame(c *Conn, ch Channel, frame []byte) {
	p := c.Player()
	if p == nil {
		s.handshake(c, ch, frame)
		return
	}

	m, ok, err := c.endpoint.Receive(ch, frame)
	if err != nil {
		s.logger.Warn().
			Str("player", p.Name()).
			Str("channel", string(ch)).
			Msgf("dropping frame: %v", err)
		return
	}
	if !ok {
		return
	}

	s.route(p, m)
}

// handshake feeds the session whole envelopes; a hello with many mods may
// arrive fragmented.
func (s *Service) handshake(c *Conn, ch Channel, frame []byte) {
	envelope, ok, err := c.endpoint.Reassemble(ch, frame)
	if err != nil {
		s.logger.Debug().
			Uint64("conn", uint64(c.key)).
			Str("channel", string(ch)).
			Msgf("dropping frame before handshake: %v", err)
		return
	}
	if !ok {
		return
	}

	hello, ok := c.session.Handle(envelope)
	if !ok {
		return
	}

	p := newPlayer(c, s, hello)
	c.setPlayer(p)

	s.logger.Info().
		Str("player", p.Name()).
		Str("platform", p.Platform().String()).
		Int("feather_mods", len(hello.FeatherMods)).
		Int("platform_mods", len(hello.PlatformMods)).
		Msg("player joined")

	s.handler.Join(p)
	if s.notifier != nil {
		s.notifier.OnJoin(p)
	}
}

func (s *Service) route(p *Player, m protocol.Message) {
	switch m := m.(type) {
	case protocol.UIRequest:
		s.rpc.Dispatch(p, m.Frame, m.Path, m.ID, m.Payload, p.replyUI)
	case protocol.EnabledMods:
		if !p.calls.Resolve(m.ID, m.Mods) {
			s.logger.Debug().
				Str("player", p.Name()).
				Uint32("id", m.ID).
				Msg("enabled mods reply without pending call")
		}
	case protocol.RequestServerBackground:
		if err := p.sendBackground(s.background); err != nil {
			s.logger.Error().Msgf("could not send server background to %s: %v", p.Name(), err)
		}
	default:
		s.handler.Message(p, m)
	}
}

// Send sends m to p, fragmenting it when it does not fit a frame.
func (s *Service) Send(p *Player, m protocol.Message) error {
	return p.Send(m)
}

// Broadcast encodes m once and sends it to every player. Failing players do
// not stop the others; their errors are returned together.
func (s *Service) Broadcast(players []*Player, m protocol.Message) error {
	if len(players) == 0 {
		return nil
	}

	frames, err := EncodeFrames(protocol.ClientBoundCodec, m)
	if err != nil {
		return err
	}

	var errs error
	for _, p := range players {
		if err := p.conn.endpoint.SendFrames(frames); err != nil {
			s.logger.Error().
				Msgf("could not send %T to %s: %v", m, p.Name(), err)

			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// Disconnect forgets c. Any handshake or partial fragmented message is
// discarded and pending calls of its player fail with rpc.ErrClosed. It must
// not run concurrently with OnFrame for the same connection.
func (s *Service) Disconnect(c *Conn) {
	s.mu.Lock()
	if s.conns[c.key] == c {
		delete(s.conns, c.key)
	}
	s.mu.Unlock()

	c.endpoint.Reset()

	p := c.Player()
	if p == nil {
		return
	}
	p.leave()

	s.logger.Info().
		Str("player", p.Name()).
		Msg("player left")

	s.handler.Leave(p)
}

// Tick expires server initiated calls that ran out of time.
func (s *Service) Tick(now time.Time) {
	for _, p := range s.Players() {
		if n := p.calls.Expire(now); n > 0 {
			s.logger.Debug().
				Str("player", p.Name()).
				Int("expired", n).
				Msg("expired calls")
		}
	}
}
