// Package handshake gates a fresh connection until it has announced its
// protocol version and described itself.
package handshake

import (
	"fmt"
	"io"

	"github.com/blukai/featherlink/internal/protocol"
	"github.com/phuslu/log"
)

type State uint8

const (
	ExpectingHandshake State = iota
	ExpectingHello
	// Rejected swallows every further frame until the connection goes away.
	Rejected
	// Done means the hello arrived and the connection may be promoted.
	Done
)

func (s State) String() string {
	switch s {
	case ExpectingHandshake:
		return "expecting handshake"
	case ExpectingHello:
		return "expecting hello"
	case Rejected:
		return "rejected"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// AckFunc delivers the handshake acknowledgement to the peer.
type AckFunc func(ack protocol.HandshakeAck) error

// Session is the handshake state of one connection. It is fed the raw frames
// of that connection in arrival order and is not safe for concurrent use.
type Session struct {
	state       State
	peerVersion uint32

	ack      AckFunc
	notifier *Notifier
	logger   *log.Logger
}

// NewSession returns a session waiting for the handshake. notifier may be nil.
func NewSession(ack AckFunc, notifier *Notifier, logger *log.Logger) *Session {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Session{
		state:    ExpectingHandshake,
		ack:      ack,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Session) State() State { return s.state }

// PeerVersion is the protocol version announced by the peer, zero until the
// handshake arrived.
func (s *Session) PeerVersion() uint32 { return s.peerVersion }

// Handle advances the session with one frame from the whole channel. It
// returns the hello once the session is done; any frame that is malformed or
// out of sequence rejects the session.
func (s *Session) Handle(frame []byte) (*protocol.ClientHello, bool) {
	if s.state == Rejected || s.state == Done {
		return nil, false
	}

	msg, err := protocol.ServerBoundCodec.Decode(frame)
	if err != nil {
		s.reject(fmt.Errorf("could not decode frame: %w", err))
		return nil, false
	}

	switch s.state {
	case ExpectingHandshake:
		handshake, ok := msg.(protocol.Handshake)
		if !ok {
			s.reject(fmt.Errorf("got %T, want handshake", msg))
			return nil, false
		}

		s.peerVersion = handshake.ProtocolVersion
		if handshake.ProtocolVersion > protocol.Version && s.notifier != nil {
			s.notifier.MarkOutOfDate(handshake.ProtocolVersion)
		}

		s.state = ExpectingHello
		if err := s.ack(protocol.HandshakeAck{ProtocolVersion: protocol.Version}); err != nil {
			s.reject(fmt.Errorf("could not send handshake ack: %w", err))
		}
		return nil, false
	case ExpectingHello:
		hello, ok := msg.(protocol.ClientHello)
		if !ok {
			s.reject(fmt.Errorf("got %T, want hello", msg))
			return nil, false
		}

		s.state = Done
		return &hello, true
	}

	return nil, false
}

func (s *Session) reject(err error) {
	s.logger.Debug().
		Str("state", s.state.String()).
		Msgf("rejecting handshake: %v", err)

	s.state = Rejected
}
