package messaging_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blukai/featherlink/internal/handshake"
	"github.com/blukai/featherlink/internal/messaging"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/blukai/featherlink/internal/rpc"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/matryer/is"
)

type recorder struct {
	mu       sync.Mutex
	joined   []*messaging.Player
	left     []*messaging.Player
	messages []protocol.Message
	notices  chan string
}

func newRecorder() *recorder {
	return &recorder{notices: make(chan string, 4)}
}

func (r *recorder) Join(p *messaging.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, p)
}

func (r *recorder) Message(p *messaging.Player, m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) Leave(p *messaging.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, p)
}

func (r *recorder) Notice(p *messaging.Player, message string) { r.notices <- message }

func encodeServerBound(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	frame, err := protocol.ServerBoundCodec.Encode(m)
	if err != nil {
		t.Fatalf("could not encode %T: %v", m, err)
	}
	return frame
}

var hello = protocol.ClientHello{
	Platform:     protocol.PlatformFabric,
	PlatformMods: []protocol.PlatformMod{{Name: "sodium", Version: "0.5.8"}},
	FeatherMods:  []protocol.FeatherMod{{Name: "zoom"}, {Name: "freelook"}},
}

// join runs the handshake for a new connection and returns its player.
func join(t *testing.T, s *messaging.Service, key messaging.Key, w *wire, version uint32) *messaging.Player {
	t.Helper()

	c := s.Connect(key, messaging.Identity{
		ID:          uuid.New(),
		Name:        "steve",
		Permissions: []string{handshake.NotifyPermission},
	}, w)

	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.Handshake{ProtocolVersion: version}))
	acks := receiveAll(t, w.drain())
	if len(acks) != 1 || acks[0] != (protocol.HandshakeAck{ProtocolVersion: protocol.Version}) {
		t.Fatalf("unexpected handshake response: %v", acks)
	}

	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, hello))
	p := c.Player()
	if p == nil {
		t.Fatal("connection was not promoted")
	}
	return p
}

func TestJoin(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	s := messaging.NewService(messaging.Config{Handler: r}, nil)

	p := join(t, s, 1, newWire(), protocol.Version)
	is.Equal(p.Name(), "steve")
	is.Equal(p.Platform(), protocol.PlatformFabric)
	is.Equal(p.FeatherMods(), hello.FeatherMods)
	is.Equal(p.PlatformMods(), hello.PlatformMods)
	is.True(p.Online())
	is.True(p.HasPermission(handshake.NotifyPermission))
	is.True(!p.HasPermission("op"))

	is.Equal(r.joined, []*messaging.Player{p})
	is.Equal(s.Players(), []*messaging.Player{p})
}

func TestFramesBeforeHandshake(t *testing.T) {
	is := is.New(t)

	s := messaging.NewService(messaging.Config{}, nil)
	w := newWire()
	c := s.Connect(1, messaging.Identity{}, w)

	// a broken fragment is dropped without rejecting the connection
	s.OnFrame(c, messaging.ChannelFragmented, []byte{0x05})
	is.Equal(len(w.drain()), 0)
	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.Handshake{ProtocolVersion: protocol.Version}))
	is.Equal(len(w.drain()), 1) // the ack

	// garbage rejects the connection for good
	s.OnFrame(c, messaging.ChannelWhole, []byte{0xff})
	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, hello))
	is.Equal(len(w.drain()), 0)
	is.True(c.Player() == nil)
	is.Equal(len(s.Players()), 0)
}

func TestFragmentedHello(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	s := messaging.NewService(messaging.Config{Handler: r}, nil)
	w := newWire()
	c := s.Connect(1, messaging.Identity{Name: "steve"}, w)

	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.Handshake{ProtocolVersion: protocol.Version}))
	is.Equal(len(w.drain()), 1)

	name := strings.Repeat("m", protocol.ModNameLimit)
	mods := make([]protocol.PlatformMod, 300)
	for i := range mods {
		mods[i] = protocol.PlatformMod{Name: name, Version: name}
	}
	big := protocol.ClientHello{Platform: protocol.PlatformForge, PlatformMods: mods}

	frames, err := messaging.EncodeFrames(protocol.ServerBoundCodec, big)
	is.NoErr(err)
	is.True(len(frames) > 1)
	is.Equal(frames[0].Channel, messaging.ChannelFragmented)

	for _, f := range frames {
		s.OnFrame(c, f.Channel, f.Data)
	}

	p := c.Player()
	is.True(p != nil)
	is.Equal(len(p.PlatformMods()), 300)
	is.Equal(r.joined, []*messaging.Player{p})
}

func TestRouting(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	host := rpc.NewHost(nil)
	is.NoErr(host.Register("Shop", rpc.NewController().Handle("buy", func(req *rpc.Request, resp *rpc.Response) {
		resp.Respond([]byte(`{"bought":` + req.Body + `}`))
	})))

	s := messaging.NewService(messaging.Config{
		Handler:    r,
		RPC:        host,
		Background: []byte{0x89, 'P', 'N', 'G'},
	}, nil)
	w := newWire()
	p := join(t, s, 1, w, protocol.Version)
	c, ok := s.Conn(1)
	is.True(ok)

	t.Run("ui request", func(t *testing.T) {
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.UIRequest{ID: 3, Frame: "shop", Path: "buy", Payload: "1"}))
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.UIRequest{ID: 4, Frame: "shop", Path: "sell", Payload: "1"}))

		is.Equal(receiveAll(t, w.drain()), []protocol.Message{
			protocol.UIResponse{ID: 3, Found: true, Payload: []byte(`{"bought":1}`)},
			protocol.UIResponse{ID: 4, Found: false, Payload: []byte{}},
		})
	})

	t.Run("server background is sent once", func(t *testing.T) {
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.RequestServerBackground{}))
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.RequestServerBackground{}))

		is.Equal(receiveAll(t, w.drain()), []protocol.Message{
			protocol.ServerBackground{Action: protocol.BackgroundData, Data: []byte{0x89, 'P', 'N', 'G'}},
		})
	})

	t.Run("everything else goes to the handler", func(t *testing.T) {
		change := protocol.UIStateChange{Frame: "shop", Type: protocol.UIStateVisible}
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, change))

		// a broken frame is dropped without breaking the player
		s.OnFrame(c, messaging.ChannelWhole, []byte{0x7f})
		loadErr := protocol.UILoadError{Frame: "shop", ErrorText: "404"}
		s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, loadErr))

		r.mu.Lock()
		defer r.mu.Unlock()
		is.Equal(r.messages, []protocol.Message{change, loadErr})
		is.True(p.Online())
	})
}

func TestFragmentedInbound(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	s := messaging.NewService(messaging.Config{Handler: r}, nil)
	w := newWire()
	join(t, s, 1, w, protocol.Version)
	c, _ := s.Conn(1)

	mods := make([]protocol.PlatformMod, 1000)
	for i := range mods {
		mods[i] = protocol.PlatformMod{Name: "a-fairly-long-mod-name-to-fill-frames", Version: "1.0.0"}
	}
	big := protocol.PlatformModsResponse{Mods: mods}

	frames, err := messaging.EncodeFrames(protocol.ServerBoundCodec, big)
	is.NoErr(err)
	is.True(len(frames) > 2)

	for _, f := range frames {
		s.OnFrame(c, f.Channel, f.Data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	is.Equal(r.messages, []protocol.Message{big})
}

func TestEnabledMods(t *testing.T) {
	is := is.New(t)

	s := messaging.NewService(messaging.Config{}, nil)
	w := newWire()
	p := join(t, s, 1, w, protocol.Version)
	c, _ := s.Conn(1)

	type result struct {
		mods []protocol.FeatherMod
		err  error
	}
	done := make(chan result, 1)
	go func() {
		mods, err := p.EnabledMods(context.Background())
		done <- result{mods, err}
	}()

	requests := receiveAll(t, []messaging.Frame{w.next(t)})
	is.Equal(len(requests), 1)
	request, ok := requests[0].(protocol.GetEnabledMods)
	is.True(ok)

	enabled := []protocol.FeatherMod{{Name: "zoom"}}
	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.EnabledMods{ID: request.ID, Mods: enabled}))

	select {
	case res := <-done:
		is.NoErr(res.err)
		is.Equal(res.mods, enabled)
	case <-time.After(time.Second):
		t.Fatal("enabled mods never resolved")
	}

	// a duplicate reply is ignored
	s.OnFrame(c, messaging.ChannelWhole, encodeServerBound(t, protocol.EnabledMods{ID: request.ID, Mods: enabled}))
}

func TestEnabledModsTimeout(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := messaging.NewService(messaging.Config{CallTimeout: time.Second * 30, Now: clock}, nil)
	w := newWire()
	p := join(t, s, 1, w, protocol.Version)

	done := make(chan error, 1)
	go func() {
		_, err := p.EnabledMods(context.Background())
		done <- err
	}()
	w.next(t) // the request went out

	s.Tick(now.Add(time.Second * 29))
	select {
	case <-done:
		t.Fatal("resolved before the deadline")
	default:
	}

	s.Tick(now.Add(time.Second * 30))
	select {
	case err := <-done:
		is.True(errors.Is(err, rpc.ErrTimeout))
	case <-time.After(time.Second):
		t.Fatal("call never timed out")
	}
}

func TestDisconnect(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	s := messaging.NewService(messaging.Config{Handler: r}, nil)
	w := newWire()
	p := join(t, s, 1, w, protocol.Version)
	c, _ := s.Conn(1)

	done := make(chan error, 1)
	go func() {
		_, err := p.EnabledMods(context.Background())
		done <- err
	}()
	w.next(t)

	s.Disconnect(c)

	select {
	case err := <-done:
		is.True(errors.Is(err, rpc.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("pending call survived the disconnect")
	}
	is.True(!p.Online())
	is.Equal(len(s.Players()), 0)
	is.Equal(r.left, []*messaging.Player{p})

	_, ok := s.Conn(1)
	is.True(!ok)
}

func TestReconnectReplacesConnection(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	s := messaging.NewService(messaging.Config{Handler: r}, nil)
	first := join(t, s, 1, newWire(), protocol.Version)

	c := s.Connect(1, messaging.Identity{Name: "steve"}, newWire())
	is.True(!first.Online())
	is.True(c.Player() == nil)
	is.Equal(r.left, []*messaging.Player{first})
}

func TestBroadcast(t *testing.T) {
	is := is.New(t)

	s := messaging.NewService(messaging.Config{}, nil)
	good := newWire()
	bad := newWire()

	p1 := join(t, s, 1, good, protocol.Version)
	p2 := join(t, s, 2, bad, protocol.Version)
	bad.err = errors.New("gone")

	msg := protocol.WorldChange{WorldID: uuid.New()}
	err := s.Broadcast([]*messaging.Player{p1, p2}, msg)
	is.True(err != nil)

	var merr *multierror.Error
	is.True(errors.As(err, &merr))
	is.Equal(len(merr.Errors), 1)
	is.True(errors.Is(err, bad.err))

	is.Equal(receiveAll(t, good.drain()), []protocol.Message{msg})

	is.NoErr(s.Broadcast(nil, msg))
}

func TestModActions(t *testing.T) {
	is := is.New(t)

	s := messaging.NewService(messaging.Config{}, nil)
	w := newWire()
	p := join(t, s, 1, w, protocol.Version)

	zoom := protocol.FeatherMod{Name: "zoom"}
	freelook := protocol.FeatherMod{Name: "freelook"}

	is.NoErr(p.BlockMods([]protocol.FeatherMod{zoom, freelook, zoom}))
	is.Equal(p.BlockedMods(), []protocol.FeatherMod{freelook, zoom})

	is.NoErr(p.UnblockMods([]protocol.FeatherMod{zoom}))
	is.Equal(p.BlockedMods(), []protocol.FeatherMod{freelook})

	is.NoErr(p.EnableMods([]protocol.FeatherMod{zoom}))
	is.NoErr(s.Send(p, protocol.MissPenaltyState{Enabled: true}))
	is.NoErr(p.DisableMods(nil)) // nothing to send

	is.Equal(receiveAll(t, w.drain()), []protocol.Message{
		protocol.ModsAction{Action: protocol.ModsBlock, Mods: []protocol.FeatherMod{zoom, freelook}},
		protocol.ModsAction{Action: protocol.ModsUnblock, Mods: []protocol.FeatherMod{zoom}},
		protocol.ModsAction{Action: protocol.ModsEnable, Mods: []protocol.FeatherMod{zoom}},
		protocol.MissPenaltyState{Enabled: true},
	})
}

func TestOutOfDateNotice(t *testing.T) {
	is := is.New(t)

	r := newRecorder()
	notifier := handshake.NewNotifier(time.Millisecond, nil)
	defer notifier.Close()

	s := messaging.NewService(messaging.Config{Handler: r, Notifier: notifier}, nil)
	join(t, s, 1, newWire(), protocol.Version+1)

	select {
	case msg := <-r.notices:
		is.Equal(msg, notifier.Message())
	case <-time.After(time.Second):
		t.Fatal("notice never arrived")
	}
}
