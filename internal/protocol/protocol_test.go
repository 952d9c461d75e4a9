package protocol_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/blukai/featherlink/internal/buffer"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func ptr[T any](v T) *T { return &v }

func TestServerBoundRoundTrip(t *testing.T) {
	is := is.New(t)

	maxName := strings.Repeat("m", protocol.ModNameLimit)

	testCases := []protocol.Message{
		protocol.Handshake{ProtocolVersion: protocol.Version},
		protocol.Handshake{ProtocolVersion: 0},
		protocol.ClientHello{
			Platform:     protocol.PlatformFabric,
			PlatformMods: []protocol.PlatformMod{{Name: "sodium", Version: "0.5.8"}, {Name: maxName, Version: maxName}},
			FeatherMods:  []protocol.FeatherMod{{Name: "zoom"}, {Name: ""}},
		},
		protocol.ClientHello{
			Platform:     protocol.PlatformForge,
			PlatformMods: []protocol.PlatformMod{},
			FeatherMods:  []protocol.FeatherMod{},
		},
		protocol.UIStateChange{Frame: "shop", Type: protocol.UIStateInvisible},
		protocol.UILoadError{Frame: "shop", ErrorText: "net::ERR_FAILED"},
		protocol.UIRequest{ID: 7, Frame: "shop", Path: "buy", Payload: `{"item":"diamond"}`},
		protocol.UIRequest{ID: 0, Frame: "", Path: "", Payload: strings.Repeat("x", buffer.DefaultStringLimit)},
		protocol.EnabledMods{ID: 1 << 20, Mods: []protocol.FeatherMod{{Name: "perspective"}}},
		protocol.RequestServerBackground{},
		protocol.FeatherModsResponse{Mods: []protocol.FeatherMod{}},
		protocol.PlatformModsResponse{Mods: []protocol.PlatformMod{{Name: "iris", Version: "1.7"}}},
	}

	for _, original := range testCases {
		is.Equal(original.Direction(), protocol.ServerBound)

		encoded, err := protocol.ServerBoundCodec.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.ServerBoundCodec.Decode(encoded)
		is.NoErr(err)
		is.Equal(decoded, original)
	}
}

func TestClientBoundRoundTrip(t *testing.T) {
	is := is.New(t)

	world := uuid.MustParse("00000000-0000-0000-0000-00000000002a")

	testCases := []protocol.Message{
		protocol.HandshakeAck{ProtocolVersion: protocol.Version},
		protocol.CreateUI{Frame: "shop", URL: "https://example.com/shop"},
		protocol.DestroyUI{Frame: "shop"},
		protocol.SetUIState{Frame: "shop", Action: protocol.UIActionVisibility, State: true},
		protocol.UIMessage{Frame: "shop", Payload: "{}"},
		protocol.UIResponse{ID: 3, Found: true, Payload: []byte(`{"ok":true}`)},
		protocol.UIResponse{ID: 4, Found: false, Payload: []byte{}},
		protocol.GetEnabledMods{ID: 12},
		protocol.ModsAction{Action: protocol.ModsDisable, Mods: []protocol.FeatherMod{{Name: "zoom"}, {Name: "freelook"}}},
		protocol.ServerBackground{Action: protocol.BackgroundData, Data: []byte{0x89, 'P', 'N', 'G'}},
		protocol.ServerBackground{Action: protocol.BackgroundHash, Data: []byte{}},
		protocol.WaypointCreate{
			ID:       uuid.Nil,
			WorldID:  world,
			X:        -1,
			Y:        64,
			Z:        -2147483648,
			Color:    -16711936,
			Name:     ptr("home"),
			Duration: ptr(uint32(30)),
		},
		protocol.WaypointCreate{ID: uuid.New(), WorldID: world},
		protocol.WaypointDestroy{IDs: []uuid.UUID{uuid.New(), uuid.Nil}},
		protocol.WaypointDestroy{IDs: []uuid.UUID{}},
		protocol.WorldChange{WorldID: world},
		protocol.SetDiscordActivity{
			Image:   ptr("logo"),
			State:   ptr(strings.Repeat("s", protocol.DiscordActivityLimit)),
			Details: ptr(""),
		},
		protocol.SetDiscordActivity{},
		protocol.ClearDiscordActivity{},
		protocol.MissPenaltyState{Enabled: true},
		protocol.ModsRequest{Type: protocol.ModsTypeFeather},
	}

	for _, original := range testCases {
		is.Equal(original.Direction(), protocol.ClientBound)

		encoded, err := protocol.ClientBoundCodec.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.ClientBoundCodec.Decode(encoded)
		is.NoErr(err)
		is.Equal(decoded, original)
	}
}

func TestEnvelopeLayout(t *testing.T) {
	is := is.New(t)

	encoded, err := protocol.ServerBoundCodec.Encode(protocol.Handshake{ProtocolVersion: 1})
	is.NoErr(err)
	is.Equal(encoded, []byte{byte(protocol.IDHandshake), 0x01})

	encoded, err = protocol.ClientBoundCodec.Encode(protocol.GetEnabledMods{ID: 128})
	is.NoErr(err)
	is.Equal(encoded, []byte{byte(protocol.IDGetEnabledMods), 0x80, 0x01})

	is.Equal(protocol.ServerBoundMessages.Len(), int(protocol.IDPlatformModsResponse)+1)
	is.Equal(protocol.ClientBoundMessages.Len(), int(protocol.IDModsRequest)+1)
}

func TestEncodeRejectsOtherDirection(t *testing.T) {
	is := is.New(t)

	_, err := protocol.ClientBoundCodec.Encode(protocol.Handshake{})
	is.True(errors.Is(err, protocol.ErrNotRegistered))
}

func TestEncodeRejectsOverLimitField(t *testing.T) {
	is := is.New(t)

	_, err := protocol.ServerBoundCodec.Encode(protocol.UIStateChange{Frame: strings.Repeat("f", protocol.UIFrameLimit+1)})
	is.True(buffer.IsOverflow(err))
}

func TestDecodeUnknownMessage(t *testing.T) {
	is := is.New(t)

	_, err := protocol.ServerBoundCodec.Decode([]byte{0x7f})
	is.True(errors.Is(err, protocol.ErrUnknownMessage))
	is.True(errors.Is(err, buffer.ErrMessage))

	_, err = protocol.ClientBoundCodec.Decode(nil)
	is.True(errors.Is(err, buffer.ErrTruncated))
}

func TestDecodeMalformedBody(t *testing.T) {
	is := is.New(t)

	// platform ordinal 9 does not exist
	_, err := protocol.ServerBoundCodec.Decode([]byte{byte(protocol.IDClientHello), 0x09, 0x00, 0x00})
	is.True(errors.Is(err, buffer.ErrMessage))

	// hello cut short after the platform
	_, err = protocol.ServerBoundCodec.Decode([]byte{byte(protocol.IDClientHello), 0x00})
	is.True(errors.Is(err, buffer.ErrTruncated))
}

type ping struct{}

func (ping) Direction() protocol.Direction { return protocol.ServerBound }
func (ping) Write(b *buffer.Buffer) error { return nil }
func decodePing(*buffer.Buffer) (ping, error) { return ping{}, nil }

type pong struct{}

func (pong) Direction() protocol.Direction { return protocol.ClientBound }
func (pong) Write(b *buffer.Buffer) error { return nil }
func decodePong(*buffer.Buffer) (pong, error) { return pong{}, nil }

func TestRegistry(t *testing.T) {
	is := is.New(t)

	t.Run("duplicate type", func(t *testing.T) {
		r := protocol.NewRegistry(protocol.ServerBound)
		is.NoErr(protocol.Register(r, 0, decodePing))
		err := protocol.Register(r, 1, decodePing)
		is.True(errors.Is(err, protocol.ErrAlreadyRegistered))
		is.Equal(r.Len(), 1)
	})

	t.Run("ids must be dense", func(t *testing.T) {
		r := protocol.NewRegistry(protocol.ServerBound)
		err := protocol.Register(r, 1, decodePing)
		is.True(errors.Is(err, protocol.ErrIDOutOfOrder))
	})

	t.Run("wrong direction", func(t *testing.T) {
		r := protocol.NewRegistry(protocol.ServerBound)
		err := protocol.Register(r, 0, decodePong)
		is.True(errors.Is(err, protocol.ErrWrongDirection))
	})

	t.Run("same type in both directions is independent", func(t *testing.T) {
		sb := protocol.NewRegistry(protocol.ServerBound)
		cb := protocol.NewRegistry(protocol.ClientBound)
		is.NoErr(protocol.Register(sb, 0, decodePing))
		is.NoErr(protocol.Register(cb, 0, decodePong))

		id, err := sb.ID(ping{})
		is.NoErr(err)
		is.Equal(id, protocol.ID(0))

		_, err = cb.ID(ping{})
		is.True(errors.Is(err, protocol.ErrNotRegistered))
	})

	t.Run("decode unknown id", func(t *testing.T) {
		r := protocol.NewRegistry(protocol.ServerBound)
		is.NoErr(protocol.Register(r, 0, decodePing))

		m, err := r.Decode(0, buffer.New(0))
		is.NoErr(err)
		is.Equal(m, ping{})

		_, err = r.Decode(1, buffer.New(0))
		is.True(errors.Is(err, protocol.ErrUnknownMessage))
	})
}

func TestPlatformNames(t *testing.T) {
	is := is.New(t)

	p, ok := protocol.ParsePlatform("fabric")
	is.True(ok)
	is.Equal(p, protocol.PlatformFabric)

	_, ok = protocol.ParsePlatform("quilt")
	is.True(!ok)
}
