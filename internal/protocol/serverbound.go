package protocol

import (
	"github.com/blukai/featherlink/internal/buffer"
)

// UIFrameLimit caps frame names and rpc paths sent by the client.
const UIFrameLimit = 64

// Handshake is the first message of every connection.
type Handshake struct {
	serverBound
	ProtocolVersion uint32
}

func (m Handshake) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ProtocolVersion)
	return nil
}

func decodeHandshake(b *buffer.Buffer) (Handshake, error) {
	v, err := b.ReadVarint()
	return Handshake{ProtocolVersion: v}, err
}

// ClientHello completes the handshake and describes the client.
type ClientHello struct {
	serverBound
	Platform     Platform
	PlatformMods []PlatformMod
	FeatherMods  []FeatherMod
}

func (m ClientHello) Write(b *buffer.Buffer) error {
	if err := buffer.WriteEnum(b, m.Platform, platforms); err != nil {
		return err
	}
	if err := buffer.WriteCollection(b, m.PlatformMods, encodePlatformMod); err != nil {
		return err
	}
	return buffer.WriteCollection(b, m.FeatherMods, encodeFeatherMod)
}

func decodeClientHello(b *buffer.Buffer) (m ClientHello, err error) {
	if m.Platform, err = buffer.ReadEnum(b, platforms); err != nil {
		return m, err
	}
	if m.PlatformMods, err = buffer.ReadCollection(b, decodePlatformMod); err != nil {
		return m, err
	}
	m.FeatherMods, err = buffer.ReadCollection(b, decodeFeatherMod)
	return m, err
}

type UIStateType uint8

const (
	UIStateCreated UIStateType = iota
	UIStateDestroyed
	UIStateFocusGained
	UIStateFocusLost
	UIStateVisible
	UIStateInvisible
)

var uiStateTypes = []UIStateType{
	UIStateCreated,
	UIStateDestroyed,
	UIStateFocusGained,
	UIStateFocusLost,
	UIStateVisible,
	UIStateInvisible,
}

// UIStateChange reports a lifecycle transition of a client ui frame.
type UIStateChange struct {
	serverBound
	Frame string
	Type  UIStateType
}

func (m UIStateChange) Write(b *buffer.Buffer) error {
	if err := b.WriteString(m.Frame, UIFrameLimit); err != nil {
		return err
	}
	return buffer.WriteEnum(b, m.Type, uiStateTypes)
}

func decodeUIStateChange(b *buffer.Buffer) (m UIStateChange, err error) {
	if m.Frame, err = b.ReadString(UIFrameLimit); err != nil {
		return m, err
	}
	m.Type, err = buffer.ReadEnum(b, uiStateTypes)
	return m, err
}

type UILoadError struct {
	serverBound
	Frame     string
	ErrorText string
}

func (m UILoadError) Write(b *buffer.Buffer) error {
	if err := b.WriteString(m.Frame, UIFrameLimit); err != nil {
		return err
	}
	return b.WriteString(m.ErrorText, UIFrameLimit)
}

func decodeUILoadError(b *buffer.Buffer) (m UILoadError, err error) {
	if m.Frame, err = b.ReadString(UIFrameLimit); err != nil {
		return m, err
	}
	m.ErrorText, err = b.ReadString(UIFrameLimit)
	return m, err
}

// UIRequest is a client-initiated rpc call. Frame is the rpc namespace, Path
// the call name and Payload opaque json.
type UIRequest struct {
	serverBound
	ID      uint32
	Frame   string
	Path    string
	Payload string
}

func (m UIRequest) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ID)
	if err := b.WriteString(m.Frame, UIFrameLimit); err != nil {
		return err
	}
	if err := b.WriteString(m.Path, UIFrameLimit); err != nil {
		return err
	}
	return b.WriteString(m.Payload, buffer.DefaultStringLimit)
}

func decodeUIRequest(b *buffer.Buffer) (m UIRequest, err error) {
	if m.ID, err = b.ReadVarint(); err != nil {
		return m, err
	}
	if m.Frame, err = b.ReadString(UIFrameLimit); err != nil {
		return m, err
	}
	if m.Path, err = b.ReadString(UIFrameLimit); err != nil {
		return m, err
	}
	m.Payload, err = b.ReadString(buffer.DefaultStringLimit)
	return m, err
}

// EnabledMods answers GetEnabledMods with the same ID.
type EnabledMods struct {
	serverBound
	ID   uint32
	Mods []FeatherMod
}

func (m EnabledMods) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ID)
	return buffer.WriteCollection(b, m.Mods, encodeFeatherMod)
}

func decodeEnabledMods(b *buffer.Buffer) (m EnabledMods, err error) {
	if m.ID, err = b.ReadVarint(); err != nil {
		return m, err
	}
	m.Mods, err = buffer.ReadCollection(b, decodeFeatherMod)
	return m, err
}

type RequestServerBackground struct {
	serverBound
}

func (RequestServerBackground) Write(*buffer.Buffer) error { return nil }

func decodeRequestServerBackground(*buffer.Buffer) (RequestServerBackground, error) {
	return RequestServerBackground{}, nil
}

type FeatherModsResponse struct {
	serverBound
	Mods []FeatherMod
}

func (m FeatherModsResponse) Write(b *buffer.Buffer) error {
	return buffer.WriteCollection(b, m.Mods, encodeFeatherMod)
}

func decodeFeatherModsResponse(b *buffer.Buffer) (m FeatherModsResponse, err error) {
	m.Mods, err = buffer.ReadCollection(b, decodeFeatherMod)
	return m, err
}

type PlatformModsResponse struct {
	serverBound
	Mods []PlatformMod
}

func (m PlatformModsResponse) Write(b *buffer.Buffer) error {
	return buffer.WriteCollection(b, m.Mods, encodePlatformMod)
}

func decodePlatformModsResponse(b *buffer.Buffer) (m PlatformModsResponse, err error) {
	m.Mods, err = buffer.ReadCollection(b, decodePlatformMod)
	return m, err
}
