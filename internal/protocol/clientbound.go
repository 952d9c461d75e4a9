package protocol

import (
	"github.com/blukai/featherlink/internal/buffer"
	"github.com/google/uuid"
)

// DiscordActivityLimit caps every discord activity field.
const DiscordActivityLimit = 127

// HandshakeAck answers Handshake with the server's own protocol version.
type HandshakeAck struct {
	clientBound
	ProtocolVersion uint32
}

func (m HandshakeAck) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ProtocolVersion)
	return nil
}

func decodeHandshakeAck(b *buffer.Buffer) (HandshakeAck, error) {
	v, err := b.ReadVarint()
	return HandshakeAck{ProtocolVersion: v}, err
}

type CreateUI struct {
	clientBound
	Frame string
	URL   string
}

func (m CreateUI) Write(b *buffer.Buffer) error {
	if err := b.WriteString(m.Frame, buffer.DefaultStringLimit); err != nil {
		return err
	}
	return b.WriteString(m.URL, buffer.DefaultStringLimit)
}

func decodeCreateUI(b *buffer.Buffer) (m CreateUI, err error) {
	if m.Frame, err = b.ReadString(buffer.DefaultStringLimit); err != nil {
		return m, err
	}
	m.URL, err = b.ReadString(buffer.DefaultStringLimit)
	return m, err
}

type DestroyUI struct {
	clientBound
	Frame string
}

func (m DestroyUI) Write(b *buffer.Buffer) error {
	return b.WriteString(m.Frame, buffer.DefaultStringLimit)
}

func decodeDestroyUI(b *buffer.Buffer) (m DestroyUI, err error) {
	m.Frame, err = b.ReadString(buffer.DefaultStringLimit)
	return m, err
}

type UIStateAction uint8

const (
	UIActionFocus UIStateAction = iota
	UIActionVisibility
)

var uiStateActions = []UIStateAction{UIActionFocus, UIActionVisibility}

type SetUIState struct {
	clientBound
	Frame  string
	Action UIStateAction
	State  bool
}

func (m SetUIState) Write(b *buffer.Buffer) error {
	if err := b.WriteString(m.Frame, buffer.DefaultStringLimit); err != nil {
		return err
	}
	if err := buffer.WriteEnum(b, m.Action, uiStateActions); err != nil {
		return err
	}
	b.WriteBool(m.State)
	return nil
}

func decodeSetUIState(b *buffer.Buffer) (m SetUIState, err error) {
	if m.Frame, err = b.ReadString(buffer.DefaultStringLimit); err != nil {
		return m, err
	}
	if m.Action, err = buffer.ReadEnum(b, uiStateActions); err != nil {
		return m, err
	}
	m.State, err = b.ReadBool()
	return m, err
}

type UIMessage struct {
	clientBound
	Frame   string
	Payload string
}

func (m UIMessage) Write(b *buffer.Buffer) error {
	if err := b.WriteString(m.Frame, buffer.DefaultStringLimit); err != nil {
		return err
	}
	return b.WriteString(m.Payload, buffer.DefaultStringLimit)
}

func decodeUIMessage(b *buffer.Buffer) (m UIMessage, err error) {
	if m.Frame, err = b.ReadString(buffer.DefaultStringLimit); err != nil {
		return m, err
	}
	m.Payload, err = b.ReadString(buffer.DefaultStringLimit)
	return m, err
}

// UIResponse answers UIRequest. Found is false when no handler exists for
// the requested namespace and call.
type UIResponse struct {
	clientBound
	ID      uint32
	Found   bool
	Payload []byte
}

func (m UIResponse) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ID)
	b.WriteBool(m.Found)
	b.WriteByteArray(m.Payload)
	return nil
}

func decodeUIResponse(b *buffer.Buffer) (m UIResponse, err error) {
	if m.ID, err = b.ReadVarint(); err != nil {
		return m, err
	}
	if m.Found, err = b.ReadBool(); err != nil {
		return m, err
	}
	m.Payload, err = b.ReadByteArray(b.Remaining())
	return m, err
}

// GetEnabledMods is a server-initiated query answered by EnabledMods.
type GetEnabledMods struct {
	clientBound
	ID uint32
}

func (m GetEnabledMods) Write(b *buffer.Buffer) error {
	b.WriteVarint(m.ID)
	return nil
}

func decodeGetEnabledMods(b *buffer.Buffer) (m GetEnabledMods, err error) {
	m.ID, err = b.ReadVarint()
	return m, err
}

type ModsActionType uint8

const (
	ModsBlock ModsActionType = iota
	ModsUnblock
	ModsEnable
	ModsDisable
)

var modsActionTypes = []ModsActionType{ModsBlock, ModsUnblock, ModsEnable, ModsDisable}

type ModsAction struct {
	clientBound
	Action ModsActionType
	Mods   []FeatherMod
}

func (m ModsAction) Write(b *buffer.Buffer) error {
	if err := buffer.WriteEnum(b, m.Action, modsActionTypes); err != nil {
		return err
	}
	return buffer.WriteCollection(b, m.Mods, encodeFeatherMod)
}

func decodeModsAction(b *buffer.Buffer) (m ModsAction, err error) {
	if m.Action, err = buffer.ReadEnum(b, modsActionTypes); err != nil {
		return m, err
	}
	m.Mods, err = buffer.ReadCollection(b, decodeFeatherMod)
	return m, err
}

type BackgroundAction uint8

const (
	BackgroundHash BackgroundAction = iota
	BackgroundData
)

var backgroundActions = []BackgroundAction{BackgroundHash, BackgroundData}

type ServerBackground struct {
	clientBound
	Action BackgroundAction
	Data   []byte
}

func (m ServerBackground) Write(b *buffer.Buffer) error {
	if err := buffer.WriteEnum(b, m.Action, backgroundActions); err != nil {
		return err
	}
	b.WriteByteArray(m.Data)
	return nil
}

func decodeServerBackground(b *buffer.Buffer) (m ServerBackground, err error) {
	if m.Action, err = buffer.ReadEnum(b, backgroundActions); err != nil {
		return m, err
	}
	m.Data, err = b.ReadByteArray(b.Remaining())
	return m, err
}

// WaypointCreate places a waypoint. Coordinates travel as two's complement
// varints, so negative values take the full five groups.
type WaypointCreate struct {
	clientBound
	ID       uuid.UUID
	WorldID  uuid.UUID
	X, Y, Z  int32
	Color    int32
	Name     *string
	Duration *uint32
}

func (m WaypointCreate) Write(b *buffer.Buffer) error {
	b.WriteUUID(m.ID)
	b.WriteUUID(m.WorldID)
	b.WriteVarint(uint32(m.X))
	b.WriteVarint(uint32(m.Y))
	b.WriteVarint(uint32(m.Z))
	b.WriteInt32(m.Color)
	if err := buffer.WriteOptional(b, m.Name, buffer.StringEncoder(buffer.DefaultStringLimit)); err != nil {
		return err
	}
	return buffer.WriteOptional(b, m.Duration, buffer.EncodeVarint)
}

func decodeWaypointCreate(b *buffer.Buffer) (m WaypointCreate, err error) {
	if m.ID, err = b.ReadUUID(); err != nil {
		return m, err
	}
	if m.WorldID, err = b.ReadUUID(); err != nil {
		return m, err
	}
	for _, dst := range []*int32{&m.X, &m.Y, &m.Z} {
		v, err := b.ReadVarint()
		if err != nil {
			return m, err
		}
		*dst = int32(v)
	}
	if m.Color, err = b.ReadInt32(); err != nil {
		return m, err
	}
	if m.Name, err = buffer.ReadOptional(b, buffer.StringDecoder(buffer.DefaultStringLimit)); err != nil {
		return m, err
	}
	m.Duration, err = buffer.ReadOptional(b, (*buffer.Buffer).ReadVarint)
	return m, err
}

type WaypointDestroy struct {
	clientBound
	IDs []uuid.UUID
}

func (m WaypointDestroy) Write(b *buffer.Buffer) error {
	return buffer.WriteCollection(b, m.IDs, buffer.EncodeUUID)
}

func decodeWaypointDestroy(b *buffer.Buffer) (m WaypointDestroy, err error) {
	m.IDs, err = buffer.ReadCollection(b, (*buffer.Buffer).ReadUUID)
	return m, err
}

type WorldChange struct {
	clientBound
	WorldID uuid.UUID
}

func (m WorldChange) Write(b *buffer.Buffer) error {
	b.WriteUUID(m.WorldID)
	return nil
}

func decodeWorldChange(b *buffer.Buffer) (m WorldChange, err error) {
	m.WorldID, err = b.ReadUUID()
	return m, err
}

// SetDiscordActivity updates the client's rich presence. Absent fields are
// left as they are.
type SetDiscordActivity struct {
	clientBound
	Image     *string
	ImageText *string
	State     *string
	Details   *string
}

func (m SetDiscordActivity) Write(b *buffer.Buffer) error {
	enc := buffer.StringEncoder(DiscordActivityLimit)
	for _, field := range []*string{m.Image, m.ImageText, m.State, m.Details} {
		if err := buffer.WriteOptional(b, field, enc); err != nil {
			return err
		}
	}
	return nil
}

func decodeSetDiscordActivity(b *buffer.Buffer) (m SetDiscordActivity, err error) {
	dec := buffer.StringDecoder(DiscordActivityLimit)
	for _, dst := range []**string{&m.Image, &m.ImageText, &m.State, &m.Details} {
		if *dst, err = buffer.ReadOptional(b, dec); err != nil {
			return m, err
		}
	}
	return m, nil
}

type ClearDiscordActivity struct {
	clientBound
}

func (ClearDiscordActivity) Write(*buffer.Buffer) error { return nil }

func decodeClearDiscordActivity(*buffer.Buffer) (ClearDiscordActivity, error) {
	return ClearDiscordActivity{}, nil
}

type MissPenaltyState struct {
	clientBound
	Enabled bool
}

func (m MissPenaltyState) Write(b *buffer.Buffer) error {
	b.WriteBool(m.Enabled)
	return nil
}

func decodeMissPenaltyState(b *buffer.Buffer) (m MissPenaltyState, err error) {
	m.Enabled, err = b.ReadBool()
	return m, err
}

type ModsType uint8

const (
	ModsTypePlatform ModsType = iota
	ModsTypeFeather
)

var modsTypes = []ModsType{ModsTypePlatform, ModsTypeFeather}

// ModsRequest asks the client for its platform or feather mod list.
type ModsRequest struct {
	clientBound
	Type ModsType
}

func (m ModsRequest) Write(b *buffer.Buffer) error {
	return buffer.WriteEnum(b, m.Type, modsTypes)
}

func decodeModsRequest(b *buffer.Buffer) (m ModsRequest, err error) {
	m.Type, err = buffer.ReadEnum(b, modsTypes)
	return m, err
}
