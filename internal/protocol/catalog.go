package protocol

import (
	"github.com/blukai/featherlink/internal/buffer"
	"github.com/blukai/featherlink/internal/debug"
)

// NOTE: ids are part of the wire format. new messages are appended with the
// next id; existing ids never move.

const (
	IDHandshake ID = iota
	IDClientHello
	IDUIStateChange
	IDUILoadError
	IDUIRequest
	IDEnabledMods
	IDRequestServerBackground
	IDFeatherModsResponse
	IDPlatformModsResponse
)

const (
	IDHandshakeAck ID = iota
	IDCreateUI
	IDDestroyUI
	IDSetUIState
	IDUIMessage
	IDUIResponse
	IDGetEnabledMods
	IDModsAction
	IDServerBackground
	IDWaypointCreate
	IDWaypointDestroy
	IDWorldChange
	IDSetDiscordActivity
	IDClearDiscordActivity
	IDMissPenaltyState
	IDModsRequest
)

var (
	ServerBoundMessages = newServerBoundRegistry()
	ClientBoundMessages = newClientBoundRegistry()
)

func mustRegister[M Message](r *Registry, id ID, decode func(b *buffer.Buffer) (M, error)) {
	debug.NoErr(Register(r, id, decode))
}

func newServerBoundRegistry() *Registry {
	r := NewRegistry(ServerBound)
	mustRegister(r, IDHandshake, decodeHandshake)
	mustRegister(r, IDClientHello, decodeClientHello)
	mustRegister(r, IDUIStateChange, decodeUIStateChange)
	mustRegister(r, IDUILoadError, decodeUILoadError)
	mustRegister(r, IDUIRequest, decodeUIRequest)
	mustRegister(r, IDEnabledMods, decodeEnabledMods)
	mustRegister(r, IDRequestServerBackground, decodeRequestServerBackground)
	mustRegister(r, IDFeatherModsResponse, decodeFeatherModsResponse)
	mustRegister(r, IDPlatformModsResponse, decodePlatformModsResponse)
	return r
}

func newClientBoundRegistry() *Registry {
	r := NewRegistry(ClientBound)
	mustRegister(r, IDHandshakeAck, decodeHandshakeAck)
	mustRegister(r, IDCreateUI, decodeCreateUI)
	mustRegister(r, IDDestroyUI, decodeDestroyUI)
	mustRegister(r, IDSetUIState, decodeSetUIState)
	mustRegister(r, IDUIMessage, decodeUIMessage)
	mustRegister(r, IDUIResponse, decodeUIResponse)
	mustRegister(r, IDGetEnabledMods, decodeGetEnabledMods)
	mustRegister(r, IDModsAction, decodeModsAction)
	mustRegister(r, IDServerBackground, decodeServerBackground)
	mustRegister(r, IDWaypointCreate, decodeWaypointCreate)
	mustRegister(r, IDWaypointDestroy, decodeWaypointDestroy)
	mustRegister(r, IDWorldChange, decodeWorldChange)
	mustRegister(r, IDSetDiscordActivity, decodeSetDiscordActivity)
	mustRegister(r, IDClearDiscordActivity, decodeClearDiscordActivity)
	mustRegister(r, IDMissPenaltyState, decodeMissPenaltyState)
	mustRegister(r, IDModsRequest, decodeModsRequest)
	return r
}
