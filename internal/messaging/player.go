package messaging

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/blukai/featherlink/internal/protocol"
	"github.com/blukai/featherlink/internal/rpc"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

// Identity is what the host knows about a connection before it speaks.
type Identity struct {
	ID          uuid.UUID
	Name        string
	Permissions []string
}

// Player is a connection that completed the handshake.
type Player struct {
	identity     Identity
	platform     protocol.Platform
	platformMods []protocol.PlatformMod
	featherMods  []protocol.FeatherMod

	conn    *Conn
	service *Service
	calls   *rpc.Calls[[]protocol.FeatherMod]

	online         *atomic.Bool
	sentBackground *atomic.Bool

	mu      sync.Mutex
	blocked map[protocol.FeatherMod]struct{}
}

func newPlayer(conn *Conn, service *Service, hello *protocol.ClientHello) *Player {
	return &Player{
		identity:     conn.identity,
		platform:     hello.Platform,
		platformMods: hello.PlatformMods,
		featherMods:  hello.FeatherMods,

		conn:    conn,
		service: service,
		calls:   rpc.NewCalls[[]protocol.FeatherMod](service.callTimeout, service.now),

		online:         atomic.NewBool(true),
		sentBackground: atomic.NewBool(false),

		blocked: make(map[protocol.FeatherMod]struct{}),
	}
}

func (p *Player) ID() uuid.UUID { return p.identity.ID }

func (p *Player) Name() string { return p.identity.Name }

func (p *Player) Platform() protocol.Platform { return p.platform }

// PlatformMods is the platform mod list sent in the hello.
func (p *Player) PlatformMods() []protocol.PlatformMod {
	return slices.Clone(p.platformMods)
}

// FeatherMods is the feather mod list sent in the hello.
func (p *Player) FeatherMods() []protocol.FeatherMod {
	return slices.Clone(p.featherMods)
}

func (p *Player) HasPermission(permission string) bool {
	return lo.Contains(p.identity.Permissions, permission)
}

// Online is false once the connection went away.
func (p *Player) Online() bool { return p.online.Load() }

// Notify shows a server notice to the player through the service handler.
func (p *Player) Notify(message string) {
	p.service.handler.Notice(p, message)
}

func (p *Player) Send(m protocol.Message) error {
	return p.conn.endpoint.Send(m)
}

func (p *Player) sendModsAction(action protocol.ModsActionType, mods []protocol.FeatherMod) error {
	mods = lo.Uniq(mods)
	if len(mods) == 0 {
		return nil
	}
	return p.Send(protocol.ModsAction{Action: action, Mods: mods})
}

// BlockMods stops the client from using mods and remembers them as blocked.
func (p *Player) BlockMods(mods []protocol.FeatherMod) error {
	p.mu.Lock()
	for _, mod := range mods {
		p.blocked[mod] = struct{}{}
	}
	p.mu.Unlock()

	return p.sendModsAction(protocol.ModsBlock, mods)
}

func (p *Player) UnblockMods(mods []protocol.FeatherMod) error {
	p.mu.Lock()
	for _, mod := range mods {
		delete(p.blocked, mod)
	}
	p.mu.Unlock()

	return p.sendModsAction(protocol.ModsUnblock, mods)
}

func (p *Player) EnableMods(mods []protocol.FeatherMod) error {
	return p.sendModsAction(protocol.ModsEnable, mods)
}

func (p *Player) DisableMods(mods []protocol.FeatherMod) error {
	return p.sendModsAction(protocol.ModsDisable, mods)
}

// BlockedMods returns the mods blocked so far, sorted by name.
func (p *Player) BlockedMods() []protocol.FeatherMod {
	p.mu.Lock()
	mods := lo.Keys(p.blocked)
	p.mu.Unlock()

	slices.SortFunc(mods, func(a, b protocol.FeatherMod) int {
		return strings.Compare(a.Name, b.Name)
	})
	return mods
}

// EnabledMods asks the client which feather mods are enabled right now and
// waits for the answer, a timeout or ctx.
func (p *Player) EnabledMods(ctx context.Context) ([]protocol.FeatherMod, error) {
	call, err := p.calls.Issue()
	if err != nil {
		return nil, fmt.Errorf("could not issue enabled mods call: %w", err)
	}

	if err := p.Send(protocol.GetEnabledMods{ID: call.ID()}); err != nil {
		p.calls.Forget(call.ID(), err)
		return nil, fmt.Errorf("could not request enabled mods: %w", err)
	}

	mods, err := call.Wait(ctx)
	if err != nil {
		p.calls.Forget(call.ID(), err)
		return nil, fmt.Errorf("could not get enabled mods: %w", err)
	}
	return mods, nil
}

func (p *Player) replyUI(id uint32, found bool, payload []byte) error {
	return p.Send(protocol.UIResponse{ID: id, Found: found, Payload: payload})
}

// sendBackground answers the first background request of the player.
func (p *Player) sendBackground(image []byte) error {
	if len(image) == 0 || !p.sentBackground.CompareAndSwap(false, true) {
		return nil
	}
	return p.Send(protocol.ServerBackground{Action: protocol.BackgroundData, Data: image})
}

func (p *Player) leave() {
	p.online.Store(false)
	p.calls.Close()
}
