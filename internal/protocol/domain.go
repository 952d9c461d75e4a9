package protocol

import (
	"github.com/blukai/featherlink/internal/buffer"
)

// ModNameLimit caps mod names and versions.
const ModNameLimit = 64

type Platform uint8

const (
	PlatformForge Platform = iota
	PlatformFabric
)

var platforms = []Platform{PlatformForge, PlatformFabric}

func (p Platform) String() string {
	switch p {
	case PlatformForge:
		return "forge"
	case PlatformFabric:
		return "fabric"
	default:
		return "unknown"
	}
}

// ParsePlatform is the inverse of Platform.String.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range platforms {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// FeatherMod is a mod shipped by the client itself.
type FeatherMod struct {
	Name string
}

func encodeFeatherMod(b *buffer.Buffer, m FeatherMod) error {
	return b.WriteString(m.Name, ModNameLimit)
}

func decodeFeatherMod(b *buffer.Buffer) (FeatherMod, error) {
	name, err := b.ReadString(ModNameLimit)
	return FeatherMod{Name: name}, err
}

// PlatformMod is a third-party mod loaded by the mod platform.
type PlatformMod struct {
	Name    string
	Version string
}

func encodePlatformMod(b *buffer.Buffer, m PlatformMod) error {
	if err := b.WriteString(m.Name, ModNameLimit); err != nil {
		return err
	}
	return b.WriteString(m.Version, ModNameLimit)
}

func decodePlatformMod(b *buffer.Buffer) (PlatformMod, error) {
	name, err := b.ReadString(ModNameLimit)
	if err != nil {
		return PlatformMod{}, err
	}
	version, err := b.ReadString(ModNameLimit)
	if err != nil {
		return PlatformMod{}, err
	}
	return PlatformMod{Name: name, Version: version}, nil
}
