package handshake

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blukai/featherlink/internal/protocol"
	"github.com/phuslu/log"
	"go.uber.org/atomic"
)

const (
	NotifyPermission   = "feather-server-api.notify"
	DefaultNotifyDelay = 3 * time.Second
)

// Recipient is a joined user that may be told about the out of date protocol.
type Recipient interface {
	HasPermission(permission string) bool
	// Online is checked again when the delayed notice fires.
	Online() bool
	Notify(message string)
}

// Notifier remembers, process wide, that some peer spoke a newer protocol and
// warns qualifying users about it shortly after they join.
type Notifier struct {
	delay time.Duration
	// zero until a newer peer was seen. peers newer than Version never
	// report zero.
	version *atomic.Uint32

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	logger *log.Logger
}

func NewNotifier(delay time.Duration, logger *log.Logger) *Notifier {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	if delay <= 0 {
		delay = DefaultNotifyDelay
	}

	return &Notifier{
		delay:   delay,
		version: atomic.NewUint32(0),
		timers:  make(map[*time.Timer]struct{}),
		logger:  logger,
	}
}

// MarkOutOfDate records the peer's version. Only the first call has an effect;
// it reports whether it was that call.
func (n *Notifier) MarkOutOfDate(peerVersion uint32) bool {
	if !n.version.CompareAndSwap(0, peerVersion) {
		return false
	}

	n.logger.Warn().
		Uint32("peer_version", peerVersion).
		Uint32("version", protocol.Version).
		Msg("peer speaks a newer protocol")

	return true
}

// OutOfDate returns the version recorded by MarkOutOfDate.
func (n *Notifier) OutOfDate() (uint32, bool) {
	v := n.version.Load()
	return v, v != 0
}

func (n *Notifier) Message() string {
	v, _ := n.OutOfDate()
	return fmt.Sprintf(
		"[Feather Server API] Is potentially out of date. Found protocol version: %d. Plugin protocol version: %d",
		v,
		protocol.Version,
	)
}

// OnJoin schedules the out of date notice for r when there is something to
// say and r is allowed to hear it.
func (n *Notifier) OnJoin(r Recipient) {
	if _, ok := n.OutOfDate(); !ok {
		return
	}
	if !r.HasPermission(NotifyPermission) {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(n.delay, func() {
		n.mu.Lock()
		delete(n.timers, timer)
		n.mu.Unlock()

		if r.Online() {
			r.Notify(n.Message())
		}
	})
	n.timers[timer] = struct{}{}
}

// Close cancels every notice that has not fired yet.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for timer := range n.timers {
		timer.Stop()
		delete(n.timers, timer)
	}
}
