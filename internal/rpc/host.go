// Package rpc routes client initiated ui calls to registered handlers and
// correlates server initiated calls with their replies.
package rpc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"go.uber.org/atomic"
)

var (
	ErrDuplicateCall    = errors.New("rpc call already registered")
	ErrControllerInUse  = errors.New("rpc controller already registered")
	ErrAlreadyResponded = errors.New("rpc call already answered")
	ErrEmptyOwner       = errors.New("rpc owner must not be empty")
)

// Source identifies the connection a call came from.
type Source interface {
	ID() uuid.UUID
}

type Request struct {
	Source    Source
	Namespace string
	Call      string
	Body      string
}

type Handler func(req *Request, resp *Response)

// ReplyFunc sends (id, found, payload) back to the caller.
type ReplyFunc func(id uint32, found bool, payload []byte) error

// Response answers exactly one call. It may be kept and answered later, from
// any goroutine.
type Response struct {
	id        uint32
	reply     ReplyFunc
	responded *atomic.Bool
}

func newResponse(id uint32, reply ReplyFunc) *Response {
	return &Response{
		id:        id,
		reply:     reply,
		responded: atomic.NewBool(false),
	}
}

func (r *Response) ID() uint32 { return r.id }

func (r *Response) Responded() bool { return r.responded.Load() }

// Respond sends payload as the successful answer. Every call after the first
// returns ErrAlreadyResponded and sends nothing.
func (r *Response) Respond(payload []byte) error {
	return r.answer(true, payload)
}

// Fail answers the call as not found.
func (r *Response) Fail() error {
	return r.answer(false, nil)
}

func (r *Response) answer(found bool, payload []byte) error {
	if !r.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	if err := r.reply(r.id, found, payload); err != nil {
		return fmt.Errorf("could not send rpc response %d: %w", r.id, err)
	}
	return nil
}

type binding struct {
	call string
	fn   Handler
}

// Controller is a batch of handlers registered together under one owner.
type Controller struct {
	bindings []binding
}

func NewController() *Controller {
	return &Controller{}
}

// Handle adds fn under call. Problems are only reported by Host.Register.
func (c *Controller) Handle(call string, fn Handler) *Controller {
	c.bindings = append(c.bindings, binding{call: call, fn: fn})
	return c
}

type registered struct {
	controller *Controller
	fn         Handler
}

// Host holds the handlers of every owner. Namespaces are owner names,
// lower cased.
type Host struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]registered

	logger *log.Logger
}

func NewHost(logger *log.Logger) *Host {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Host{
		namespaces: make(map[string]map[string]registered),
		logger:     logger,
	}
}

func normalize(namespace string) string {
	return strings.ToLower(namespace)
}

// Register adds every handler of c to owner's namespace, or none of them.
// Handlers without a name or a function are skipped with a warning; a call
// name used twice, within c or against handlers owner already has, fails the
// whole registration.
func (h *Host) Register(owner string, c *Controller) error {
	if owner == "" {
		return ErrEmptyOwner
	}
	namespace := normalize(owner)

	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.namespaces[namespace]
	for _, r := range existing {
		if r.controller == c {
			return fmt.Errorf("%w: in namespace %q", ErrControllerInUse, namespace)
		}
	}

	batch := make(map[string]Handler, len(c.bindings))
	for _, b := range c.bindings {
		if b.call == "" || b.fn == nil {
			h.logger.Warn().
				Str("namespace", namespace).
				Str("call", b.call).
				Msg("skipping rpc handler without name or function")
			continue
		}

		if _, ok := existing[b.call]; ok {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateCall, namespace, b.call)
		}
		if _, ok := batch[b.call]; ok {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateCall, namespace, b.call)
		}
		batch[b.call] = b.fn
	}

	if len(batch) == 0 {
		return nil
	}

	if existing == nil {
		existing = make(map[string]registered, len(batch))
		h.namespaces[namespace] = existing
	}
	for call, fn := range batch {
		existing[call] = registered{controller: c, fn: fn}
	}

	h.logger.Debug().
		Str("namespace", namespace).
		Int("handlers", len(batch)).
		Msg("registered rpc controller")

	return nil
}

// Unregister removes the handlers c added to owner's namespace.
func (h *Host) Unregister(owner string, c *Controller) {
	namespace := normalize(owner)

	h.mu.Lock()
	defer h.mu.Unlock()

	handlers := h.namespaces[namespace]
	for call, r := range handlers {
		if r.controller == c {
			delete(handlers, call)
		}
	}
	if len(handlers) == 0 {
		delete(h.namespaces, namespace)
	}
}

// UnregisterOwner drops owner's whole namespace.
func (h *Host) UnregisterOwner(owner string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.namespaces, normalize(owner))
}

func (h *Host) Lookup(namespace, call string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.namespaces[normalize(namespace)][call]
	return r.fn, ok
}

// Dispatch runs the handler registered for (namespace, call). Unknown calls
// are answered as not found right away. A handler that panics is answered as
// not found too, unless it already responded.
func (h *Host) Dispatch(src Source, namespace, call string, id uint32, body string, reply ReplyFunc) {
	fn, ok := h.Lookup(namespace, call)
	if !ok {
		h.logger.Debug().
			Str("namespace", namespace).
			Str("call", call).
			Msg("no rpc handler")

		if err := reply(id, false, nil); err != nil {
			h.logger.Error().Msgf("could not send rpc not found response %d: %v", id, err)
		}
		return
	}

	resp := newResponse(id, reply)
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		h.logger.Error().
			Str("namespace", namespace).
			Str("call", call).
			Msgf("rpc handler panicked: %v", r)

		if err := resp.Fail(); err != nil && !errors.Is(err, ErrAlreadyResponded) {
			h.logger.Error().Msgf("could not answer failed rpc call: %v", err)
		}
	}()

	fn(&Request{
		Source:    src,
		Namespace: normalize(namespace),
		Call:      call,
		Body:      body,
	}, resp)
}
