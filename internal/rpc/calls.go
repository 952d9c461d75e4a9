package rpc

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultCallTimeout is how long a server initiated call waits for its reply.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrTimeout means nobody replied in time; it is not the same as a call
	// answered as not found.
	ErrTimeout = errors.New("rpc call timed out")
	ErrClosed  = errors.New("rpc calls closed")
)

// Call is one outstanding server initiated call. It resolves exactly once,
// with the reply, a timeout or ErrClosed.
type Call[T any] struct {
	id       uint32
	deadline time.Time

	resolved *atomic.Bool
	done     chan struct{}
	value    T
	err      error
}

func (c *Call[T]) ID() uint32 { return c.id }

func (c *Call[T]) Deadline() time.Time { return c.deadline }

// Done is closed once the call is resolved.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Result must only be called after Done is closed.
func (c *Call[T]) Result() (T, error) {
	return c.value, c.err
}

// Wait blocks until the call resolves or ctx is done. Giving up on ctx does
// not resolve the call.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Call[T]) resolve(v T, err error) bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.value = v
	c.err = err
	close(c.done)
	return true
}

type deadline struct {
	at time.Time
	id uint32
}

// deadlines is a min-heap ordered by (at, id).
type deadlines []deadline

func (d deadlines) Len() int { return len(d) }

func (d deadlines) Less(i, j int) bool {
	if d[i].at.Equal(d[j].at) {
		return d[i].id < d[j].id
	}
	return d[i].at.Before(d[j].at)
}

func (d deadlines) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *deadlines) Push(x any) { *d = append(*d, x.(deadline)) }

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	x := old[n-1]
	*d = old[:n-1]
	return x
}

// Calls correlates the server initiated calls of one connection with their
// replies. Ids come from a per connection counter. Expired calls are only
// swept when the owner calls Expire, usually on a fixed tick.
type Calls[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	next      uint32
	pending   map[uint32]*Call[T]
	deadlines deadlines
	closed    bool
}

// NewCalls returns an empty cache. ttl <= 0 means DefaultCallTimeout, a nil now
// means time.Now.
func NewCalls[T any](ttl time.Duration, now func() time.Time) *Calls[T] {
	if ttl <= 0 {
		ttl = DefaultCallTimeout
	}
	if now == nil {
		now = time.Now
	}

	return &Calls[T]{
		ttl:     ttl,
		now:     now,
		pending: make(map[uint32]*Call[T]),
	}
}

// Issue allocates the next id and starts its timeout.
func (c *Calls[T]) Issue() (*Call[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	call := &Call[T]{
		id:       c.next,
		deadline: c.now().Add(c.ttl),
		resolved: atomic.NewBool(false),
		done:     make(chan struct{}),
	}
	c.next++

	c.pending[call.id] = call
	heap.Push(&c.deadlines, deadline{at: call.deadline, id: call.id})
	return call, nil
}

// Resolve completes the call with id. It reports false when the call is
// unknown, already expired or already resolved.
func (c *Calls[T]) Resolve(id uint32, v T) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return false
	}
	return call.resolve(v, nil)
}

// Forget fails the call with id with err and drops it, for calls whose request
// never made it out or whose caller gave up.
func (c *Calls[T]) Forget(id uint32, err error) {
	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		var zero T
		call.resolve(zero, err)
	}
}

// Expire fails every call whose deadline is not after now with ErrTimeout and
// returns how many it failed.
func (c *Calls[T]) Expire(now time.Time) int {
	var expired []*Call[T]

	c.mu.Lock()
	for len(c.deadlines) > 0 && !c.deadlines[0].at.After(now) {
		d := heap.Pop(&c.deadlines).(deadline)
		call, ok := c.pending[d.id]
		// resolved calls leave their deadline behind
		if !ok || !call.deadline.Equal(d.at) {
			continue
		}
		delete(c.pending, d.id)
		expired = append(expired, call)
	}
	c.mu.Unlock()

	n := 0
	var zero T
	for _, call := range expired {
		if call.resolve(zero, ErrTimeout) {
			n++
		}
	}
	return n
}

// Close fails every outstanding call with ErrClosed. Issue fails afterwards.
func (c *Calls[T]) Close() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*Call[T])
	c.deadlines = nil
	c.closed = true
	c.mu.Unlock()

	var zero T
	for _, call := range pending {
		call.resolve(zero, ErrClosed)
	}
}

// Len is the number of outstanding calls.
func (c *Calls[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
