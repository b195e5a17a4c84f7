package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInvalidRate = errors.New("heartbeat rate must be positive")

// Callback receives the seconds elapsed since the previous step.
type Callback func(deltaTime float64)

// Heartbeat is the frame clock grinders and other per-frame systems connect to.
// A callback connected during a step is first called on the next step; one
// disconnected during a step is not called again, even later in that step.
type Heartbeat struct {
	mu    sync.Mutex
	conns []*Connection
	next  uint64

	frames    atomic.Int64
	totalTime atomic.Int64 // nanoseconds of simulated time
}

// Connection is the handle returned by Connect.
type Connection struct {
	id        uint64
	hb        *Heartbeat
	fn        Callback
	connected atomic.Bool
}

func New() *Heartbeat {
	return &Heartbeat{}
}

// Connect registers fn to be called on every step.
func (h *Heartbeat) Connect(fn Callback) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	c := &Connection{id: h.next, hb: h, fn: fn}
	c.connected.Store(true)

	conns := make([]*Connection, len(h.conns), len(h.conns)+1)
	copy(conns, h.conns)
	h.conns = append(conns, c)
	return c
}

// Disconnect stops further calls. Safe to call repeatedly and from inside the callback.
func (c *Connection) Disconnect() {
	if c == nil || !c.connected.Swap(false) {
		return
	}
	c.hb.remove(c)
}

func (c *Connection) Connected() bool {
	return c != nil && c.connected.Load()
}

// Step advances the clock by dt seconds and calls every connected callback in
// connection order.
func (h *Heartbeat) Step(dt float64) {
	h.mu.Lock()
	conns := h.conns
	h.mu.Unlock()

	h.frames.Add(1)
	h.totalTime.Add(int64(dt * float64(time.Second)))

	for _, c := range conns {
		if c.connected.Load() {
			c.fn(dt)
		}
	}
}

// Run steps the heartbeat rate times per second until ctx is done. Delta time is
// measured from the wall clock, so a late tick reports the time that actually passed.
func (h *Heartbeat) Run(ctx context.Context, rate int) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			h.Step(dt)
		}
	}
}

// Connections returns how many callbacks are currently connected.
func (h *Heartbeat) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Heartbeat) FrameCount() int64 { return h.frames.Load() }

func (h *Heartbeat) TotalTime() time.Duration { return time.Duration(h.totalTime.Load()) }

func (h *Heartbeat) remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, other := range h.conns {
		if other.id != c.id {
			conns = append(conns, other)
		}
	}
	h.conns = conns
}
