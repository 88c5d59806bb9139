// Package hotplug sequences the integration pipeline for removable
// storage events. Handling is linearized per device identity while
// distinct devices proceed concurrently.
package hotplug

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eikenb/usb-appsync/internal/locate"
	"github.com/eikenb/usb-appsync/internal/mounts"
	"github.com/eikenb/usb-appsync/internal/session"
)

// Kind is the hotplug event type.
type Kind int

const (
	Add Kind = iota + 1
	Remove
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	}
	return "unknown"
}

// Event is one hotplug notification. DeviceID is an opaque key used
// only to serialize handling per physical partition.
type Event struct {
	Kind     Kind
	DeviceID string
}

// State of a device in the integration lifecycle.
type State int

const (
	Idle State = iota
	Resolving
	Integrated
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Integrated:
		return "integrated"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// MountResolver turns a device id into a confirmed mount record.
type MountResolver interface {
	Resolve(ctx context.Context, deviceID string) (mounts.Record, error)
}

// Locator finds the launch candidate on a mounted volume.
type Locator interface {
	Find(root string) (locate.Candidate, error)
}

// SessionResolver produces the active graphical session.
type SessionResolver interface {
	Resolve() (session.Session, error)
}

// EntrySynchronizer maintains the per-user launcher entry.
type EntrySynchronizer interface {
	SyncCreate(session.Session, locate.Candidate) error
	SyncRemove(session.Session) error
}

type queued struct {
	ctx context.Context
	ev  Event
}

// deviceState is the mailbox and lifecycle state for one device id. A
// single worker goroutine drains the queue, which linearizes handling
// per device.
type deviceState struct {
	queue chan queued

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc // cancels an in-flight Add resolution
	removes int                // Remove events enqueued but not yet handled
}

// noteRemove is called at enqueue time so a Remove can abort an Add
// that is still polling for its mount, and so an Add queued ahead of a
// Remove never writes an entry the Remove would have to race.
func (d *deviceState) noteRemove() {
	d.mu.Lock()
	d.removes++
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

func (d *deviceState) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Coordinator dispatches events to per-device serialized handlers and
// runs the resolution pipeline for each.
type Coordinator struct {
	mounts   MountResolver
	locator  Locator
	sessions SessionResolver
	entries  EntrySynchronizer

	mu      sync.Mutex
	devices map[string]*deviceState
	closed  bool
	wg      sync.WaitGroup
}

func New(m MountResolver, l Locator, s SessionResolver, e EntrySynchronizer) *Coordinator {
	return &Coordinator{
		mounts:   m,
		locator:  l,
		sessions: s,
		entries:  e,
		devices:  make(map[string]*deviceState),
	}
}

// Handle enqueues one event for its device. Events for the same device
// are handled in arrival order; a Remove additionally cancels any Add
// for that device still in flight. The enqueue happens under the
// coordinator lock so it cannot race a Close of the device queues; a
// full queue therefore stalls dispatch, not the workers draining it.
func (c *Coordinator) Handle(ctx context.Context, ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Warn().Str("device_id", ev.DeviceID).Msg("coordinator closed, dropping event")
		return
	}
	dev := c.deviceLocked(ev.DeviceID)
	if ev.Kind == Remove {
		dev.noteRemove()
	}
	dev.queue <- queued{ctx: ctx, ev: ev}
	c.mu.Unlock()
	log.Info().Str("device_id", ev.DeviceID).Stringer("kind", ev.Kind).Msg("device event detected")
}

// DeviceState reports the lifecycle state for a device id, Idle for
// devices never seen.
func (c *Coordinator) DeviceState(id string) State {
	c.mu.Lock()
	dev, ok := c.devices[id]
	c.mu.Unlock()
	if !ok {
		return Idle
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.state
}

// Close stops accepting events and waits for all queued handlers to
// finish. A Handle call racing Close either lands before the queues
// close and is drained, or is dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, dev := range c.devices {
		close(dev.queue)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// deviceLocked returns the state for a device id, starting its worker
// on first sight. The caller holds c.mu.
func (c *Coordinator) deviceLocked(id string) *deviceState {
	dev, ok := c.devices[id]
	if !ok {
		dev = &deviceState{queue: make(chan queued, 16)}
		c.devices[id] = dev
		c.wg.Add(1)
		go c.runDevice(dev, id)
	}
	return dev
}

func (c *Coordinator) runDevice(dev *deviceState, id string) {
	defer c.wg.Done()
	for q := range dev.queue {
		switch q.ev.Kind {
		case Add:
			c.handleAdd(q.ctx, dev, id)
		case Remove:
			c.handleRemove(dev, id)
		}
	}
}

// handleAdd runs the full resolution pipeline. Any step failure
// short-circuits the rest, logs its reason and leaves the device
// Aborted with no partial entry written.
func (c *Coordinator) handleAdd(ctx context.Context, dev *deviceState, id string) {
	dev.mu.Lock()
	if dev.removes > 0 {
		dev.state = Aborted
		dev.mu.Unlock()
		log.Info().Str("device_id", id).Msg("add superseded by pending remove, skipping")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	dev.cancel = cancel
	dev.state = Resolving
	dev.mu.Unlock()

	defer func() {
		dev.mu.Lock()
		dev.cancel = nil
		dev.mu.Unlock()
		cancel()
	}()

	rec, err := c.mounts.Resolve(ctx, id)
	if err != nil {
		c.abortAdd(dev, id, err)
		return
	}
	cand, err := c.locator.Find(rec.Path)
	if err != nil {
		c.abortAdd(dev, id, err)
		return
	}
	sess, err := c.sessions.Resolve()
	if err != nil {
		c.abortAdd(dev, id, err)
		return
	}

	// A Remove may have arrived while resolving; never write after it.
	if ctx.Err() != nil {
		c.abortAdd(dev, id, ctx.Err())
		return
	}

	if err := c.entries.SyncCreate(sess, cand); err != nil {
		c.abortAdd(dev, id, err)
		return
	}

	dev.setState(Integrated)
	log.Info().
		Str("device_id", id).
		Str("mount_path", rec.Path).
		Str("exec", cand.Path).
		Str("user", sess.User).
		Str("display", sess.Display).
		Str("bus_address", sess.BusAddress).
		Msg("device integrated")
}

func (c *Coordinator) abortAdd(dev *deviceState, id string, err error) {
	dev.setState(Aborted)
	log.Warn().
		Str("device_id", id).
		Str("reason", failureReason(err)).
		Err(err).
		Msg("integration aborted")
}

// handleRemove always succeeds and returns the device to Idle,
// whatever state it was in.
func (c *Coordinator) handleRemove(dev *deviceState, id string) {
	dev.mu.Lock()
	dev.removes--
	dev.mu.Unlock()
	defer dev.setState(Idle)

	sess, err := c.sessions.Resolve()
	if err != nil {
		log.Warn().Err(err).Str("device_id", id).
			Msg("no session resolvable on remove, leaving entry alone")
		return
	}
	if err := c.entries.SyncRemove(sess); err != nil {
		log.Error().Err(err).Str("device_id", id).Msg("failed to remove desktop entry")
		return
	}
	log.Info().Str("device_id", id).Str("user", sess.User).Msg("integration removed")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, mounts.ErrMountTimeout):
		return "mount_timeout"
	case errors.Is(err, locate.ErrNoCandidate):
		return "no_candidate"
	case errors.Is(err, session.ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "write_failure"
	}
}
