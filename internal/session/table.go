// Package session implements the Session Table (§4.E) and the per-slot
// Session Worker loop (§4.G): a bounded array of session slots with
// lifecycle state, each guarding its subscription set with a dynamic named
// lock keyed by slot id.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/moby/locker"
	"github.com/sirupsen/logrus"
)

// State is a Session Slot's lifecycle stage.
type State int

const (
	Free State = iota
	Claimed
	Active
	Draining
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Claimed:
		return "CLAIMED"
	case Active:
		return "ACTIVE"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Slot is one preallocated session record. ReqPath/RespPath/NotifPath and
// State are guarded by the owning Table's mutex. Subscriptions is guarded
// separately by the Table's locker, keyed by ID, so subscription mutation
// never contends with state-machine transitions of other slots.
type Slot struct {
	ID        string
	State     State
	ReqPath   string
	RespPath  string
	NotifPath string

	Subscriptions map[string]struct{}

	cancel context.CancelFunc // set while a Worker is actively serving this slot
}

// Table is the bounded array of session slots.
type Table struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slots  []*Slot
	locker *locker.Locker
	maxSub int
	log    logrus.FieldLogger
}

// NewTable builds a Table with maxSessions preallocated, FREE slots, each
// capped at maxSubPerSession subscriptions.
func NewTable(maxSessions, maxSubPerSession int, log logrus.FieldLogger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Table{
		slots:  make([]*Slot, maxSessions),
		locker: locker.New(),
		maxSub: maxSubPerSession,
		log:    log.WithField("component", "session_table"),
	}
	t.cond = sync.NewCond(&t.mu)
	for i := range t.slots {
		t.slots[i] = &Slot{ID: uuid.NewString(), State: Free, Subscriptions: make(map[string]struct{})}
	}
	return t
}

// ActiveCount reports the current count of non-FREE slots, for the
// server's sessions_active gauge.
func (t *Table) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.State != Free {
			n++
		}
	}
	return n
}

// MaxSubscriptions is the per-session subscription capacity.
func (t *Table) MaxSubscriptions() int { return t.maxSub }

// Locker exposes the per-slot named lock so the Worker can guard
// subscription-set reads/writes without taking the Table's global mutex.
func (t *Table) Locker() *locker.Locker { return t.locker }

// Slots returns every preallocated slot, for workers to range over at boot.
func (t *Table) Slots() []*Slot { return t.slots }

// Allocate blocks until a FREE slot exists (or ctx is canceled), marks it
// CLAIMED, and returns it. Invariant 6 of spec §8 follows directly: there
// are never more than len(slots) non-FREE slots, so a CONNECT past capacity
// blocks here rather than failing.
func (t *Table) Allocate(ctx context.Context) (*Slot, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-done:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		for _, s := range t.slots {
			if s.State == Free {
				s.State = Claimed
				return s, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.cond.Wait()
	}
}

// Activate installs a claimed slot's FIFO paths and transitions it
// CLAIMED→ACTIVE, then wakes any Worker waiting on this slot.
func (t *Table) Activate(slot *Slot, reqPath, respPath, notifPath string) {
	t.mu.Lock()
	slot.ReqPath, slot.RespPath, slot.NotifPath = reqPath, respPath, notifPath
	slot.State = Active
	t.mu.Unlock()
	t.cond.Broadcast()
}

// WaitActive blocks until slot is ACTIVE or ctx is canceled.
func (t *Table) WaitActive(ctx context.Context, slot *Slot) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-done:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	for slot.State != Active {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}

// SetCancel records the CancelFunc that aborts slot's in-flight FIFO I/O,
// so SIGUSR1's drop-all (§4.I) can unblock a worker that is parked in an
// open()/read()/write() on this slot's pipes.
func (t *Table) SetCancel(slot *Slot, cancel context.CancelFunc) {
	t.mu.Lock()
	slot.cancel = cancel
	t.mu.Unlock()
}

// Drain transitions slot to DRAINING. Called by the Worker on DISCONNECT or
// any unrecoverable I/O failure, before it clears subscriptions and frees
// the slot.
func (t *Table) Drain(slot *Slot) {
	t.mu.Lock()
	slot.State = Draining
	t.mu.Unlock()
}

// Free clears slot's paths and transitions it back to FREE, waking any
// Registrar blocked in Allocate. Subscriptions must already be cleared by
// the caller under the Table's locker.
func (t *Table) Free(slot *Slot) {
	t.mu.Lock()
	slot.ReqPath, slot.RespPath, slot.NotifPath = "", "", ""
	slot.State = Free
	slot.cancel = nil
	t.mu.Unlock()
	t.cond.Broadcast()
}

// DropAll implements the SIGUSR1 trigger (§4.I): every non-FREE slot is
// canceled (unblocking whatever FIFO call its Worker is parked in) so that,
// within finite time, the Worker's own error path drains and frees it.
// Subscriptions are not cleared here directly — the owning Worker does that
// under the per-slot locker when it observes the cancellation, avoiding a
// lock-ordering conflict between the Table mutex and the subscription
// locker.
func (t *Table) DropAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.State == Free {
			continue
		}
		if s.cancel != nil {
			s.cancel()
		}
		n++
	}
	return n
}
