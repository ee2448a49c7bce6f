package session

import (
	"bufio"
	"context"
	"io"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/paulo-2048/kvsd/internal/kverrors"
	"github.com/paulo-2048/kvsd/internal/notify"
	"github.com/paulo-2048/kvsd/internal/store"
	"github.com/paulo-2048/kvsd/internal/wire"
	"github.com/sirupsen/logrus"
)

// Worker owns one slot for the server's whole lifetime: it waits for the
// Registrar to activate the slot, serves that session's request loop and
// notification forwarding, and returns the slot to FREE on DISCONNECT, on an
// I/O failure, or on a SIGUSR1 drop-all. See spec §4.G.
type Worker struct {
	Slot   *Slot
	Table  *Table
	Store  *store.Store
	Notify *notify.Engine
	Log    logrus.FieldLogger
}

// Run loops forever, each iteration serving exactly one session lifetime on
// this slot, until ctx is canceled (server shutdown).
func (w *Worker) Run(ctx context.Context) error {
	log := w.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("slot", w.Slot.ID)

	for {
		if err := w.Table.WaitActive(ctx, w.Slot); err != nil {
			return nil // server shutting down
		}
		if err := w.serve(ctx, log); err != nil {
			log.WithError(err).Warn("session: serve ended")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// serve runs exactly one session: it opens the notification FIFO and starts
// forwarding, then loops reading and executing requests until DISCONNECT or
// an unrecoverable error, at which point the slot is drained and freed.
//
// Cleanup order matters here (notification forwarder must observe
// cancellation before we close its FIFO and evict its subscription), so it
// is done explicitly at the end rather than via a stack of defers.
func (w *Worker) serve(parentCtx context.Context, log logrus.FieldLogger) error {
	sessCtx, cancel := context.WithCancel(parentCtx)
	w.Table.SetCancel(w.Slot, cancel)

	notifCh := w.Notify.Subscribe(func(key string) bool {
		w.Table.Locker().Lock(w.Slot.ID)
		_, ok := w.Slot.Subscriptions[key]
		w.Table.Locker().Unlock(w.Slot.ID)
		return ok
	})

	notifFifo, err := fifo.OpenFifo(sessCtx, w.Slot.NotifPath, syscall.O_WRONLY, 0)
	if err != nil {
		cancel()
		w.Notify.Unsubscribe(notifCh)
		w.finishSlot()
		return kverrors.IO("session: open notification fifo", err)
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		forwardNotifications(sessCtx, notifCh, notifFifo, log)
	}()

	var retErr error
	for {
		req, err := w.readRequest(sessCtx)
		if err != nil {
			retErr = err
			break
		}

		reply := wire.Reply{OpEcho: req.Op, Status: wire.StatusOK}
		done := false
		switch req.Op {
		case wire.OpSubscribe:
			if !w.subscribe(req.Key) {
				reply.Status = wire.StatusError
			}
		case wire.OpUnsubscribe:
			if !w.unsubscribe(req.Key) {
				reply.Status = wire.StatusError
			}
		case wire.OpDisconnect:
			done = true
		}

		if err := w.writeReply(sessCtx, reply); err != nil {
			retErr = err
			break
		}
		if done {
			break
		}
	}

	cancel()
	<-forwardDone
	notifFifo.Close()
	w.Notify.Unsubscribe(notifCh)
	w.finishSlot()
	return retErr
}

// finishSlot clears subscriptions and returns the slot to FREE. Always
// called at the end of serve, whether it ended in DISCONNECT or an error.
func (w *Worker) finishSlot() {
	w.Table.Drain(w.Slot)
	w.Table.Locker().Lock(w.Slot.ID)
	w.Slot.Subscriptions = make(map[string]struct{})
	w.Table.Locker().Unlock(w.Slot.ID)
	w.Table.Free(w.Slot)
}

func (w *Worker) readRequest(ctx context.Context) (wire.Request, error) {
	f, err := fifo.OpenFifo(ctx, w.Slot.ReqPath, syscall.O_RDONLY, 0)
	if err != nil {
		return wire.Request{}, kverrors.IO("session: open request fifo", err)
	}
	defer f.Close()

	head := make([]byte, 1)
	if _, err := io.ReadFull(f, head); err != nil {
		return wire.Request{}, kverrors.IO("session: read request op", err)
	}
	if wire.Op(head[0]) == wire.OpDisconnect {
		return wire.Request{Op: wire.OpDisconnect}, nil
	}

	rest := make([]byte, wire.SubRecordSize-1)
	if _, err := io.ReadFull(f, rest); err != nil {
		return wire.Request{}, kverrors.IO("session: read request body", err)
	}
	return wire.DecodeRequest(append(head, rest...))
}

func (w *Worker) writeReply(ctx context.Context, reply wire.Reply) error {
	f, err := fifo.OpenFifo(ctx, w.Slot.RespPath, syscall.O_WRONLY, 0)
	if err != nil {
		return kverrors.IO("session: open response fifo", err)
	}
	defer f.Close()
	if _, err := f.Write(reply.Encode()); err != nil {
		return kverrors.IO("session: write reply", err)
	}
	return nil
}

// subscribe adds key to this session's interest set. It fails if the key is
// not currently present in the store, or the session is already at its
// subscription cap (spec §4.G).
func (w *Worker) subscribe(key string) bool {
	if !w.Store.Check(key) {
		return false
	}
	w.Table.Locker().Lock(w.Slot.ID)
	defer w.Table.Locker().Unlock(w.Slot.ID)
	if _, ok := w.Slot.Subscriptions[key]; ok {
		return true
	}
	if len(w.Slot.Subscriptions) >= w.Table.MaxSubscriptions() {
		return false
	}
	w.Slot.Subscriptions[key] = struct{}{}
	return true
}

func (w *Worker) unsubscribe(key string) bool {
	w.Table.Locker().Lock(w.Slot.ID)
	defer w.Table.Locker().Unlock(w.Slot.ID)
	if _, ok := w.Slot.Subscriptions[key]; !ok {
		return false
	}
	delete(w.Slot.Subscriptions, key)
	return true
}

// forwardNotifications drains ch, encoding each Event onto notifFifo, until
// ctx is canceled or the bus evicts ch (closing it).
func forwardNotifications(ctx context.Context, ch chan interface{}, w io.Writer, log logrus.FieldLogger) {
	bw := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := v.(notify.Event)
			if !ok {
				continue
			}
			n := wire.Notification{Key: ev.Key, Value: ev.Value}
			if _, err := bw.Write(n.Encode()); err != nil {
				log.WithError(err).Warn("session: notification write failed")
				return
			}
			if err := bw.Flush(); err != nil {
				log.WithError(err).Warn("session: notification flush failed")
				return
			}
		}
	}
}
