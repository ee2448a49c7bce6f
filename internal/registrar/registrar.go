// Package registrar implements the rendezvous FIFO hostess (§4.F): it reads
// fixed-width CONNECT records one at a time, allocates a session slot,
// shakes hands with the client over its response FIFO, and activates the
// slot so a waiting Session Worker takes over.
package registrar

import (
	"context"
	"io"
	"os"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/paulo-2048/kvsd/internal/kverrors"
	"github.com/paulo-2048/kvsd/internal/session"
	"github.com/paulo-2048/kvsd/internal/wire"
	"github.com/sirupsen/logrus"
)

// Registrar owns the well-known rendezvous FIFO at Path. Per spec §6/§4.F
// the caller is responsible for deriving Path as "/tmp/server_" + the
// server_pipe_name argument; Registrar itself just owns that file's
// lifecycle.
type Registrar struct {
	Path  string
	Table *session.Table
	Log   logrus.FieldLogger
}

// Run removes any stale rendezvous FIFO left over from a previous run,
// creates a fresh one world-writable (clients connect as arbitrary users,
// per §4.F), and loops reading CONNECT records until ctx is canceled, at
// which point it unlinks the FIFO.
func (r *Registrar) Run(ctx context.Context) error {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "registrar")

	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		return kverrors.Fatal("registrar: remove stale rendezvous fifo %q: %v", r.Path, err)
	}
	if err := syscall.Mkfifo(r.Path, 0o666); err != nil {
		return kverrors.Fatal("registrar: create rendezvous fifo %q: %v", r.Path, err)
	}
	defer os.Remove(r.Path)

	for {
		if ctx.Err() != nil {
			return nil
		}

		f, err := fifo.OpenFifo(ctx, r.Path, syscall.O_RDONLY, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("registrar: open rendezvous fifo")
			continue
		}

		buf := make([]byte, wire.ConnectRecordSize)
		_, err = io.ReadFull(f, buf)
		f.Close()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("registrar: short read on rendezvous fifo")
			continue
		}

		rec, err := wire.DecodeConnectRecord(buf)
		if err != nil {
			log.WithError(err).Warn("registrar: malformed connect record")
			continue
		}

		go r.admit(ctx, rec, log)
	}
}

// admit allocates a slot for rec, replies on the client's response FIFO, and
// activates the slot so a Session Worker picks it up. Runs in its own
// goroutine so a slow or misbehaving client opening its response FIFO does
// not stall admission of the next CONNECT.
func (r *Registrar) admit(ctx context.Context, rec wire.ConnectRecord, log logrus.FieldLogger) {
	slot, err := r.Table.Allocate(ctx)
	if err != nil {
		return // server shutting down
	}

	respFifo, err := fifo.OpenFifo(ctx, rec.RespPath, syscall.O_WRONLY, 0)
	if err != nil {
		log.WithError(err).Warn("registrar: open client response fifo")
		r.Table.Free(slot)
		return
	}
	defer respFifo.Close()

	reply := wire.Reply{OpEcho: wire.OpConnect, Status: wire.StatusOK}
	if _, err := respFifo.Write(reply.Encode()); err != nil {
		log.WithError(err).Warn("registrar: write connect reply")
		r.Table.Free(slot)
		return
	}

	r.Table.Activate(slot, rec.ReqPath, rec.RespPath, rec.NotifPath)
}
