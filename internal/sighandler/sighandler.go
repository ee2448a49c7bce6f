// Package sighandler wires SIGUSR1 to the Session Table's drop-all (§4.I):
// delivery of SIGUSR1 unblocks every non-FREE session slot, returning it to
// FREE within finite time, without otherwise disturbing the Store or any
// in-flight job processing.
package sighandler

import (
	"context"
	"os"
	"os/signal"

	mobysignal "github.com/moby/sys/signal"
	"github.com/paulo-2048/kvsd/internal/session"
	"github.com/sirupsen/logrus"
)

// Handler listens for SIGUSR1 and drops every active session on receipt.
type Handler struct {
	Table *session.Table
	Log   logrus.FieldLogger
}

// Run blocks until ctx is canceled, dropping all sessions once per SIGUSR1.
func (h *Handler) Run(ctx context.Context) {
	log := h.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "sighandler")

	sigName := "USR1"
	sig, ok := mobysignal.SignalMap[sigName]
	if !ok {
		log.Warnf("signal %s is not available on this platform; drop-all is disabled", sigName)
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			n := h.Table.DropAll()
			log.Infof("SIG%s received: dropped %d session(s)", sigName, n)
		}
	}
}
