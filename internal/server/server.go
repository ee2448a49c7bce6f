// Package server wires every component into one running process (§4.J):
// the Store, the Snapshot Manager, the Session Table, the Registrar, the
// Job Dispatcher, the Notifier, and the SIGUSR1 Handler all live as fields
// of one Server value, matching the "no cycles in ownership" design note
// of spec §9.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/paulo-2048/kvsd/internal/job"
	"github.com/paulo-2048/kvsd/internal/metrics"
	"github.com/paulo-2048/kvsd/internal/notify"
	"github.com/paulo-2048/kvsd/internal/registrar"
	"github.com/paulo-2048/kvsd/internal/session"
	"github.com/paulo-2048/kvsd/internal/sighandler"
	"github.com/paulo-2048/kvsd/internal/snapshot"
	"github.com/paulo-2048/kvsd/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds the four positional arguments from spec §6, plus the
// derived sizing (bucket count, session capacity) the other components
// need at construction.
type Config struct {
	JobsDir        string
	MaxThreads     int
	MaxBackups     int64
	ServerPipeName string

	NumBuckets       int
	MaxSessions      int
	MaxSubscriptions int

	// MetricsAddr, if non-empty, serves Prometheus metrics on this
	// address (e.g. "127.0.0.1:9090"). Empty disables the listener.
	MetricsAddr string
}

// rendezvousPath derives the well-known CONNECT FIFO path from the bare
// server_pipe_name CLI argument, per spec §6/§4.F.
func rendezvousPath(name string) string {
	return "/tmp/server_" + name
}

func (c Config) withDefaults() Config {
	if c.NumBuckets <= 0 {
		c.NumBuckets = 64
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 32
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = 16
	}
	return c
}

// Server owns every long-lived component for one kvsd process.
type Server struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	store      *store.Store
	snapshots  *snapshot.Manager
	table      *session.Table
	notifier   *notify.Engine
	registrar  *registrar.Registrar
	dispatcher *job.Dispatcher
	sigHandler *sighandler.Handler
}

func New(cfg Config, log logrus.FieldLogger) *Server {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := metrics.New()
	notifier := notify.New(log)
	meteredNotifier := &meteredNotifier{inner: notifier, m: m}
	st := store.New(cfg.NumBuckets, meteredNotifier, log)
	mgr := snapshot.NewManager(cfg.MaxBackups, log)
	table := session.NewTable(cfg.MaxSessions, cfg.MaxSubscriptions, log)

	reg := &registrar.Registrar{Path: rendezvousPath(cfg.ServerPipeName), Table: table, Log: log}
	disp := &job.Dispatcher{
		Dir:           cfg.JobsDir,
		MaxThreads:    cfg.MaxThreads,
		Store:         st,
		Backups:       mgr,
		Log:           log,
		JobsProcessed: m.JobsProcessedTotal,
	}
	sh := &sighandler.Handler{Table: table, Log: log}

	return &Server{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		store:      st,
		snapshots:  mgr,
		table:      table,
		notifier:   notifier,
		registrar:  reg,
		dispatcher: disp,
		sigHandler: sh,
	}
}

// Run boots every session worker, starts the registrar and signal handler,
// runs the job dispatcher to completion, then tears the server down:
// stopping background components and waiting for outstanding snapshots.
// Matches spec §4.J's boot/teardown sequence.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for _, slot := range s.table.Slots() {
		w := &session.Worker{Slot: slot, Table: s.table, Store: s.store, Notify: s.notifier, Log: s.log}
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return s.registrar.Run(gctx) })
	g.Go(func() error { s.sigHandler.Run(gctx); return nil })

	if s.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: metrics.Handler()}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.WithError(err).Warn("server: metrics listener stopped")
			}
		}()
	}

	g.Go(func() error {
		s.pollSessionGauge(gctx)
		return nil
	})

	dispatchErr := s.dispatcher.Run(ctx)
	cancel()
	waitErr := g.Wait()

	s.snapshots.Drain()
	s.notifier.Close()

	if dispatchErr != nil {
		return dispatchErr
	}
	return waitErr
}

// pollSessionGauge keeps the sessions_active gauge current without coupling
// the Session Table to the metrics package directly.
func (s *Server) pollSessionGauge(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.SessionsActive.Set(float64(s.table.ActiveCount()))
			s.metrics.BackupsActive.Set(float64(s.snapshots.InFlight()))
		}
	}
}

// meteredNotifier implements store.Notifier, counting every notification
// before forwarding it to the real bus.
type meteredNotifier struct {
	inner *notify.Engine
	m     *metrics.Metrics
}

func (n *meteredNotifier) Notify(key, value string) {
	n.m.NotificationsTotal.Inc()
	n.inner.Notify(key, value)
}
