package job

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	dockermetrics "github.com/docker/go-metrics"
	"github.com/paulo-2048/kvsd/internal/kverrors"
	"github.com/paulo-2048/kvsd/internal/snapshot"
	"github.com/paulo-2048/kvsd/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher is the fixed-size worker pool that drains a jobs directory.
// Each worker repeatedly claims the next directory entry under a shared
// cursor lock, processes it to completion if it is a .job file, and
// continues until the directory is exhausted. See spec §4.D.
type Dispatcher struct {
	Dir        string
	MaxThreads int
	Store      *store.Store
	Backups    *snapshot.Manager
	Log        logrus.FieldLogger

	// JobsProcessed, if set, is incremented once per .job file the
	// dispatcher finishes (successfully or not).
	JobsProcessed dockermetrics.Counter
}

// Run blocks until every .job file in Dir has been claimed and processed by
// some worker (order across workers is unspecified; no two workers process
// the same file).
func (d *Dispatcher) Run(ctx context.Context) error {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.Open(d.Dir)
	if err != nil {
		return kverrors.Fatal("job: open jobs directory %q: %v", d.Dir, err)
	}
	defer f.Close()

	var cursor sync.Mutex
	nextEntry := func() (string, bool) {
		cursor.Lock()
		defer cursor.Unlock()
		names, err := f.Readdirnames(1)
		if err != nil {
			return "", false // io.EOF or any other terminal error ends this worker
		}
		return names[0], true
	}

	threads := d.MaxThreads
	if threads <= 0 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		g.Go(func() error {
			for {
				name, ok := nextEntry()
				if !ok {
					return nil
				}
				if !strings.HasSuffix(name, ".job") {
					continue
				}
				if err := d.processJob(gctx, name, log); err != nil {
					log.WithError(err).WithField("job", name).Error("job: failed to process file")
				}
				if d.JobsProcessed != nil {
					d.JobsProcessed.Inc()
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) processJob(ctx context.Context, name string, log logrus.FieldLogger) error {
	inPath := filepath.Join(d.Dir, name)
	jobName := strings.TrimSuffix(name, ".job")
	outPath := filepath.Join(d.Dir, jobName+".out")

	in, err := os.Open(inPath)
	if err != nil {
		return kverrors.IO("job: open input file "+inPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return kverrors.IO("job: open output file "+outPath, err)
	}
	defer out.Close()

	runner := &Runner{
		Store:   d.Store,
		Backups: d.Backups,
		JobsDir: d.Dir,
		JobName: jobName,
		Log:     log,
	}

	err = runner.Run(ctx, in, out)
	if err == io.EOF {
		return nil
	}
	return err
}
