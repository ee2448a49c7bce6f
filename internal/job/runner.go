package job

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/paulo-2048/kvsd/internal/snapshot"
	"github.com/paulo-2048/kvsd/internal/store"
	"github.com/sirupsen/logrus"
)

// Runner sequentially executes one job file's commands against a Store,
// invoking the Snapshot manager for BACKUP. See spec §4.C.
type Runner struct {
	Store    *store.Store
	Backups  *snapshot.Manager
	JobsDir  string
	JobName  string // source file name without ".job", used for backup filenames
	Log      logrus.FieldLogger

	seq int // per-job BACKUP sequence, starts at 1
}

// Run scans in line by line, dispatching each command, and writes
// READ/SHOW output to out in the §6 .out format. It returns only on EOF or a
// fatal I/O error — malformed commands are logged and skipped, never fatal.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("job", r.JobName)

	scanner := bufio.NewScanner(in)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for scanner.Scan() {
		cmd := ParseLine(scanner.Text())
		if err := r.dispatch(ctx, cmd, w, log); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (r *Runner) dispatch(ctx context.Context, cmd Command, w *bufio.Writer, log logrus.FieldLogger) error {
	switch cmd.Kind {
	case KindEmpty:
		return nil

	case KindInvalid:
		log.Warnf("invalid command, see HELP for usage: %q", cmd.Raw)
		return nil

	case KindHelp:
		log.Info(HelpText)
		return nil

	case KindWrite:
		if err := r.Store.Write(cmd.Pairs); err != nil {
			log.WithError(err).Warn("failed to write pair")
		}
		return nil

	case KindRead:
		results, err := r.Store.Read(cmd.Keys)
		if err != nil {
			log.WithError(err).Warn("failed to read pair")
			return nil
		}
		writeReadOutput(w, results)
		return nil

	case KindDelete:
		results, err := r.Store.Delete(cmd.Keys)
		if err != nil {
			log.WithError(err).Warn("failed to delete pair")
			return nil
		}
		writeDeleteOutput(w, results)
		return nil

	case KindShow:
		for _, p := range r.Store.Show() {
			fmt.Fprintf(w, "(%s,%s)\n", p.Key, p.Value)
		}
		return nil

	case KindWait:
		if cmd.WaitMS > 0 {
			log.Infof("waiting %d ms", cmd.WaitMS)
			select {
			case <-time.After(time.Duration(cmd.WaitMS) * time.Millisecond):
			case <-ctx.Done():
			}
		}
		return nil

	case KindBackup:
		r.seq++
		task := snapshot.Task{Sequence: r.seq, JobName: r.JobName, Dir: r.JobsDir}
		if _, err := r.Backups.Backup(ctx, r.Store, task); err != nil {
			log.WithError(err).Warn("failed to do backup")
		}
		return nil
	}
	return nil
}

// writeReadOutput renders "[(k,v)(k,KVSERROR)...]", per §6.
func writeReadOutput(w *bufio.Writer, results []store.ReadResult) {
	w.WriteByte('[')
	for _, r := range results {
		fmt.Fprintf(w, "(%s,%s)", r.Key, r.Value)
	}
	w.WriteString("]\n")
}

// writeDeleteOutput renders "[(k,KVSMISSING)...]" for the misses; entries
// that were actually deleted produce no output (only misses are reported,
// per §6's job output format).
func writeDeleteOutput(w *bufio.Writer, results []store.DeleteResult) {
	w.WriteByte('[')
	for _, r := range results {
		if r.Value == store.DeleteMiss {
			fmt.Fprintf(w, "(%s,%s)", r.Key, r.Value)
		}
	}
	w.WriteString("]\n")
}
