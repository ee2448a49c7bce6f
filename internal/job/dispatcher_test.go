package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulo-2048/kvsd/internal/snapshot"
	"github.com/paulo-2048/kvsd/internal/store"
	"gotest.tools/v3/assert"
)

// TestDispatcherScenarioS1 mirrors spec.md's S1: a single job using a
// single-threaded, single-backup dispatcher.
func TestDispatcherScenarioS1(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "a.job")
	assert.NilError(t, os.WriteFile(jobPath, []byte("WRITE [(x,1)]\nBACKUP\nWRITE [(x,2)]\n"), 0o644))

	s := store.New(8, nil, nil)
	mgr := snapshot.NewManager(1, nil)
	d := &Dispatcher{Dir: dir, MaxThreads: 1, Store: s, Backups: mgr}

	assert.NilError(t, d.Run(context.Background()))
	mgr.Drain()

	outData, err := os.ReadFile(filepath.Join(dir, "a.out"))
	assert.NilError(t, err)
	assert.Equal(t, string(outData), "")

	bakData, err := os.ReadFile(filepath.Join(dir, "a-1.bak"))
	assert.NilError(t, err)
	assert.Equal(t, string(bakData), "(x,1)\n")

	final, err := s.Read([]string{"x"})
	assert.NilError(t, err)
	assert.Equal(t, final[0].Value, "2")
}

func TestDispatcherProcessesEveryJobFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.job", "b.job", "c.job"} {
		assert.NilError(t, os.WriteFile(filepath.Join(dir, name), []byte("WRITE [(k,1)]\n"), 0o644))
	}
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not a job"), 0o644))

	s := store.New(8, nil, nil)
	mgr := snapshot.NewManager(1, nil)
	d := &Dispatcher{Dir: dir, MaxThreads: 3, Store: s, Backups: mgr}

	assert.NilError(t, d.Run(context.Background()))
	mgr.Drain()

	for _, name := range []string{"a.out", "b.out", "c.out"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NilError(t, err)
	}
}
