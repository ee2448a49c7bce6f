package server

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestRendezvousPath(t *testing.T) {
	assert.Equal(t, rendezvousPath("kvsd.pipe"), "/tmp/server_kvsd.pipe")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobsDir: "jobs", MaxThreads: 2, MaxBackups: 1, ServerPipeName: "kvsd.pipe"}.withDefaults()
	assert.Equal(t, cfg.NumBuckets, 64)
	assert.Equal(t, cfg.MaxSessions, 32)
	assert.Equal(t, cfg.MaxSubscriptions, 16)
}

func TestConfigDefaultsPreserveExplicitValues(t *testing.T) {
	cfg := Config{NumBuckets: 8, MaxSessions: 4, MaxSubscriptions: 2}.withDefaults()
	assert.Equal(t, cfg.NumBuckets, 8)
	assert.Equal(t, cfg.MaxSessions, 4)
	assert.Equal(t, cfg.MaxSubscriptions, 2)
}

func TestNewWiresEveryComponent(t *testing.T) {
	s := New(Config{
		JobsDir:        t.TempDir(),
		MaxThreads:     1,
		MaxBackups:     1,
		ServerPipeName: "kvsd.pipe",
	}, nil)

	assert.Assert(t, s.store != nil)
	assert.Assert(t, s.snapshots != nil)
	assert.Assert(t, s.table != nil)
	assert.Assert(t, s.notifier != nil)
	assert.Assert(t, s.registrar != nil)
	assert.Assert(t, s.dispatcher != nil)
	assert.Assert(t, s.sigHandler != nil)
	assert.Equal(t, len(s.table.Slots()), 32)
}
