package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestAllocateClaimsAFreeSlot(t *testing.T) {
	tbl := NewTable(2, 4, nil)
	s1, err := tbl.Allocate(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, s1.State, Claimed)

	s2, err := tbl.Allocate(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, s1.ID != s2.ID)
}

func TestAllocateBlocksUntilFreed(t *testing.T) {
	tbl := NewTable(1, 4, nil)
	s1, err := tbl.Allocate(context.Background())
	assert.NilError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var s2 *Slot
	go func() {
		defer wg.Done()
		var err error
		s2, err = tbl.Allocate(context.Background())
		assert.NilError(t, err)
	}()

	time.Sleep(20 * time.Millisecond) // allocator should still be blocked
	tbl.Locker().Lock(s1.ID)
	s1.Subscriptions = make(map[string]struct{})
	tbl.Locker().Unlock(s1.ID)
	tbl.Free(s1)

	wg.Wait()
	assert.Equal(t, s2.ID, s1.ID)
	assert.Equal(t, s2.State, Claimed)
}

func TestAllocateRespectsContextCancellation(t *testing.T) {
	tbl := NewTable(1, 4, nil)
	_, err := tbl.Allocate(context.Background())
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tbl.Allocate(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropAllCancelsEveryNonFreeSlot(t *testing.T) {
	tbl := NewTable(3, 4, nil)
	var canceled int
	for i := 0; i < 2; i++ {
		s, err := tbl.Allocate(context.Background())
		assert.NilError(t, err)
		_, cancel := context.WithCancel(context.Background())
		tbl.SetCancel(s, func() { canceled++; cancel() })
	}

	n := tbl.DropAll()
	assert.Equal(t, n, 2)
	assert.Equal(t, canceled, 2)
}

func TestActivateTransitionsClaimedToActive(t *testing.T) {
	tbl := NewTable(1, 4, nil)
	s, err := tbl.Allocate(context.Background())
	assert.NilError(t, err)

	tbl.Activate(s, "/tmp/req", "/tmp/resp", "/tmp/notif")
	assert.Equal(t, s.State, Active)
	assert.Equal(t, s.ReqPath, "/tmp/req")
}
