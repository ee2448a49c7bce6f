package store

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []store2notif
}

type store2notif struct{ key, value string }

func (r *recordingNotifier) Notify(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, store2notif{key, value})
}

func (r *recordingNotifier) snapshot() []store2notif {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store2notif, len(r.events))
	copy(out, r.events)
	return out
}

func TestWriteThenRead(t *testing.T) {
	s := New(8, nil, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "x", Value: "1"}}))

	got, err := s.Read([]string{"x"})
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []ReadResult{{Key: "x", Value: "1"}})
}

func TestWriteThenDeleteThenRead(t *testing.T) {
	s := New(8, nil, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "x", Value: "1"}}))

	dres, err := s.Delete([]string{"x"})
	assert.NilError(t, err)
	assert.DeepEqual(t, dres, []DeleteResult{{Key: "x", Value: Tombstone}})

	rres, err := s.Read([]string{"x"})
	assert.NilError(t, err)
	assert.DeepEqual(t, rres, []ReadResult{{Key: "x", Value: ReadMiss}})
}

func TestReadMissingKeyIsNotAnError(t *testing.T) {
	s := New(8, nil, nil)
	got, err := s.Read([]string{"nope"})
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []ReadResult{{Key: "nope", Value: ReadMiss}})
}

func TestDeleteMissingKeyDoesNotMutateOrNotify(t *testing.T) {
	n := &recordingNotifier{}
	s := New(8, n, nil)

	dres, err := s.Delete([]string{"ghost"})
	assert.NilError(t, err)
	assert.DeepEqual(t, dres, []DeleteResult{{Key: "ghost", Value: DeleteMiss}})
	assert.Equal(t, len(n.snapshot()), 0)
}

func TestReadPreservesInputOrderAcrossBuckets(t *testing.T) {
	s := New(4, nil, nil)
	pairs := []Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}}
	assert.NilError(t, s.Write(pairs))

	got, err := s.Read([]string{"c", "a", "b"})
	assert.NilError(t, err)
	want := []ReadResult{{Key: "c", Value: "3"}, {Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	assert.DeepEqual(t, got, want)
}

func TestWriteNotifiesEachOccurrenceInOrder(t *testing.T) {
	n := &recordingNotifier{}
	s := New(8, n, nil)

	assert.NilError(t, s.Write([]Pair{{Key: "k", Value: "v1"}, {Key: "k", Value: "v2"}}))
	events := n.snapshot()
	assert.Equal(t, len(events), 2)
	assert.Equal(t, events[0], store2notif{"k", "v1"})
	assert.Equal(t, events[1], store2notif{"k", "v2"})
}

func TestDeleteNotifiesTombstone(t *testing.T) {
	n := &recordingNotifier{}
	s := New(8, n, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "k", Value: "v"}}))

	_, err := s.Delete([]string{"k"})
	assert.NilError(t, err)

	events := n.snapshot()
	assert.Equal(t, len(events), 2) // one from write, one from delete
	assert.Equal(t, events[1], store2notif{"k", Tombstone})
}

func TestCheck(t *testing.T) {
	s := New(8, nil, nil)
	assert.Check(t, !s.Check("x"))
	assert.NilError(t, s.Write([]Pair{{Key: "x", Value: "1"}}))
	assert.Check(t, s.Check("x"))
}

func TestShowReturnsAllPairs(t *testing.T) {
	s := New(4, nil, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}))

	got := s.Show()
	sort.Slice(got, func(i, j int) bool { return got[i].Key < got[j].Key })
	assert.DeepEqual(t, got, []Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})
}

func TestValueEqualToDeletedLiteralIsALegitimateWrite(t *testing.T) {
	n := &recordingNotifier{}
	s := New(8, n, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "k", Value: Tombstone}}))

	got, err := s.Read([]string{"k"})
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []ReadResult{{Key: "k", Value: Tombstone}})
	// Indistinguishable from a delete notification at the wire layer — by design.
	assert.Equal(t, n.snapshot()[0].value, Tombstone)
}

func TestKeyLongerThan40BytesIsTruncated(t *testing.T) {
	s := New(8, nil, nil)
	long := ""
	for i := 0; i < 50; i++ {
		long += "a"
	}
	assert.NilError(t, s.Write([]Pair{{Key: long, Value: "v"}}))

	got, err := s.Read([]string{long})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got[0].Value, "v"))
	assert.Check(t, is.Equal(len(got[0].Key), MaxStringSize))
}

func TestConcurrentWritesAreNotTorn(t *testing.T) {
	s := New(16, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Write([]Pair{{Key: "k", Value: "v1"}})
		}()
		go func() {
			defer wg.Done()
			_ = s.Write([]Pair{{Key: "k", Value: "v2"}})
		}()
	}
	wg.Wait()

	got, err := s.Read([]string{"k"})
	assert.NilError(t, err)
	assert.Check(t, got[0].Value == "v1" || got[0].Value == "v2")
}

func TestEmptyKeyIsSkippedNotFatal(t *testing.T) {
	s := New(8, nil, nil)
	assert.NilError(t, s.Write([]Pair{{Key: "", Value: "v"}, {Key: "ok", Value: "1"}}))
	got, err := s.Read([]string{"ok"})
	assert.NilError(t, err)
	assert.Equal(t, got[0].Value, "1")
}

func TestWriteRequiresAtLeastOnePair(t *testing.T) {
	s := New(8, nil, nil)
	err := s.Write(nil)
	assert.ErrorContains(t, err, "write requires")
}

func TestBucketGroupsAreAscendingAndDeduped(t *testing.T) {
	s := New(4, nil, nil)
	keys := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		keys = append(keys, fmt.Sprintf("key-%d", i))
	}
	order, groups := s.bucketGroups(keys)
	assert.Check(t, is.Len(order, len(groups)))
	for i := 1; i < len(order); i++ {
		assert.Check(t, order[i-1] < order[i])
	}
}
