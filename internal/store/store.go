// Package store implements the concurrent key-value hash table: a fixed
// array of buckets, each with its own lock, holding an unordered collection
// of key/value pairs. See spec §4.A.
package store

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/paulo-2048/kvsd/internal/kverrors"
	"github.com/paulo-2048/kvsd/internal/wire"
	"github.com/sirupsen/logrus"
)

// MaxStringSize bounds both keys and values, per the data model.
const MaxStringSize = wire.KeySize

// Tombstone is the value emitted to the Notifier for a successful delete.
const Tombstone = wire.Tombstone

// ReadMiss and DeleteMiss are the miss sentinels rendered into READ/DELETE
// output, per §6.
const (
	ReadMiss   = "KVSERROR"
	DeleteMiss = "KVSMISSING"
)

// Notifier receives one callback per successful write or delete, after the
// owning bucket's lock has been released. The Store has no notion of
// sessions or subscriptions; it only knows this narrow callback contract,
// registered at boot (spec §9, "no cycles in ownership").
type Notifier interface {
	Notify(key, value string)
}

// Pair is a single key/value entry, as seen on both input (WRITE) and output
// (SHOW) of the Store.
type Pair struct {
	Key   string
	Value string
}

// ReadResult is one entry of a READ's ordered output: Value is ReadMiss if
// the key was absent.
type ReadResult struct {
	Key   string
	Value string
}

// DeleteResult is one entry of a DELETE's ordered output: Value is
// DeleteMiss if the key was absent.
type DeleteResult struct {
	Key   string
	Value string
}

type bucket struct {
	mu   sync.Mutex
	data map[string]string
}

// Store is the shared hash table. It is safe for concurrent use.
type Store struct {
	buckets  []*bucket
	notifier Notifier
	log      logrus.FieldLogger
}

// New builds a Store with nBuckets fixed buckets. notifier may be nil, in
// which case mutations are silently not broadcast (useful in tests that
// only exercise Store semantics).
func New(nBuckets int, notifier Notifier, log logrus.FieldLogger) *Store {
	if nBuckets <= 0 {
		nBuckets = 64
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	buckets := make([]*bucket, nBuckets)
	for i := range buckets {
		buckets[i] = &bucket{data: make(map[string]string)}
	}
	return &Store{buckets: buckets, notifier: notifier, log: log.WithField("component", "store")}
}

func normalize(s string) string {
	if len(s) > MaxStringSize {
		return s[:MaxStringSize]
	}
	return s
}

func (s *Store) bucketIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % len(s.buckets)
}

// notify invokes the registered Notifier, if any. Must be called with no
// bucket lock held.
func (s *Store) notify(key, value string) {
	if s.notifier != nil {
		s.notifier.Notify(key, value)
	}
}

// bucketGroups partitions keys by bucket index and returns the distinct
// indices in ascending order, each paired with the keys (in original
// relative order) that hash there. Acquiring locks in this order across all
// operations prevents deadlock between concurrent multi-key operations that
// reference overlapping bucket sets.
func (s *Store) bucketGroups(keys []string) ([]int, map[int][]string) {
	groups := make(map[int][]string)
	for _, k := range keys {
		idx := s.bucketIndex(k)
		groups[idx] = append(groups[idx], k)
	}
	order := make([]int, 0, len(groups))
	for idx := range groups {
		order = append(order, idx)
	}
	sort.Ints(order)
	return order, groups
}

// Write upserts each pair, one at a time, in the exact order given. Keys and
// values longer than MaxStringSize are truncated; an empty key is invalid and
// skipped with an error logged, not returned (Write as a whole still
// succeeds for the remaining pairs, mirroring the per-command nature of the
// job grammar that calls it). A repeated key is written and notified once
// per occurrence — never collapsed to its last value — so the same key
// given twice in one WRITE produces two writes and two notifications, in
// order (§4.A).
func (s *Store) Write(pairs []Pair) error {
	if len(pairs) == 0 {
		return kverrors.Protocol("store: write requires at least one pair")
	}
	for _, p := range pairs {
		k := normalize(p.Key)
		if k == "" {
			s.log.Warn("write: skipping empty key")
			continue
		}
		v := normalize(p.Value)

		b := s.buckets[s.bucketIndex(k)]
		b.mu.Lock()
		b.data[k] = v
		b.mu.Unlock()

		s.notify(k, v)
	}
	return nil
}

// Read looks up each key and returns results in input order; a miss is
// rendered as ReadMiss rather than an error.
func (s *Store) Read(keys []string) ([]ReadResult, error) {
	if len(keys) == 0 {
		return nil, kverrors.Protocol("store: read requires at least one key")
	}
	norm := make([]string, len(keys))
	for i, k := range keys {
		norm[i] = normalize(k)
	}

	found := make(map[string]string)
	order, groups := s.bucketGroups(norm)
	for _, idx := range order {
		b := s.buckets[idx]
		b.mu.Lock()
		for _, k := range groups[idx] {
			if v, ok := b.data[k]; ok {
				found[k] = v
			}
		}
		b.mu.Unlock()
	}

	out := make([]ReadResult, len(norm))
	for i, k := range norm {
		if v, ok := found[k]; ok {
			out[i] = ReadResult{Key: k, Value: v}
		} else {
			out[i] = ReadResult{Key: k, Value: ReadMiss}
		}
	}
	return out, nil
}

// Delete removes each key if present, returning results in input order; a
// miss is rendered as DeleteMiss. Only keys that were actually present emit
// a notification — deleting an absent key does not mutate the store.
func (s *Store) Delete(keys []string) ([]DeleteResult, error) {
	if len(keys) == 0 {
		return nil, kverrors.Protocol("store: delete requires at least one key")
	}
	norm := make([]string, len(keys))
	for i, k := range keys {
		norm[i] = normalize(k)
	}

	present := make(map[string]bool)
	order, groups := s.bucketGroups(norm)
	type notifyKey struct{ key string }
	for _, idx := range order {
		b := s.buckets[idx]
		var toNotify []notifyKey
		b.mu.Lock()
		for _, k := range groups[idx] {
			if _, ok := b.data[k]; ok {
				delete(b.data, k)
				present[k] = true
				toNotify = append(toNotify, notifyKey{k})
			}
		}
		b.mu.Unlock()
		for _, nk := range toNotify {
			s.notify(nk.key, Tombstone)
		}
	}

	out := make([]DeleteResult, len(norm))
	for i, k := range norm {
		if present[k] {
			out[i] = DeleteResult{Key: k, Value: Tombstone}
		} else {
			out[i] = DeleteResult{Key: k, Value: DeleteMiss}
		}
	}
	return out, nil
}

// Show returns every (key, value) pair currently in the store. Order is
// unspecified but stable within one call: it acquires every bucket lock in
// ascending index order, the way a consistent in-process snapshot must.
func (s *Store) Show() []Pair {
	var out []Pair
	for _, b := range s.buckets {
		b.mu.Lock()
	}
	for _, b := range s.buckets {
		for k, v := range b.data {
			out = append(out, Pair{Key: k, Value: v})
		}
	}
	for i := len(s.buckets) - 1; i >= 0; i-- {
		s.buckets[i].mu.Unlock()
	}
	return out
}

// Check reports whether key is currently present, without mutating
// anything. Used by SUBSCRIBE to gate against absent keys (spec §4.G).
func (s *Store) Check(key string) bool {
	k := normalize(key)
	idx := s.bucketIndex(k)
	b := s.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[k]
	return ok
}

// Snapshot gives fn a consistent, frozen view of every key/value pair. All
// bucket locks (ascending index order) are held only long enough to copy the
// table; fn itself runs unlocked, so a slow consumer (e.g. writing a .bak
// file to disk) does not pause mutation for any longer than the copy takes.
// Exported for internal/snapshot, which cannot fork a Go process the way the
// original design's child-process snapshot did (spec §9, Design Notes).
func (s *Store) Snapshot(fn func(pairs []Pair)) {
	for _, b := range s.buckets {
		b.mu.Lock()
	}
	var pairs []Pair
	for _, b := range s.buckets {
		for k, v := range b.data {
			pairs = append(pairs, Pair{Key: k, Value: v})
		}
	}
	for i := len(s.buckets) - 1; i >= 0; i-- {
		s.buckets[i].mu.Unlock()
	}
	fn(pairs)
}

// NumBuckets reports the fixed bucket count, mostly for tests and metrics.
func (s *Store) NumBuckets() int {
	return len(s.buckets)
}
