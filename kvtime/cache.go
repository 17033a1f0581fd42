// Package kvtime implements the Key/Time Multi-Map Cache and Façade of
// sections 4.4 and 4.5: a worker-side ordered index over
// (key, timestamp) -> [value] with an earliest-timestamp expiration index,
// and a write-through layer that keeps the index and the backing log
// consistent.
package kvtime

import (
	"github.com/google/btree"

	"github.com/gurre/arroyo-checkpoint/wire"
)

const btreeDegree = 32

// bucket is one timestamp's worth of values for a key, ordered by insertion.
type bucket[V any] struct {
	timestamp wire.Micros
	values    []V
}

func lessBucket[V any](a, b bucket[V]) bool { return a.timestamp < b.timestamp }

// expirationSet is the set of keys whose earliest timestamp is exactly
// timestamp, as required by I3.
type expirationSet[K comparable] struct {
	timestamp wire.Micros
	keys      map[K]struct{}
}

func lessExpiration[K comparable](a, b expirationSet[K]) bool { return a.timestamp < b.timestamp }

// Cache is the ordered in-memory index of section 4.5. It is single-writer
// per subtask and performs no locking of its own.
type Cache[K comparable, V any] struct {
	values      map[K]*btree.BTreeG[bucket[V]]
	expirations *btree.BTreeG[expirationSet[K]]
}

// NewCache constructs an empty Cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		values:      make(map[K]*btree.BTreeG[bucket[V]]),
		expirations: btree.NewG(btreeDegree, lessExpiration[K]),
	}
}

// Len reports the number of distinct keys currently tracked, the quantity
// the façade reports to the size gauge (section 4.4).
func (c *Cache[K, V]) Len() int { return len(c.values) }

func (c *Cache[K, V]) earliest(k K) (wire.Micros, bool) {
	tree, ok := c.values[k]
	if !ok || tree.Len() == 0 {
		return 0, false
	}
	min, ok := tree.Min()
	return min.timestamp, ok
}

func (c *Cache[K, V]) addToExpirations(t wire.Micros, k K) {
	set, ok := c.expirations.Get(expirationSet[K]{timestamp: t})
	if !ok {
		set = expirationSet[K]{timestamp: t, keys: make(map[K]struct{})}
	}
	set.keys[k] = struct{}{}
	c.expirations.ReplaceOrInsert(set)
}

func (c *Cache[K, V]) removeFromExpirations(t wire.Micros, k K) {
	set, ok := c.expirations.Get(expirationSet[K]{timestamp: t})
	if !ok {
		return
	}
	delete(set.keys, k)
	if len(set.keys) == 0 {
		c.expirations.Delete(set)
		return
	}
	c.expirations.ReplaceOrInsert(set)
}

// Insert implements the insert(t, k, v) algorithm of section 4.5, preserving
// I3: the expiration index always points at each key's earliest timestamp.
func (c *Cache[K, V]) Insert(t wire.Micros, k K, v V) {
	tree, exists := c.values[k]
	if !exists {
		tree = btree.NewG(btreeDegree, lessBucket[V])
		c.values[k] = tree
		tree.ReplaceOrInsert(bucket[V]{timestamp: t, values: []V{v}})
		c.addToExpirations(t, k)
		return
	}

	earliest, _ := c.earliest(k)
	if t < earliest {
		tree.ReplaceOrInsert(bucket[V]{timestamp: t, values: []V{v}})
		c.removeFromExpirations(earliest, k)
		c.addToExpirations(t, k)
		return
	}

	b, ok := tree.Get(bucket[V]{timestamp: t})
	if !ok {
		b = bucket[V]{timestamp: t}
	}
	b.values = append(b.values, v)
	tree.ReplaceOrInsert(b)
}

// RemoveKey implements remove_key(k): drop k from values and from every
// expirations bucket that references it, pruning now-empty buckets per the
// strengthening recommended in section 9.
func (c *Cache[K, V]) RemoveKey(k K) {
	if _, ok := c.values[k]; !ok {
		return
	}
	delete(c.values, k)

	var empty []wire.Micros
	c.expirations.Ascend(func(set expirationSet[K]) bool {
		if _, present := set.keys[k]; present {
			delete(set.keys, k)
			if len(set.keys) == 0 {
				empty = append(empty, set.timestamp)
			}
		}
		return true
	})
	for _, t := range empty {
		c.expirations.Delete(expirationSet[K]{timestamp: t})
	}
}

// RemoveValue implements remove_value(t, k, v): drop the first value equal
// to v at values[k][t]. Absence of k or t is a no-op. Empty buckets are
// pruned per section 9's recommended strengthening; this cannot change
// observable query results since an empty bucket yields nothing either way.
func (c *Cache[K, V]) RemoveValue(t wire.Micros, k K, equal func(V) bool) {
	tree, ok := c.values[k]
	if !ok {
		return
	}
	b, ok := tree.Get(bucket[V]{timestamp: t})
	if !ok {
		return
	}
	for i, v := range b.values {
		if equal(v) {
			b.values = append(b.values[:i], b.values[i+1:]...)
			break
		}
	}
	if len(b.values) == 0 {
		tree.Delete(b)
		if tree.Len() == 0 {
			c.RemoveKey(k)
			return
		}
		// The removed bucket may have been the earliest; re-derive it.
		if newEarliest, ok := c.earliest(k); ok {
			c.removeFromExpirations(t, k)
			c.addToExpirations(newEarliest, k)
		}
		return
	}
	tree.ReplaceOrInsert(b)
}

// ClearTimeRange retains only entries for k outside [start, end), as
// specified for clear_time_range's cache mutation step.
func (c *Cache[K, V]) ClearTimeRange(k K, start, end wire.Micros) {
	tree, ok := c.values[k]
	if !ok {
		return
	}
	var toDelete []bucket[V]
	tree.AscendRange(bucket[V]{timestamp: start}, bucket[V]{timestamp: end}, func(b bucket[V]) bool {
		toDelete = append(toDelete, b)
		return true
	})
	if len(toDelete) == 0 {
		return
	}
	oldEarliest, _ := c.earliest(k)
	for _, b := range toDelete {
		tree.Delete(b)
	}
	if tree.Len() == 0 {
		delete(c.values, k)
		c.removeFromExpirations(oldEarliest, k)
		return
	}
	newEarliest, _ := c.earliest(k)
	if newEarliest != oldEarliest {
		c.removeFromExpirations(oldEarliest, k)
		c.addToExpirations(newEarliest, k)
	}
}

// ExpireEntriesBefore implements expire_entries_before(t): drops or splits
// every key whose earliest timestamp is < t and returns the set of affected
// keys so the façade can log the corresponding deletions.
func (c *Cache[K, V]) ExpireEntriesBefore(t wire.Micros) []K {
	var expiredSets []expirationSet[K]
	c.expirations.AscendLessThan(expirationSet[K]{timestamp: t}, func(set expirationSet[K]) bool {
		expiredSets = append(expiredSets, set)
		return true
	})

	var expiredKeys []K
	for _, set := range expiredSets {
		c.expirations.Delete(expirationSet[K]{timestamp: set.timestamp})
		for k := range set.keys {
			expiredKeys = append(expiredKeys, k)
		}
	}

	for _, k := range expiredKeys {
		tree := c.values[k]
		if tree == nil {
			continue
		}
		max, ok := tree.Max()
		if !ok {
			delete(c.values, k)
			continue
		}
		if max.timestamp <= t {
			delete(c.values, k)
			continue
		}
		var dropped []bucket[V]
		tree.AscendLessThan(bucket[V]{timestamp: t}, func(b bucket[V]) bool {
			dropped = append(dropped, b)
			return true
		})
		for _, b := range dropped {
			tree.Delete(b)
		}
		if retained, ok := tree.Min(); ok {
			c.addToExpirations(retained.timestamp, k)
		}
	}

	return expiredKeys
}

// GetTimeRange implements get_time_range(k, [start, end)): values from all
// timestamps in the half-open interval, ascending by timestamp, preserving
// per-bucket insertion order.
func (c *Cache[K, V]) GetTimeRange(k K, start, end wire.Micros) []V {
	tree, ok := c.values[k]
	if !ok {
		return nil
	}
	var out []V
	tree.AscendRange(bucket[V]{timestamp: start}, bucket[V]{timestamp: end}, func(b bucket[V]) bool {
		out = append(out, b.values...)
		return true
	})
	return out
}

// TimestampedValue pairs a value with the timestamp bucket it was stored
// under, the element type of GetAllValuesWithTimestamps.
type TimestampedValue[V any] struct {
	Timestamp wire.Micros
	Value     V
}

// GetAllValuesWithTimestamps implements get_all_values_with_timestamps(k):
// ascending by t, preserving insertion order within a timestamp. Section 9
// describes a lazy, single-pass view; this returns a materialized slice
// instead — idiomatic Go callers expect a concrete value, and nothing in
// this core holds the cache across multiple logical passes.
func (c *Cache[K, V]) GetAllValuesWithTimestamps(k K) []TimestampedValue[V] {
	tree, ok := c.values[k]
	if !ok {
		return nil
	}
	var out []TimestampedValue[V]
	tree.Ascend(func(b bucket[V]) bool {
		for _, v := range b.values {
			out = append(out, TimestampedValue[V]{Timestamp: b.timestamp, Value: v})
		}
		return true
	})
	return out
}

// rebuildExpirations recomputes the expirations index from scratch against
// the current values state, as step 4 of from_checkpoint requires: the
// index is a pure function of values, not something replayed from the log.
func (c *Cache[K, V]) rebuildExpirations() {
	c.expirations = btree.NewG(btreeDegree, lessExpiration[K])
	for k, tree := range c.values {
		if tree.Len() == 0 {
			continue
		}
		min, _ := tree.Min()
		c.addToExpirations(min.timestamp, k)
	}
}

// ExpirationKeys returns the set of keys registered under timestamp t, for
// tests verifying I3 directly (property P4).
func (c *Cache[K, V]) ExpirationKeys(t wire.Micros) []K {
	set, ok := c.expirations.Get(expirationSet[K]{timestamp: t})
	if !ok {
		return nil
	}
	out := make([]K, 0, len(set.keys))
	for k := range set.keys {
		out = append(out, k)
	}
	return out
}
