package kvtime

import (
	"context"
	"fmt"

	"github.com/gurre/arroyo-checkpoint/backingstore"
	"github.com/gurre/arroyo-checkpoint/metrics"
	"github.com/gurre/arroyo-checkpoint/wire"
)

// sizeGauge is the subset of *metrics.TableSizeGauge the façade needs,
// narrowed to keep this package's dependency on metrics minimal and
// test-friendly.
type sizeGauge interface {
	Set(operatorID string, taskIndex uint32, tableID string, size int)
}

var _ sizeGauge = (*metrics.TableSizeGauge)(nil)

// Facade is the write-through layer of section 4.4: every mutation except
// ExpireEntriesBefore appends to the backing store's operation log before
// touching the in-memory Cache, and a read consults only the cache.
type Facade[K comparable, V comparable] struct {
	store      backingstore.Store
	cache      *Cache[K, V]
	gauge      sizeGauge
	table      string
	operatorID string
	taskIndex  uint32
	keyCodec   wire.Codec[K]
	valueCodec wire.Codec[V]
}

// NewFacade constructs a Facade over an empty Cache. Use Restore instead
// when resuming from a checkpoint.
func NewFacade[K comparable, V comparable](
	store backingstore.Store,
	gauge sizeGauge,
	table, operatorID string,
	taskIndex uint32,
	keyCodec wire.Codec[K],
	valueCodec wire.Codec[V],
) *Facade[K, V] {
	return &Facade[K, V]{
		store:      store,
		cache:      NewCache[K, V](),
		gauge:      gauge,
		table:      table,
		operatorID: operatorID,
		taskIndex:  taskIndex,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
	}
}

func (f *Facade[K, V]) encodeKey(k K) ([]byte, error) {
	b, err := f.keyCodec.Encode(k)
	if err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}
	return b, nil
}

func (f *Facade[K, V]) encodeValue(v V) ([]byte, error) {
	b, err := f.valueCodec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

func (f *Facade[K, V]) reportSize() {
	if f.gauge != nil {
		f.gauge.Set(f.operatorID, f.taskIndex, f.table, f.cache.Len())
	}
}

// Insert implements insert(t, k, v): log an Insert tuple, then mutate the
// cache, then report the new key count.
func (f *Facade[K, V]) Insert(ctx context.Context, t wire.Micros, k K, v V) error {
	keyBytes, err := f.encodeKey(k)
	if err != nil {
		return err
	}
	valueBytes, err := f.encodeValue(v)
	if err != nil {
		return err
	}
	if err := f.store.WriteDataTuple(ctx, f.table, t, keyBytes, valueBytes); err != nil {
		return fmt.Errorf("write data tuple: %w", err)
	}
	f.cache.Insert(t, k, v)
	f.reportSize()
	return nil
}

// DeleteKey implements delete_key(k): log a DeleteKey record, then remove k
// from the cache.
func (f *Facade[K, V]) DeleteKey(ctx context.Context, k K) error {
	keyBytes, err := f.encodeKey(k)
	if err != nil {
		return err
	}
	if err := f.store.DeleteKey(ctx, f.table, keyBytes); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	f.cache.RemoveKey(k)
	f.reportSize()
	return nil
}

// DeleteValue implements delete_value(t, k, v): log a DeleteValue record,
// then drop the first matching value at (k, t) from the cache.
func (f *Facade[K, V]) DeleteValue(ctx context.Context, t wire.Micros, k K, v V) error {
	keyBytes, err := f.encodeKey(k)
	if err != nil {
		return err
	}
	valueBytes, err := f.encodeValue(v)
	if err != nil {
		return err
	}
	if err := f.store.DeleteDataValue(ctx, f.table, t, keyBytes, valueBytes); err != nil {
		return fmt.Errorf("delete data value: %w", err)
	}
	f.cache.RemoveValue(t, k, func(candidate V) bool { return candidate == v })
	return nil
}

// ClearTimeRange implements clear_time_range(k, [start, end)): it logs
// before mutating the cache, matching the ordering of every other
// mutation (section 9's recommended ordering).
func (f *Facade[K, V]) ClearTimeRange(ctx context.Context, k K, start, end wire.Micros) error {
	keyBytes, err := f.encodeKey(k)
	if err != nil {
		return err
	}
	if err := f.store.DeleteTimeRange(ctx, f.table, keyBytes, start, end); err != nil {
		return fmt.Errorf("delete time range: %w", err)
	}
	f.cache.ClearTimeRange(k, start, end)
	f.reportSize()
	return nil
}

// ExpireEntriesBefore implements expire_entries_before(t): the cache
// determines which keys expired, and that result drives the log writes —
// mutate, then log, since there is no other source of truth for "which
// keys expired" before the cache computes it.
func (f *Facade[K, V]) ExpireEntriesBefore(ctx context.Context, t wire.Micros) ([]K, error) {
	expired := f.cache.ExpireEntriesBefore(t)
	for _, k := range expired {
		keyBytes, err := f.encodeKey(k)
		if err != nil {
			return nil, err
		}
		if err := f.store.DeleteTimeRange(ctx, f.table, keyBytes, 0, t); err != nil {
			return nil, fmt.Errorf("delete time range for expired key: %w", err)
		}
	}
	f.reportSize()
	return expired, nil
}

// GetTimeRange implements get_time_range: cache-only, no suspension.
func (f *Facade[K, V]) GetTimeRange(k K, start, end wire.Micros) []V {
	return f.cache.GetTimeRange(k, start, end)
}

// GetAllValuesWithTimestamps implements get_all_values_with_timestamps:
// cache-only, no suspension.
func (f *Facade[K, V]) GetAllValuesWithTimestamps(k K) []TimestampedValue[V] {
	return f.cache.GetAllValuesWithTimestamps(k)
}

// Cache exposes the underlying Cache for callers (tests, Restore) that need
// direct access without going through the write-through path.
func (f *Facade[K, V]) Cache() *Cache[K, V] { return f.cache }
