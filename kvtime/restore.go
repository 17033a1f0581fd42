package kvtime

import (
	"context"
	"fmt"

	"github.com/gurre/arroyo-checkpoint/backingstore"
	"github.com/gurre/arroyo-checkpoint/metrics"
	"github.com/gurre/arroyo-checkpoint/wire"
)

// RestoreError reports a fatal condition encountered while replaying a
// table's operation log, as section 4.5 and 7 require (an absent operator
// manifest, or a DeleteTimeKey record, are both fatal to the restore).
type RestoreError struct {
	Table string
	Err   error
}

func (e *RestoreError) Error() string { return fmt.Sprintf("kvtime: restore %q: %s", e.Table, e.Err) }
func (e *RestoreError) Unwrap() error { return e.Err }

// Restore implements from_checkpoint of section 4.5: it loads the
// operator's most recent metadata, computes min_valid_time from the
// operator's min_watermark and the table's retention, then replays the
// table's operation log in order into a fresh Facade.
func Restore[K comparable, V comparable](
	ctx context.Context,
	store backingstore.Store,
	gauge sizeGauge,
	m *metrics.Metrics,
	jobID, operatorID string,
	taskIndex uint32,
	epoch uint32,
	table string,
	descriptor wire.TableDescriptor,
	keyCodec wire.Codec[K],
	valueCodec wire.Codec[V],
) (*Facade[K, V], error) {
	operator, ok, err := store.LoadOperatorMetadata(ctx, jobID, operatorID, epoch)
	if err != nil {
		return nil, &RestoreError{Table: table, Err: fmt.Errorf("load operator metadata: %w", err)}
	}
	if !ok {
		return nil, &RestoreError{Table: table, Err: fmt.Errorf("no operator metadata for %s/%s@%d", jobID, operatorID, epoch)}
	}

	var minValidTime wire.Micros
	if operator.MinWatermark != nil {
		minValidTime = *operator.MinWatermark - wire.Micros(descriptor.RetentionMicros)
	}

	facade := NewFacade[K, V](store, gauge, table, operatorID, taskIndex, keyCodec, valueCodec)

	tuples, err := store.GetDataTuples(ctx, table)
	if err != nil {
		return nil, &RestoreError{Table: table, Err: fmt.Errorf("get data tuples: %w", err)}
	}

	for _, tuple := range tuples {
		if m != nil {
			m.RecordTupleReplayed()
		}
		if tuple.Timestamp < minValidTime && (tuple.Operation == wire.OpInsert || tuple.Operation == wire.OpDeleteValue) {
			if m != nil {
				m.RecordSkipped()
			}
			continue
		}

		switch tuple.Operation {
		case wire.OpInsert:
			key, err := keyCodec.Decode(tuple.Key)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode key: %w", err)}
			}
			value, err := valueCodec.Decode(tuple.Value)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode value: %w", err)}
			}
			facade.cache.Insert(tuple.Timestamp, key, value)

		case wire.OpDeleteKey:
			key, err := keyCodec.Decode(tuple.Key)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode key: %w", err)}
			}
			facade.cache.RemoveKey(key)

		case wire.OpDeleteValue:
			key, err := keyCodec.Decode(tuple.Key)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode key: %w", err)}
			}
			value, err := valueCodec.Decode(tuple.Value)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode value: %w", err)}
			}
			facade.cache.RemoveValue(tuple.Timestamp, key, func(candidate V) bool { return candidate == value })

		case wire.OpDeleteTimeRange:
			key, err := keyCodec.Decode(tuple.Key)
			if err != nil {
				return nil, &RestoreError{Table: table, Err: fmt.Errorf("decode key: %w", err)}
			}
			facade.cache.ClearTimeRange(key, tuple.Start, tuple.End)

		case wire.OpDeleteTimeKey:
			return nil, &RestoreError{Table: table, Err: fmt.Errorf("DeleteTimeKey is unsupported for this table kind")}

		default:
			return nil, &RestoreError{Table: table, Err: fmt.Errorf("unknown operation %v", tuple.Operation)}
		}
	}

	// expirations is a pure function of the final values state (section
	// 4.5 step 4): it is rebuilt from scratch, not replayed, since the log
	// only ever carries the operations that produced values.
	facade.cache.rebuildExpirations()

	facade.reportSize()
	return facade, nil
}
