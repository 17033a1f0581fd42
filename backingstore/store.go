// Package backingstore implements the External Backing Store Interface of
// section 6: an append-only log of keyed data operations plus durable
// manifest storage. The core treats this as an external collaborator
// (section 1); this package provides a production implementation backed by
// S3 and an in-memory one for tests.
package backingstore

import (
	"context"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// Store is the contract the checkpoint core and the kvtime package consume,
// as enumerated in section 6.
type Store interface {
	// WriteDataTuple appends an insert record for (table, timestamp, key,
	// value) to the named table's operation log.
	WriteDataTuple(ctx context.Context, table string, timestamp wire.Micros, key, value []byte) error
	// DeleteKey appends a DeleteKey record.
	DeleteKey(ctx context.Context, table string, key []byte) error
	// DeleteDataValue appends a DeleteValue record.
	DeleteDataValue(ctx context.Context, table string, timestamp wire.Micros, key, value []byte) error
	// DeleteTimeRange appends a DeleteTimeRange record over [start, end).
	DeleteTimeRange(ctx context.Context, table string, key []byte, start, end wire.Micros) error
	// GetDataTuples replays a table's operation log in append order.
	GetDataTuples(ctx context.Context, table string) ([]wire.DataTuple, error)
	// LoadOperatorMetadata loads the most recent operator checkpoint
	// manifest for (jobID, operatorID, epoch), or ok=false if absent.
	LoadOperatorMetadata(ctx context.Context, jobID, operatorID string, epoch uint32) (wire.OperatorCheckpointMetadata, bool, error)
	// WriteOperatorCheckpointMetadata durably writes an operator-level
	// checkpoint manifest. The write MUST succeed; a failure is fatal to
	// the epoch (section 4.1).
	WriteOperatorCheckpointMetadata(ctx context.Context, m wire.OperatorCheckpointMetadata) error
	// WriteCheckpointMetadata durably writes the job-level checkpoint
	// manifest.
	WriteCheckpointMetadata(ctx context.Context, m wire.CheckpointMetadata) error
}
