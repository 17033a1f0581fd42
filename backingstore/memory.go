package backingstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// MemoryStore implements Store entirely in memory. It is primarily intended
// for testing.
type MemoryStore struct {
	mu sync.RWMutex

	tuples             map[string][]wire.DataTuple
	operatorMetadata   map[operatorKey]wire.OperatorCheckpointMetadata
	checkpointMetadata []wire.CheckpointMetadata
}

type operatorKey struct {
	jobID      string
	operatorID string
	epoch      uint32
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tuples:           make(map[string][]wire.DataTuple),
		operatorMetadata: make(map[operatorKey]wire.OperatorCheckpointMetadata),
	}
}

func (s *MemoryStore) WriteDataTuple(_ context.Context, table string, timestamp wire.Micros, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[table] = append(s.tuples[table], wire.DataTuple{
		Operation: wire.OpInsert,
		Key:       append([]byte(nil), key...),
		Timestamp: timestamp,
		Value:     append([]byte(nil), value...),
	})
	return nil
}

func (s *MemoryStore) DeleteKey(_ context.Context, table string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[table] = append(s.tuples[table], wire.DataTuple{
		Operation: wire.OpDeleteKey,
		Key:       append([]byte(nil), key...),
	})
	return nil
}

func (s *MemoryStore) DeleteDataValue(_ context.Context, table string, timestamp wire.Micros, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[table] = append(s.tuples[table], wire.DataTuple{
		Operation: wire.OpDeleteValue,
		Key:       append([]byte(nil), key...),
		Timestamp: timestamp,
		Value:     append([]byte(nil), value...),
	})
	return nil
}

func (s *MemoryStore) DeleteTimeRange(_ context.Context, table string, key []byte, start, end wire.Micros) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[table] = append(s.tuples[table], wire.DataTuple{
		Operation: wire.OpDeleteTimeRange,
		Key:       append([]byte(nil), key...),
		Start:     start,
		End:       end,
	})
	return nil
}

func (s *MemoryStore) GetDataTuples(_ context.Context, table string) ([]wire.DataTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.DataTuple, len(s.tuples[table]))
	copy(out, s.tuples[table])
	return out, nil
}

func (s *MemoryStore) LoadOperatorMetadata(_ context.Context, jobID, operatorID string, epoch uint32) (wire.OperatorCheckpointMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.operatorMetadata[operatorKey{jobID, operatorID, epoch}]
	return m, ok, nil
}

func (s *MemoryStore) WriteOperatorCheckpointMetadata(_ context.Context, m wire.OperatorCheckpointMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operatorMetadata[operatorKey{m.JobID, m.OperatorID, m.Epoch}] = m
	return nil
}

func (s *MemoryStore) WriteCheckpointMetadata(_ context.Context, m wire.CheckpointMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointMetadata = append(s.checkpointMetadata, m)
	return nil
}

// AppendRawForTest appends a DataTuple directly to table's log, bypassing
// the Write*/Delete* helpers. Test-only: used to construct log shapes (such
// as a bare DeleteTimeKey record) that the Store interface has no normal
// path to produce.
func (s *MemoryStore) AppendRawForTest(table string, tuple wire.DataTuple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[table] = append(s.tuples[table], tuple)
}

// CheckpointMetadataRecords returns every CheckpointMetadata written so far,
// in write order. Test-only accessor.
func (s *MemoryStore) CheckpointMetadataRecords() []wire.CheckpointMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]wire.CheckpointMetadata(nil), s.checkpointMetadata...)
}

var _ fmt.Stringer = operatorKey{}

func (k operatorKey) String() string {
	return fmt.Sprintf("%s/%s@%d", k.jobID, k.operatorID, k.epoch)
}

var _ Store = (*MemoryStore)(nil)
