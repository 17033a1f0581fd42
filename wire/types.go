// Package wire defines the on-the-wire data types exchanged between a
// checkpoint coordinator, its subtasks, and the backing store (section 6).
// Nothing in this package mutates state; it is pure data plus the codec
// used to serialize it.
package wire

import "time"

// Micros is a wall-clock instant expressed as microseconds since the Unix
// epoch, the wire format mandated for every timestamp that crosses a
// coordinator/subtask or core/backing-store boundary.
type Micros int64

// ToMicros converts a time.Time to its wire representation.
func ToMicros(t time.Time) Micros {
	return Micros(t.UnixMicro())
}

// Time converts a wire timestamp back to a time.Time.
func (m Micros) Time() time.Time {
	return time.UnixMicro(int64(m))
}

// TableEnum discriminates the kind of table a TableConfig describes, as
// specified in section 3. MissingTableType is a sentinel for a table config
// that was never set; observing it anywhere is an invariant violation.
type TableEnum int

const (
	MissingTableType TableEnum = iota
	GlobalKeyValue
	ExpiringKeyedTimeTable
)

// String renders a TableEnum for error messages and logs.
func (t TableEnum) String() string {
	switch t {
	case GlobalKeyValue:
		return "GlobalKeyValue"
	case ExpiringKeyedTimeTable:
		return "ExpiringKeyedTimeTable"
	default:
		return "MissingTableType"
	}
}

// TableConfig discriminates a table's kind, as specified in section 3.
type TableConfig struct {
	TableType TableEnum `json:"tableType"`
}

// TableDescriptor carries the retention policy for an ExpiringKeyedTimeTable,
// consulted only during restore (section 4.5). It is distinct from
// TableConfig because retention is a deployment parameter, not part of the
// checkpointed table kind.
type TableDescriptor struct {
	RetentionMicros int64 `json:"retentionMicros"`
}

// TableSubtaskCheckpointMetadata is one subtask's contribution to a table's
// checkpoint, as specified in section 3 (TableState.subtask_tables). Files
// names the backend objects the subtask wrote; Bytes is their total size.
// The shape is intentionally generic: the merge rule for a given TableEnum
// decides how these per-subtask contributions combine.
type TableSubtaskCheckpointMetadata struct {
	SubtaskIndex uint32   `json:"subtaskIndex"`
	Files        []string `json:"files"`
	Bytes        int64    `json:"bytes"`
}

// TableCheckpointMetadata is the merged, table-level checkpoint record
// produced by a Table State Merger (section 4.3).
type TableCheckpointMetadata struct {
	Files []string `json:"files"`
	Bytes int64    `json:"bytes"`
}

// SubtaskCheckpointMetadata is what a single subtask reports on
// CheckpointCompleted, as specified in section 6.
type SubtaskCheckpointMetadata struct {
	SubtaskIndex  uint32                                     `json:"subtaskIndex"`
	StartTime     Micros                                     `json:"startTime"`
	FinishTime    Micros                                     `json:"finishTime"`
	Watermark     *Micros                                    `json:"watermark,omitempty"`
	TableMetadata map[string]TableSubtaskCheckpointMetadata `json:"tableMetadata"`
	TableConfigs  map[string]TableConfig                    `json:"tableConfigs"`
}

// TaskCheckpointEventType enumerates the progress notes a subtask may emit
// before it completes, as specified in section 6.
type TaskCheckpointEventType int

const (
	StartedAlignment TaskCheckpointEventType = iota
	StartedCheckpointing
	FinishedOperatorSetup
	FinishedSync
	FinishedCommit
)

// UIEventType is the UI-facing translation of a TaskCheckpointEventType, per
// the fixed table in section 6.
type UIEventType int

const (
	AlignmentStarted UIEventType = iota
	CheckpointStarted
	CheckpointOperatorFinished
	CheckpointSyncFinished
	CheckpointPreCommit
)

// TaskCheckpointEventReq is a progress note from a subtask, as specified in
// section 6.
type TaskCheckpointEventReq struct {
	OperatorID   string
	SubtaskIndex uint32
	Time         Micros
	EventType    TaskCheckpointEventType
}

// TaskCheckpointCompletedReq is the exactly-once completion report a subtask
// sends per epoch, as specified in section 6.
type TaskCheckpointCompletedReq struct {
	OperatorID string
	Time       Micros
	Metadata   *SubtaskCheckpointMetadata
}

// OperatorCheckpointMetadata is the durable, operator-level checkpoint
// manifest written once all of an operator's subtasks have reported, as
// specified in section 6.
type OperatorCheckpointMetadata struct {
	JobID                   string                             `json:"jobId"`
	OperatorID              string                             `json:"operatorId"`
	Epoch                   uint32                             `json:"epoch"`
	StartTime               Micros                             `json:"startTime"`
	FinishTime              Micros                             `json:"finishTime"`
	MinWatermark            *Micros                            `json:"minWatermark,omitempty"`
	MaxWatermark            *Micros                            `json:"maxWatermark,omitempty"`
	HasState                bool                               `json:"hasState"`
	Tables                  []string                           `json:"tables"`
	BackendData             []byte                             `json:"backendData,omitempty"`
	Bytes                   int64                              `json:"bytes"`
	CommitData              []byte                             `json:"commitData,omitempty"`
	TableCheckpointMetadata map[string]TableCheckpointMetadata `json:"tableCheckpointMetadata"`
	TableConfigs            map[string]TableConfig             `json:"tableConfigs"`
}

// CheckpointMetadata is the durable, job-level checkpoint manifest, as
// specified in section 6.
type CheckpointMetadata struct {
	JobID       string   `json:"jobId"`
	Epoch       uint32   `json:"epoch"`
	MinEpoch    uint32   `json:"minEpoch"`
	StartTime   Micros   `json:"startTime"`
	FinishTime  Micros   `json:"finishTime"`
	OperatorIDs []string `json:"operatorIds"`
}
