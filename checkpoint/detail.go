package checkpoint

import "github.com/gurre/arroyo-checkpoint/wire"

// TaskCheckpointEvent is one UI-facing progress note for a subtask, as
// specified in section 4.1. Its EventType is the fixed translation of the
// internal wire.TaskCheckpointEventType, per section 6.
type TaskCheckpointEvent struct {
	Time      wire.Micros
	EventType wire.UIEventType
}

// TaskCheckpointDetail aggregates the events reported by one subtask, for
// UI consumption only (section 9: "reporting-only", kept in a sidecar to
// avoid coupling correctness tests to UI shape).
type TaskCheckpointDetail struct {
	SubtaskIndex uint32
	StartTime    wire.Micros
	FinishTime   *wire.Micros
	Bytes        *int64
	Events       []TaskCheckpointEvent
}

// OperatorCheckpointDetail aggregates per-subtask UI details for one
// operator, as specified in section 4.1.
type OperatorCheckpointDetail struct {
	OperatorID string
	StartTime  wire.Micros
	FinishTime *wire.Micros
	HasState   bool
	Tasks      map[uint32]*TaskCheckpointDetail
}

// uiEventType is the fixed translation table from section 6:
// StartedAlignment -> AlignmentStarted, StartedCheckpointing ->
// CheckpointStarted, FinishedOperatorSetup -> CheckpointOperatorFinished,
// FinishedSync -> CheckpointSyncFinished, FinishedCommit ->
// CheckpointPreCommit (never reached in practice: FinishedCommit is
// rejected by CheckpointEvent before translation is attempted).
func uiEventType(t wire.TaskCheckpointEventType) wire.UIEventType {
	switch t {
	case wire.StartedAlignment:
		return wire.AlignmentStarted
	case wire.StartedCheckpointing:
		return wire.CheckpointStarted
	case wire.FinishedOperatorSetup:
		return wire.CheckpointOperatorFinished
	case wire.FinishedSync:
		return wire.CheckpointSyncFinished
	default:
		return wire.CheckpointPreCommit
	}
}
