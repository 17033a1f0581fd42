package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gurre/arroyo-checkpoint/backingstore"
	"github.com/gurre/arroyo-checkpoint/tables"
	"github.com/gurre/arroyo-checkpoint/wire"
)

// CheckpointState is the per-epoch controller state described in section
// 4.1. It is single-writer: the coordinator serializes all calls into
// CheckpointEvent, CheckpointFinished, and SaveState (section 5); this type
// does no internal locking and must not be shared across goroutines.
type CheckpointState struct {
	jobID        string
	checkpointID int64
	epoch        uint32
	minEpoch     uint32
	startTime    time.Time
	store        backingstore.Store

	operators            int
	operatorsCheckpointed int
	operatorState        map[string]*OperatorState

	// OperatorDetails is UI telemetry only (section 9): kept alongside
	// correctness state but never consulted by it.
	OperatorDetails map[string]*OperatorCheckpointDetail
}

// New constructs a CheckpointState for one epoch, as specified in section
// 4.1. It panics-free validates its preconditions and returns an
// InvariantViolation *Error if they are not met: minEpoch must not exceed
// epoch, and tasksPerOperator must be non-empty with every value >= 1.
func New(
	store backingstore.Store,
	jobID string,
	checkpointID int64,
	epoch uint32,
	minEpoch uint32,
	tasksPerOperator map[string]uint32,
) (*CheckpointState, error) {
	if minEpoch > epoch {
		return nil, &Error{
			Kind: InvariantViolation, Op: "New", JobID: jobID, CheckpointID: checkpointID, Epoch: epoch,
			Err: fmt.Errorf("min_epoch %d exceeds epoch %d", minEpoch, epoch),
		}
	}
	if len(tasksPerOperator) == 0 {
		return nil, &Error{
			Kind: InvariantViolation, Op: "New", JobID: jobID, CheckpointID: checkpointID, Epoch: epoch,
			Err: fmt.Errorf("tasks_per_operator must be non-empty"),
		}
	}
	operatorState := make(map[string]*OperatorState, len(tasksPerOperator))
	for operatorID, subtasks := range tasksPerOperator {
		if subtasks < 1 {
			return nil, &Error{
				Kind: InvariantViolation, Op: "New", JobID: jobID, CheckpointID: checkpointID, Epoch: epoch, OperatorID: operatorID,
				Err: fmt.Errorf("operator %q has %d subtasks, want >= 1", operatorID, subtasks),
			}
		}
		operatorState[operatorID] = newOperatorState(subtasks)
	}

	return &CheckpointState{
		jobID:           jobID,
		checkpointID:    checkpointID,
		epoch:           epoch,
		minEpoch:        minEpoch,
		startTime:       time.Now(),
		store:           store,
		operators:       len(tasksPerOperator),
		operatorState:   operatorState,
		OperatorDetails: make(map[string]*OperatorCheckpointDetail),
	}, nil
}

// CheckpointID returns the checkpoint identifier this state tracks.
func (c *CheckpointState) CheckpointID() int64 { return c.checkpointID }

// StartTime returns the wall-clock instant this state was constructed.
func (c *CheckpointState) StartTime() time.Time { return c.startTime }

// OperatorState returns the live OperatorState for operatorID, or nil if
// unknown. Exposed for callers that need to inspect progress without
// mutating it.
func (c *CheckpointState) OperatorState(operatorID string) *OperatorState {
	return c.operatorState[operatorID]
}

// CheckpointEvent records a subtask progress note, as specified in section
// 4.1. FinishedCommit is rejected: commits happen only after a checkpoint
// completes, so observing one mid-checkpoint is an invariant violation.
func (c *CheckpointState) CheckpointEvent(evt wire.TaskCheckpointEventReq) error {
	if evt.EventType == wire.FinishedCommit {
		return &Error{
			Kind: InvariantViolation, Op: "CheckpointEvent", JobID: c.jobID, CheckpointID: c.checkpointID,
			Epoch: c.epoch, OperatorID: evt.OperatorID, SubtaskIndex: evt.SubtaskIndex, HasSubtask: true,
			Err: fmt.Errorf("received FinishedCommit while checkpointing"),
		}
	}

	detail, ok := c.OperatorDetails[evt.OperatorID]
	if !ok {
		detail = &OperatorCheckpointDetail{
			OperatorID: evt.OperatorID,
			StartTime:  evt.Time,
			Tasks:      make(map[uint32]*TaskCheckpointDetail),
		}
		c.OperatorDetails[evt.OperatorID] = detail
	}

	task, ok := detail.Tasks[evt.SubtaskIndex]
	if !ok {
		task = &TaskCheckpointDetail{SubtaskIndex: evt.SubtaskIndex, StartTime: evt.Time}
		detail.Tasks[evt.SubtaskIndex] = task
	}

	task.Events = append(task.Events, TaskCheckpointEvent{
		Time:      evt.Time,
		EventType: uiEventType(evt.EventType),
	})
	return nil
}

// CheckpointFinished records a subtask's exactly-once completion report, as
// specified in section 4.1. It may suspend on the backing-store write: the
// write MUST succeed, and a failure is fatal to the epoch (no retry is
// attempted inside this package — section 7's policy delegates retry to a
// new epoch at the engine level).
func (c *CheckpointState) CheckpointFinished(ctx context.Context, completed wire.TaskCheckpointCompletedReq) error {
	operatorState, ok := c.operatorState[completed.OperatorID]
	if !ok {
		return &Error{
			Kind: InvariantViolation, Op: "CheckpointFinished", JobID: c.jobID, CheckpointID: c.checkpointID,
			Epoch: c.epoch, OperatorID: completed.OperatorID,
			Err: fmt.Errorf("unexpected operator checkpoint"),
		}
	}
	if completed.Metadata == nil {
		return &Error{
			Kind: InvariantViolation, Op: "CheckpointFinished", JobID: c.jobID, CheckpointID: c.checkpointID,
			Epoch: c.epoch, OperatorID: completed.OperatorID,
			Err: fmt.Errorf("missing metadata for operator %s", completed.OperatorID),
		}
	}

	tableConfigs, tableMetadatas, ready, err := operatorState.finishSubtask(*completed.Metadata)
	if err != nil {
		return &Error{
			Kind: classifyErr(err), Op: "CheckpointFinished", JobID: c.jobID, CheckpointID: c.checkpointID,
			Epoch: c.epoch, OperatorID: completed.OperatorID, Err: err,
		}
	}
	if !ready {
		return nil
	}

	c.operatorsCheckpointed++

	minWatermark, maxWatermark := aggregateWatermarks(operatorState.watermarks)

	tableNames := make([]string, 0, len(tableMetadatas))
	for name := range tableMetadatas {
		tableNames = append(tableNames, name)
	}

	record := wire.OperatorCheckpointMetadata{
		JobID:                   c.jobID,
		OperatorID:              completed.OperatorID,
		Epoch:                   c.epoch,
		StartTime:               *operatorState.startTime,
		FinishTime:              *operatorState.finishTime,
		MinWatermark:            minWatermark,
		MaxWatermark:            maxWatermark,
		HasState:                len(tableMetadatas) > 0,
		Tables:                  tableNames,
		TableCheckpointMetadata: tableMetadatas,
		TableConfigs:            tableConfigs,
	}

	if err := c.store.WriteOperatorCheckpointMetadata(ctx, record); err != nil {
		return &Error{
			Kind: BackingStoreError, Op: "CheckpointFinished", JobID: c.jobID, CheckpointID: c.checkpointID,
			Epoch: c.epoch, OperatorID: completed.OperatorID,
			Err: fmt.Errorf("write operator checkpoint metadata: %w", err),
		}
	}
	return nil
}

// Done reports whether every operator has checkpointed, as specified in
// section 4.1 (P1: completion monotonicity).
func (c *CheckpointState) Done() bool {
	return c.operatorsCheckpointed == c.operators
}

// SaveState writes the job-level checkpoint manifest, as specified in
// section 4.1. Like CheckpointFinished, this may suspend on the backing
// write, and a failure is fatal.
func (c *CheckpointState) SaveState(ctx context.Context) error {
	operatorIDs := make([]string, 0, len(c.operatorState))
	for id := range c.operatorState {
		operatorIDs = append(operatorIDs, id)
	}

	record := wire.CheckpointMetadata{
		JobID:       c.jobID,
		Epoch:       c.epoch,
		MinEpoch:    c.minEpoch,
		StartTime:   wire.ToMicros(c.startTime),
		FinishTime:  wire.ToMicros(time.Now()),
		OperatorIDs: operatorIDs,
	}

	if err := c.store.WriteCheckpointMetadata(ctx, record); err != nil {
		return &Error{
			Kind: BackingStoreError, Op: "SaveState", JobID: c.jobID, CheckpointID: c.checkpointID, Epoch: c.epoch,
			Err: fmt.Errorf("write checkpoint metadata: %w", err),
		}
	}
	return nil
}

// aggregateWatermarks implements I5: the result is (nil, nil) if any
// reported watermark was nil, otherwise the min and max of the reported
// values (section 4.1, "computes (min_watermark, max_watermark) per I5").
func aggregateWatermarks(watermarks []*wire.Micros) (min, max *wire.Micros) {
	for _, w := range watermarks {
		if w == nil {
			return nil, nil
		}
	}
	if len(watermarks) == 0 {
		return nil, nil
	}
	lo, hi := *watermarks[0], *watermarks[0]
	for _, w := range watermarks[1:] {
		if *w < lo {
			lo = *w
		}
		if *w > hi {
			hi = *w
		}
	}
	return &lo, &hi
}

// classifyErr maps an internal finishSubtask error to an ErrorKind. Missing
// table configs and missing table types are invariant violations; anything
// surfaced by a Merger is a merger error.
func classifyErr(err error) ErrorKind {
	var mergeErr *tables.Error
	if errors.As(err, &mergeErr) {
		return MergerError
	}
	return InvariantViolation
}
