package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/gurre/arroyo-checkpoint/backingstore"
	"github.com/gurre/arroyo-checkpoint/wire"
)

func micros(v int64) wire.Micros { return wire.Micros(v) }

func subtaskMeta(idx uint32, start, finish int64, watermark *wire.Micros) wire.SubtaskCheckpointMetadata {
	return wire.SubtaskCheckpointMetadata{
		SubtaskIndex: idx,
		StartTime:    micros(start),
		FinishTime:   micros(finish),
		Watermark:    watermark,
		TableMetadata: map[string]wire.TableSubtaskCheckpointMetadata{
			"t": {SubtaskIndex: idx, Files: []string{"f"}, Bytes: 1},
		},
		TableConfigs: map[string]wire.TableConfig{
			"t": {TableType: wire.GlobalKeyValue},
		},
	}
}

// TestTwoOperatorTwoSubtaskEpoch implements end-to-end scenario 1 of
// section 8: interleaved A0, B0, A1, B1 completions produce the expected
// merged operator metadata and job-level manifest.
func TestTwoOperatorTwoSubtaskEpoch(t *testing.T) {
	store := backingstore.NewMemoryStore()
	cs, err := New(store, "job", 1, 5, 5, map[string]uint32{"op_A": 2, "op_B": 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	deliver := func(op string, idx uint32, start, finish, wm int64) {
		t.Helper()
		w := micros(wm)
		if err := cs.CheckpointFinished(ctx, wire.TaskCheckpointCompletedReq{
			OperatorID: op,
			Metadata:   ptrMeta(subtaskMeta(idx, start, finish, &w)),
		}); err != nil {
			t.Fatalf("CheckpointFinished(%s,%d): %v", op, idx, err)
		}
	}

	deliver("op_A", 0, 100, 300, 10)
	deliver("op_B", 0, 200, 400, 20)
	deliver("op_A", 1, 150, 350, 15)

	aMeta, ok, err := store.LoadOperatorMetadata(ctx, "job", "op_A", 5)
	if err != nil || !ok {
		t.Fatalf("expected op_A metadata, ok=%v err=%v", ok, err)
	}
	if aMeta.StartTime != 100 || aMeta.FinishTime != 350 {
		t.Fatalf("op_A start/finish = %d/%d, want 100/350", aMeta.StartTime, aMeta.FinishTime)
	}
	if aMeta.MinWatermark == nil || *aMeta.MinWatermark != 10 || aMeta.MaxWatermark == nil || *aMeta.MaxWatermark != 15 {
		t.Fatalf("op_A watermarks = %v/%v, want 10/15", aMeta.MinWatermark, aMeta.MaxWatermark)
	}

	if cs.Done() {
		t.Fatal("expected Done() == false before op_B completes")
	}

	deliver("op_B", 1, 250, 450, 25)

	bMeta, ok, err := store.LoadOperatorMetadata(ctx, "job", "op_B", 5)
	if err != nil || !ok {
		t.Fatalf("expected op_B metadata, ok=%v err=%v", ok, err)
	}
	if bMeta.StartTime != 200 || bMeta.FinishTime != 450 {
		t.Fatalf("op_B start/finish = %d/%d, want 200/450", bMeta.StartTime, bMeta.FinishTime)
	}
	if bMeta.MinWatermark == nil || *bMeta.MinWatermark != 20 || bMeta.MaxWatermark == nil || *bMeta.MaxWatermark != 25 {
		t.Fatalf("op_B watermarks = %v/%v, want 20/25", bMeta.MinWatermark, bMeta.MaxWatermark)
	}

	if !cs.Done() {
		t.Fatal("expected Done() == true")
	}

	if err := cs.SaveState(ctx); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	records := store.CheckpointMetadataRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 checkpoint metadata record, got %d", len(records))
	}
	got := records[0]
	if got.Epoch != 5 {
		t.Fatalf("epoch = %d, want 5", got.Epoch)
	}
	if len(got.OperatorIDs) != 2 {
		t.Fatalf("operator_ids = %v, want 2 entries", got.OperatorIDs)
	}
}

// TestMissingWatermarkAbsorbs implements end-to-end scenario 2: any nil
// watermark collapses the operator's aggregate to (nil, nil) per I5.
func TestMissingWatermarkAbsorbs(t *testing.T) {
	store := backingstore.NewMemoryStore()
	cs, err := New(store, "job", 1, 5, 5, map[string]uint32{"op_A": 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	wm0 := micros(10)
	if err := cs.CheckpointFinished(ctx, wire.TaskCheckpointCompletedReq{
		OperatorID: "op_A",
		Metadata:   ptrMeta(subtaskMeta(0, 100, 300, &wm0)),
	}); err != nil {
		t.Fatalf("CheckpointFinished(0): %v", err)
	}
	if err := cs.CheckpointFinished(ctx, wire.TaskCheckpointCompletedReq{
		OperatorID: "op_A",
		Metadata:   ptrMeta(subtaskMeta(1, 150, 350, nil)),
	}); err != nil {
		t.Fatalf("CheckpointFinished(1): %v", err)
	}

	meta, ok, err := store.LoadOperatorMetadata(ctx, "job", "op_A", 5)
	if err != nil || !ok {
		t.Fatalf("expected metadata, ok=%v err=%v", ok, err)
	}
	if meta.MinWatermark != nil || meta.MaxWatermark != nil {
		t.Fatalf("expected nil/nil watermarks, got %v/%v", meta.MinWatermark, meta.MaxWatermark)
	}
}

func TestCheckpointEventRejectsFinishedCommit(t *testing.T) {
	store := backingstore.NewMemoryStore()
	cs, err := New(store, "job", 1, 5, 5, map[string]uint32{"op_A": 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = cs.CheckpointEvent(wire.TaskCheckpointEventReq{
		OperatorID: "op_A", SubtaskIndex: 0, Time: micros(1), EventType: wire.FinishedCommit,
	})
	var checkpointErr *Error
	if !errors.As(err, &checkpointErr) || checkpointErr.Kind != InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestCheckpointFinishedUnknownOperator(t *testing.T) {
	store := backingstore.NewMemoryStore()
	cs, err := New(store, "job", 1, 5, 5, map[string]uint32{"op_A": 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = cs.CheckpointFinished(context.Background(), wire.TaskCheckpointCompletedReq{
		OperatorID: "op_nope",
		Metadata:   ptrMeta(subtaskMeta(0, 1, 2, nil)),
	})
	var checkpointErr *Error
	if !errors.As(err, &checkpointErr) || checkpointErr.Kind != InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestCheckpointFinishedMissingMetadata(t *testing.T) {
	store := backingstore.NewMemoryStore()
	cs, err := New(store, "job", 1, 5, 5, map[string]uint32{"op_A": 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = cs.CheckpointFinished(context.Background(), wire.TaskCheckpointCompletedReq{OperatorID: "op_A"})
	var checkpointErr *Error
	if !errors.As(err, &checkpointErr) || checkpointErr.Kind != InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestNewRejectsBadPreconditions(t *testing.T) {
	store := backingstore.NewMemoryStore()

	if _, err := New(store, "job", 1, 1, 5, map[string]uint32{"a": 1}); err == nil {
		t.Fatal("expected error when min_epoch > epoch")
	}
	if _, err := New(store, "job", 1, 5, 5, nil); err == nil {
		t.Fatal("expected error for empty tasks_per_operator")
	}
	if _, err := New(store, "job", 1, 5, 5, map[string]uint32{"a": 0}); err == nil {
		t.Fatal("expected error for zero subtasks")
	}
}

func ptrMeta(m wire.SubtaskCheckpointMetadata) *wire.SubtaskCheckpointMetadata { return &m }
