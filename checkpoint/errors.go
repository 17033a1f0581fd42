// Package checkpoint implements the Checkpoint Coordinator State and
// Operator Aggregator described in sections 4.1 and 4.2: the controller-side
// state that tracks outstanding operators for one epoch, merges their
// per-table metadata, and persists the canonical checkpoint manifests.
package checkpoint

import "fmt"

// ErrorKind classifies a checkpoint failure per section 7.
type ErrorKind int

const (
	// InvariantViolation covers malformed input the core itself rejects:
	// an out-of-protocol event, an unknown operator, missing metadata, a
	// missing table config, or an unsupported table type.
	InvariantViolation ErrorKind = iota
	// BackingStoreError wraps a failed read or write against the backing
	// store. Always fatal to the in-progress epoch.
	BackingStoreError
	// MergerError wraps a structural failure from a Table State Merger.
	MergerError
)

func (k ErrorKind) String() string {
	switch k {
	case InvariantViolation:
		return "InvariantViolation"
	case BackingStoreError:
		return "BackingStoreError"
	case MergerError:
		return "MergerError"
	default:
		return "Unknown"
	}
}

// Error is the structured error type returned by this package. It carries
// the debug fields section 7 requires to be attached to every observable
// failure: checkpoint_id, job_id, epoch, operator_id, subtask_index.
type Error struct {
	Kind         ErrorKind
	Op           string
	JobID        string
	CheckpointID int64
	Epoch        uint32
	OperatorID   string
	SubtaskIndex uint32
	HasSubtask   bool
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("checkpoint: %s: %s (job=%s checkpoint=%d epoch=%d", e.Op, e.Kind, e.JobID, e.CheckpointID, e.Epoch)
	if e.OperatorID != "" {
		msg += fmt.Sprintf(" operator=%s", e.OperatorID)
	}
	if e.HasSubtask {
		msg += fmt.Sprintf(" subtask=%d", e.SubtaskIndex)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
