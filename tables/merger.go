// Package tables implements the Table State Merger (section 4.3): the
// per-table rule that reduces N subtask-local checkpoint metadatas into one
// table-level metadata. It is modeled as a tagged sum with a per-variant
// merge function, per the design note in section 9 ("avoid open inheritance
// hierarchies").
package tables

import (
	"errors"
	"fmt"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// ErrMissingTableType is returned when a TableConfig carries the
// MissingTableType sentinel. Per section 4.3 this is unreachable in a
// correctly constructed system; callers should treat it as fatal.
var ErrMissingTableType = errors.New("tables: missing table type")

// Error wraps a merger failure (section 7, MergerError). A merger failure
// indicates structurally inconsistent subtask contributions (e.g. a schema
// mismatch) and is always fatal to the enclosing checkpoint epoch.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tables: merge failed for table %q: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Merger reduces the per-subtask contributions for one table into a single
// table-level checkpoint metadata record, or reports that no subtask
// contributed durable state for the table (section 4.3: "nothing means no
// subtask contributed durable state for this table").
type Merger interface {
	MergeCheckpointMetadata(
		cfg wire.TableConfig,
		subtaskTables map[uint32]wire.TableSubtaskCheckpointMetadata,
	) (wire.TableCheckpointMetadata, bool, error)
}

// Dispatch resolves the Merger for a TableConfig's table type, as specified
// in section 4.3. MissingTableType dispatches to ErrMissingTableType rather
// than panicking, so the caller (the checkpoint package) can translate it
// into an InvariantViolation with full context.
func Dispatch(cfg wire.TableConfig) (Merger, error) {
	switch cfg.TableType {
	case wire.GlobalKeyValue:
		return GlobalKeyValueMerger{}, nil
	case wire.ExpiringKeyedTimeTable:
		return ExpiringKeyedTimeTableMerger{}, nil
	default:
		return nil, ErrMissingTableType
	}
}
