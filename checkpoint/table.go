package checkpoint

import (
	"fmt"

	"github.com/gurre/arroyo-checkpoint/tables"
	"github.com/gurre/arroyo-checkpoint/wire"
)

// tableState is the per-table accumulator inside an OperatorState, as
// specified in section 3: a table_config plus one SubtaskCheckpointMetadata
// per subtask that has reported.
type tableState struct {
	config        wire.TableConfig
	subtaskTables map[uint32]wire.TableSubtaskCheckpointMetadata
}

// intoTableMetadata dispatches to the Table State Merger for this table's
// kind, as specified in section 4.3. It returns false if the merger found
// no durable contribution to report.
func (t *tableState) intoTableMetadata(tableName string) (wire.TableCheckpointMetadata, bool, error) {
	merger, err := tables.Dispatch(t.config)
	if err != nil {
		return wire.TableCheckpointMetadata{}, false, fmt.Errorf("table %q: %w", tableName, err)
	}

	metadata, ok, err := merger.MergeCheckpointMetadata(t.config, t.subtaskTables)
	if err != nil {
		return wire.TableCheckpointMetadata{}, false, fmt.Errorf("table %q: %w", tableName, err)
	}
	return metadata, ok, nil
}
