package tables

import (
	"fmt"
	"sort"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// ExpiringKeyedTimeTableMerger implements the merge rule for
// ExpiringKeyedTimeTable tables (section 4.3). Unlike a global table, every
// subtask owns a disjoint key partition, so the merge is a union of all
// subtasks' files rather than a pick-one-winner: dropping any subtask's
// files would silently lose that subtask's key range.
type ExpiringKeyedTimeTableMerger struct{}

// MergeCheckpointMetadata implements Merger. It fails with a *Error
// (section 7, MergerError) if two subtasks report a duplicate file name,
// since that can only happen if the backend produced a naming collision
// across partitions — a structural inconsistency, not a retriable error.
func (ExpiringKeyedTimeTableMerger) MergeCheckpointMetadata(
	_ wire.TableConfig,
	subtaskTables map[uint32]wire.TableSubtaskCheckpointMetadata,
) (wire.TableCheckpointMetadata, bool, error) {
	if len(subtaskTables) == 0 {
		return wire.TableCheckpointMetadata{}, false, nil
	}

	indices := make([]uint32, 0, len(subtaskTables))
	for idx := range subtaskTables {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	seen := make(map[string]uint32, len(subtaskTables))
	var files []string
	var totalBytes int64
	for _, idx := range indices {
		meta := subtaskTables[idx]
		for _, f := range meta.Files {
			if owner, dup := seen[f]; dup {
				return wire.TableCheckpointMetadata{}, false, &Error{
					Err: fmt.Errorf("file %q reported by both subtask %d and subtask %d", f, owner, idx),
				}
			}
			seen[f] = idx
			files = append(files, f)
		}
		totalBytes += meta.Bytes
	}

	if len(files) == 0 {
		return wire.TableCheckpointMetadata{}, false, nil
	}

	return wire.TableCheckpointMetadata{
		Files: files,
		Bytes: totalBytes,
	}, true, nil
}
