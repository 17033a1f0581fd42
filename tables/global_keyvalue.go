package tables

import "github.com/gurre/arroyo-checkpoint/wire"

// GlobalKeyValueMerger implements the merge rule for GlobalKeyValue tables
// (section 4.3). A global keyed table is fully replicated to every subtask,
// so each subtask's contribution is a complete, independent snapshot: the
// merge keeps the most recently written one (the highest subtask index,
// matching the reporting order subtasks use when they share state) and
// reports its files unchanged.
type GlobalKeyValueMerger struct{}

// MergeCheckpointMetadata implements Merger.
func (GlobalKeyValueMerger) MergeCheckpointMetadata(
	_ wire.TableConfig,
	subtaskTables map[uint32]wire.TableSubtaskCheckpointMetadata,
) (wire.TableCheckpointMetadata, bool, error) {
	if len(subtaskTables) == 0 {
		return wire.TableCheckpointMetadata{}, false, nil
	}

	var winner wire.TableSubtaskCheckpointMetadata
	var winnerIdx uint32
	var found bool
	for idx, meta := range subtaskTables {
		if !found || idx > winnerIdx {
			winner, winnerIdx, found = meta, idx, true
		}
	}

	if len(winner.Files) == 0 {
		return wire.TableCheckpointMetadata{}, false, nil
	}

	return wire.TableCheckpointMetadata{
		Files: winner.Files,
		Bytes: winner.Bytes,
	}, true, nil
}
