package backup

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// PruneResult lists the snapshots removed by Prune.
type PruneResult struct {
	Deleted []BackupInfo `json:"deleted" yaml:"deleted"`
	Kept    int          `json:"kept" yaml:"kept"`
	Freed   int64        `json:"freed_bytes" yaml:"freed_bytes"`
}

// Prune keeps the keep newest snapshots and deletes the rest. A snapshot
// that cannot be deleted is counted as kept and reported in the error; the
// remaining deletions still run.
func (m *Manager) Prune(keep int) (*PruneResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must be non-negative, got %d", keep)
	}

	snapshots, err := m.List()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{Kept: min(keep, len(snapshots))}
	if len(snapshots) <= keep {
		return result, nil
	}

	var errs *multierror.Error
	// List is newest first, so everything past keep is older
	for _, old := range snapshots[keep:] {
		if err := m.Delete(old.ID); err != nil {
			errs = multierror.Append(errs, err)
			result.Kept++
			continue
		}
		result.Deleted = append(result.Deleted, old)
		result.Freed += old.Size
	}

	return result, errs.ErrorOrNil()
}
