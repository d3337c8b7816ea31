package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/checkpoint"
	"github.com/kylegalloway/cilearn/internal/locks"
	"github.com/kylegalloway/cilearn/internal/state"
)

// CleanupResult reports what was cleaned up during startup.
type CleanupResult struct {
	StaleLockRemoved bool
	TempFilesRemoved int
	LastCheckpoint   int // -1 when none
	RecoveryState    *state.RunState
}

// CleanupStaleState performs startup cleanup in a run directory: removes a
// lock left by a dead process, deletes partial checkpoint writes, and loads
// the run state of an interrupted run. Failures are logged, not returned.
func CleanupStaleState(runDir string, ckpts *checkpoint.Store, stateMgr *state.Manager, logger *zap.Logger) *CleanupResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	result := &CleanupResult{LastCheckpoint: -1}

	// 1. Stale run lock (holder is dead)
	if runDir != "" {
		removed, err := locks.CleanStale(runDir)
		if err != nil {
			logger.Warn("stale lock cleanup", zap.Error(err))
		}
		result.StaleLockRemoved = removed
	}

	// 2. Partial checkpoint writes
	if ckpts != nil {
		n, err := ckpts.CleanTemp()
		if err != nil {
			logger.Warn("checkpoint temp cleanup", zap.Error(err))
		}
		result.TempFilesRemoved = n

		ids, err := ckpts.List()
		if err != nil {
			logger.Warn("list checkpoints", zap.Error(err))
		} else if len(ids) > 0 {
			result.LastCheckpoint = ids[len(ids)-1]
		}
	}

	// 3. Interrupted run
	if stateMgr != nil && stateMgr.Exists() {
		rs, err := stateMgr.Load()
		if err != nil {
			logger.Warn("could not load recovery state", zap.Error(err))
		} else {
			result.RecoveryState = rs
			logger.Info("found state of an interrupted run",
				zap.String("run_id", rs.RunID),
				zap.String("phase", rs.Phase),
				zap.Int("current_task", rs.CurrentTask),
				zap.Int("rows", rs.Completed()))
		}
	}

	return result
}

// FormatCleanupResult returns a human-readable summary of cleanup actions.
func FormatCleanupResult(r *CleanupResult) string {
	if r == nil {
		return "No cleanup needed"
	}

	msg := ""
	if r.StaleLockRemoved {
		msg += "Removed stale run lock. "
	}
	if r.TempFilesRemoved > 0 {
		msg += fmt.Sprintf("Removed %d partial checkpoint(s). ", r.TempFilesRemoved)
	}
	if r.RecoveryState != nil {
		msg += fmt.Sprintf("Interrupted run %s stopped in phase %q at task %d with %d row(s). ",
			r.RecoveryState.RunID, r.RecoveryState.Phase, r.RecoveryState.CurrentTask, r.RecoveryState.Completed())
	}
	if r.LastCheckpoint >= 0 {
		msg += fmt.Sprintf("Last checkpoint is task %d.", r.LastCheckpoint)
	}
	if msg == "" {
		msg = "Clean startup, no stale state found."
	}
	return msg
}
