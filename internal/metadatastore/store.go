// Package metadatastore implements the durable global state (KGState) and
// task history (KGTask), plus the compare-and-swap primitive that admits
// exactly one writer at a time.
//
// Every Neo4jStore operation opens a neo4j.SessionWithContext, runs one
// ExecuteWrite or ExecuteRead closure, and closes the session on return.
package metadatastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

// ErrConflict is returned by TryAcquire when another task already holds
// the admission lock.
var ErrConflict = errors.New("metadatastore: admission conflict")

// ErrStaleTask is returned by CommitSuccess/CommitFailure when task_id
// does not match KGState.current_task_id: such a commit is a no-op that
// reports an error rather than mutating state.
var ErrStaleTask = errors.New("metadatastore: stale task id")

const defaultGraphName = "default"

// Store is the MetadataStore capability: durable build/update state and
// single-writer admission.
type Store interface {
	// Read returns the singleton KGState, creating it with status IDLE on
	// first access.
	Read(ctx context.Context) (*KGState, error)

	// TryAcquire performs the admission CAS. On success it returns the new
	// KGState and the freshly inserted KGTask. On conflict it returns
	// ErrConflict along with the KGState actually observed.
	TryAcquire(ctx context.Context, targetStatus Status, taskID string, taskType TaskType, version string, baseVersion *string) (*KGState, *KGTask, error)

	// CommitSuccess publishes newVersion as latest_ready_version and marks
	// taskID completed. Returns ErrStaleTask if taskID isn't the current
	// holder.
	CommitSuccess(ctx context.Context, taskID, newVersion string) error

	// CommitFailure marks taskID failed with errMsg and releases the lock.
	// latest_ready_version is left untouched.
	CommitFailure(ctx context.Context, taskID, errMsg string) error

	// RecoverOnStartup sweeps any BUILDING/UPDATING state left by a crash
	// to FAILED("server restarted"). Idempotent.
	RecoverOnStartup(ctx context.Context) error

	// GetTask fetches one task by id.
	GetTask(ctx context.Context, taskID string) (*KGTask, error)

	// ListRecentTasks returns up to limit tasks, most recently started
	// first, for surfacing build history alongside current status.
	ListRecentTasks(ctx context.Context, limit int) ([]*KGTask, error)

	Close(ctx context.Context) error
}

// Re-export the shared domain types under this package's name so callers
// that only need MetadataStore don't also have to import kgtypes.
type (
	KGState  = kgtypes.KGState
	KGTask   = kgtypes.KGTask
	Status   = kgtypes.Status
	TaskType = kgtypes.TaskType
)

// CompareVersions orders version strings by length then lexically.
// Version strings are UTC millisecond timestamps, so a longer string is
// always numerically larger, and equal-length strings compare lexically
// the same as numerically.
func CompareVersions(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func wrapf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("metadatastore: %s: %w", op, err)
}
