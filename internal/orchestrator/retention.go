package orchestrator

import (
	"context"

	"github.com/denghuinow/kg-api-server/internal/metadatastore"
	"github.com/denghuinow/kg-api-server/internal/obslog"
)

// recentTaskWindow bounds how far back the sweeper looks for READY
// versions. Retention only ever needs to keep a handful of the most
// recent successes, so this comfortably covers max_versions without an
// unbounded history scan.
const recentTaskWindow = 200

// sweepRetention runs after a successful commit: if cleanup is enabled,
// keep the max_versions most recent READY versions
// and delete the rest — except the version that is currently
// latest_ready_version, which is never eligible no matter how old it is
// relative to this list (it can't be, since it's a READY version itself,
// but the invariant is enforced explicitly to be safe against a race
// with a newer concurrent commit).
func (o *Orchestrator) sweepRetention(ctx context.Context, log *obslog.Logger) {
	if !o.retention.EnableCleanup || o.retention.MaxVersions <= 0 {
		return
	}

	tasks, err := o.meta.ListRecentTasks(ctx, recentTaskWindow)
	if err != nil {
		log.ErrorWithErr(err, "retention: list recent tasks failed")
		return
	}

	var readyVersions []string
	for _, t := range tasks {
		if t.Done() && t.Error == "" {
			readyVersions = append(readyVersions, t.Version)
		}
	}
	sortVersionsDescending(readyVersions)

	if len(readyVersions) <= o.retention.MaxVersions {
		return
	}

	state, err := o.meta.Read(ctx)
	if err != nil {
		log.ErrorWithErr(err, "retention: read current state failed")
		return
	}

	toDelete := readyVersions[o.retention.MaxVersions:]
	for _, v := range toDelete {
		if state.LatestReadyVersion != nil && v == *state.LatestReadyVersion {
			log.Warn("retention: refusing to delete the current latest_ready_version " + v)
			continue
		}
		if err := o.graph.DeleteVersion(ctx, v); err != nil {
			log.ErrorWithErr(err, "retention: delete version "+v+" failed")
		}
	}
}

func sortVersionsDescending(versions []string) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && metadatastore.CompareVersions(versions[j], versions[j-1]) > 0; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
}
