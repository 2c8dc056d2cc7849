// Package orchestrator implements the build state machine: trigger
// admission via MetadataStore's CAS, the full-build and incremental
// pipelines, failure cleanup, and startup recovery.
//
// Follows a tracked-operation idiom (start/complete/fail transitions)
// for the trigger→pipeline→commit shape, backed by MetadataStore's
// durable CAS rather than an in-process map, since admission must
// survive a process crash, not just stay consistent within one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/denghuinow/kg-api-server/internal/apierr"
	"github.com/denghuinow/kg-api-server/internal/clock"
	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/hooks"
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
	"github.com/denghuinow/kg-api-server/internal/obslog"
)

// Extractor is the subset of extractor.Adapter the orchestrator depends
// on, kept as a narrow interface so pipeline tests can supply a fake
// without importing the real adapter's upstream clients.
type Extractor interface {
	Build(ctx context.Context, chunks []string, base *kgtypes.KnowledgeGraph) (*kgtypes.KnowledgeGraph, error)
}

// RetentionConfig mirrors the retention.* config block.
type RetentionConfig struct {
	MaxVersions   int
	EnableCleanup bool
}

// Orchestrator owns admission of build/update triggers and runs their
// pipelines to completion or failure.
type Orchestrator struct {
	meta      metadatastore.Store
	graph     graphstore.Store
	hooks     hooks.DataHooks
	extractor Extractor
	clock     clock.Clock
	retention RetentionConfig
	timeout   time.Duration
	log       *obslog.Logger

	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New builds an Orchestrator. taskTimeout of zero means no per-task
// deadline.
func New(meta metadatastore.Store, graph graphstore.Store, h hooks.DataHooks, ex Extractor, clk clock.Clock, retention RetentionConfig, taskTimeout time.Duration, log *obslog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		meta:        meta,
		graph:       graph,
		hooks:       h,
		extractor:   ex,
		clock:       clk,
		retention:   retention,
		timeout:     taskTimeout,
		log:         log,
		shutdownCtx: ctx,
		cancel:      cancel,
	}
}

// Shutdown cancels every in-flight pipeline and waits for them to return,
// propagating cancellation into the rate limiter's waits and backoff
// sleeps the extractor is using.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// RecoverOnStartup sweeps any BUILDING/UPDATING state left by a crash to
// FAILED.
func (o *Orchestrator) RecoverOnStartup(ctx context.Context) error {
	return o.meta.RecoverOnStartup(ctx)
}

func (o *Orchestrator) newVersion() string {
	return strconv.FormatInt(o.clock.Now().UTC().UnixMilli(), 10)
}

// TriggerFull admits a full-rebuild task if the state machine is in an
// admitting state, starting the pipeline in the background.
func (o *Orchestrator) TriggerFull(ctx context.Context) (*kgtypes.KGTask, error) {
	version := o.newVersion()
	_, task, err := o.meta.TryAcquire(ctx, kgtypes.StatusBuilding, version, kgtypes.TaskFullBuild, version, nil)
	if err != nil {
		return nil, translateAcquireError(err, o.meta, ctx)
	}

	o.runAsync(task, nil)
	return task, nil
}

// TriggerIncremental admits an incremental-update task, rejecting with
// NO_BASE_VERSION if no version has ever become READY. base_version is
// snapshotted atomically with the CAS admission.
func (o *Orchestrator) TriggerIncremental(ctx context.Context) (*kgtypes.KGTask, error) {
	version := o.newVersion()
	state, task, err := o.meta.TryAcquire(ctx, kgtypes.StatusUpdating, version, kgtypes.TaskIncrementalUpdate, version, nil)
	if err != nil {
		return nil, translateAcquireError(err, o.meta, ctx)
	}

	if state.LatestReadyVersion == nil {
		_ = o.meta.CommitFailure(ctx, task.TaskID, "no base version")
		return nil, apierr.New(apierr.CodeNoBaseVersion, "no version has completed a build yet")
	}

	baseVersion := *state.LatestReadyVersion
	task.BaseVersion = &baseVersion
	o.runAsync(task, &baseVersion)
	return task, nil
}

func translateAcquireError(err error, meta metadatastore.Store, ctx context.Context) error {
	if errors.Is(err, metadatastore.ErrConflict) {
		current, readErr := meta.Read(ctx)
		if readErr != nil {
			return apierr.New(apierr.CodeTaskRunning, "another task is already running")
		}
		detail := map[string]any{"status": string(current.Status)}
		if current.CurrentTaskID != nil {
			detail["task_id"] = *current.CurrentTaskID
		}
		return apierr.WithDetail(apierr.CodeTaskRunning, "another task is already running", detail)
	}
	return err
}

func (o *Orchestrator) runAsync(task *kgtypes.KGTask, baseVersion *string) {
	ctx := o.shutdownCtx
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	}
	ctx = obslog.ContextWithTask(ctx, task.TaskID, task.Version)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if cancel != nil {
			defer cancel()
		}
		o.runPipeline(ctx, task, baseVersion)
	}()
}

func (o *Orchestrator) runPipeline(ctx context.Context, task *kgtypes.KGTask, baseVersion *string) {
	log := o.log.WithCtx(ctx)
	log.Info("pipeline started")

	var chunks []string
	var err error
	if task.Type == kgtypes.TaskFullBuild {
		chunks, err = o.hooks.FullData(ctx)
	} else {
		chunks, err = o.hooks.IncrementalData(ctx, *baseVersion)
	}
	if err != nil {
		o.failTask(ctx, task, apierr.New(apierr.CodeHookFailed, err.Error()))
		return
	}

	var baseKG *kgtypes.KnowledgeGraph
	if task.Type == kgtypes.TaskIncrementalUpdate {
		result, err := o.graph.FullGraph(ctx, *baseVersion, 0, 0)
		if err != nil {
			o.failTask(ctx, task, fmt.Errorf("load base graph: %w", err))
			return
		}
		baseKG = &kgtypes.KnowledgeGraph{Nodes: result.Nodes, Edges: result.Edges}
	}

	kg, err := o.extractor.Build(ctx, chunks, baseKG)
	if err != nil {
		o.failTask(ctx, task, fmt.Errorf("extraction: %w", err))
		return
	}

	if err := o.graph.UpsertNodes(ctx, task.Version, kg.Nodes); err != nil {
		o.failTask(ctx, task, fmt.Errorf("write nodes: %w", err))
		return
	}
	if err := o.graph.UpsertEdges(ctx, task.Version, kg.Edges); err != nil {
		o.failTask(ctx, task, fmt.Errorf("write edges: %w", err))
		return
	}

	if err := o.meta.CommitSuccess(ctx, task.TaskID, task.Version); err != nil {
		log.ErrorWithErr(err, "commit failed after a fully written version; deleting the unpublished version")
		if delErr := o.graph.DeleteVersion(context.Background(), task.Version); delErr != nil {
			log.ErrorWithErr(delErr, "cleanup after commit failure also failed")
		}
		return
	}

	log.Info("pipeline completed")
	o.sweepRetention(ctx, log)
}

// failTask marks the task FAILED and best-effort deletes any nodes/edges
// already written under its version: a partial write must never be
// observable, since it's never published via latest_ready_version.
func (o *Orchestrator) failTask(ctx context.Context, task *kgtypes.KGTask, cause error) {
	log := o.log.WithCtx(ctx)
	log.ErrorWithErr(cause, "pipeline failed")

	cleanupCtx := context.Background()
	if err := o.graph.DeleteVersion(cleanupCtx, task.Version); err != nil {
		log.ErrorWithErr(err, "cleanup of partial version failed")
	}
	if err := o.meta.CommitFailure(cleanupCtx, task.TaskID, cause.Error()); err != nil {
		log.ErrorWithErr(err, "CommitFailure itself failed")
	}
}
