package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denghuinow/kg-api-server/internal/apierr"
	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/kgtypes"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
	"github.com/denghuinow/kg-api-server/internal/obslog"
)

// incrementingClock hands out a strictly increasing millisecond value on
// every Now() call so concurrently-triggered tasks in tests never collide
// on the same version string.
type incrementingClock struct {
	counter int64
}

func (c *incrementingClock) Now() time.Time {
	ms := atomic.AddInt64(&c.counter, 1)
	return time.UnixMilli(1_700_000_000_000 + ms)
}
func (c *incrementingClock) Sleep(time.Duration) {}
func (c *incrementingClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type fakeHooks struct {
	fullChunks []string
	fullErr    error
}

func (f *fakeHooks) FullData(ctx context.Context) ([]string, error) { return f.fullChunks, f.fullErr }
func (f *fakeHooks) IncrementalData(ctx context.Context, since string) ([]string, error) {
	return []string{"incremental chunk since " + since}, nil
}

type fakeExtractor struct {
	mu        sync.Mutex
	buildErr  error
	nodeName  string
	buildGate chan struct{} // if non-nil, Build blocks on this until closed
}

func (f *fakeExtractor) Build(ctx context.Context, chunks []string, base *kgtypes.KnowledgeGraph) (*kgtypes.KnowledgeGraph, error) {
	if f.buildGate != nil {
		<-f.buildGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	nodes := []kgtypes.Node{{EntityLabel: "Thing", Name: f.nodeName}}
	if base != nil {
		nodes = append(nodes, base.Nodes...)
	}
	return &kgtypes.KnowledgeGraph{Nodes: nodes}, nil
}

func newTestOrchestrator(t *testing.T, meta metadatastore.Store, graph graphstore.Store, h *fakeHooks, ex *fakeExtractor) *Orchestrator {
	t.Helper()
	log := obslog.New(nil, "test")
	return New(meta, graph, h, ex, &incrementingClock{}, RetentionConfig{MaxVersions: 2, EnableCleanup: true}, 0, log)
}

func waitForTerminal(t *testing.T, meta metadatastore.Store) *metadatastore.KGState {
	t.Helper()
	var state *metadatastore.KGState
	require.Eventually(t, func() bool {
		s, err := meta.Read(context.Background())
		require.NoError(t, err)
		state = s
		return s.Status == kgtypes.StatusReady || s.Status == kgtypes.StatusFailed
	}, 2*time.Second, time.Millisecond)
	return state
}

func TestTriggerFull_PublishesVersionOnSuccess(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	h := &fakeHooks{fullChunks: []string{"chunk"}}
	ex := &fakeExtractor{nodeName: "Alice"}
	o := newTestOrchestrator(t, meta, graph, h, ex)

	task, err := o.TriggerFull(context.Background())
	require.NoError(t, err)

	state := waitForTerminal(t, meta)
	assert.Equal(t, kgtypes.StatusReady, state.Status)
	require.NotNil(t, state.LatestReadyVersion)
	assert.Equal(t, task.Version, *state.LatestReadyVersion)

	result, err := graph.FullGraph(context.Background(), task.Version, 0, 0)
	require.NoError(t, err)
	assert.Len(t, result.Nodes, 1)
}

func TestTriggerFull_RejectsConcurrentTrigger(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	gate := make(chan struct{})
	ex := &fakeExtractor{nodeName: "Alice", buildGate: gate}
	h := &fakeHooks{fullChunks: []string{"chunk"}}
	o := newTestOrchestrator(t, meta, graph, h, ex)

	_, err := o.TriggerFull(context.Background())
	require.NoError(t, err)

	_, err = o.TriggerFull(context.Background())
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierr.CodeTaskRunning, apiErr.Code)

	close(gate)
	waitForTerminal(t, meta)
}

func TestTriggerIncremental_RejectsWithoutBaseVersion(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	o := newTestOrchestrator(t, meta, graph, &fakeHooks{}, &fakeExtractor{})

	_, err := o.TriggerIncremental(context.Background())
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierr.CodeNoBaseVersion, apiErr.Code)

	state, err := meta.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusFailed, state.Status, "the aborted acquire should release the lock")
}

func TestTriggerIncremental_BuildsOnBaseVersion(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	o := newTestOrchestrator(t, meta, graph, &fakeHooks{fullChunks: []string{"c"}}, &fakeExtractor{nodeName: "Alice"})

	_, err := o.TriggerFull(context.Background())
	require.NoError(t, err)
	waitForTerminal(t, meta)

	task, err := o.TriggerIncremental(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task.BaseVersion)

	state := waitForTerminal(t, meta)
	assert.Equal(t, kgtypes.StatusReady, state.Status)
	assert.Equal(t, task.Version, *state.LatestReadyVersion)
}

func TestPipelineFailure_CleansUpPartialVersion(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	ex := &fakeExtractor{buildErr: errors.New("upstream exploded")}
	o := newTestOrchestrator(t, meta, graph, &fakeHooks{fullChunks: []string{"c"}}, ex)

	task, err := o.TriggerFull(context.Background())
	require.NoError(t, err)

	state := waitForTerminal(t, meta)
	assert.Equal(t, kgtypes.StatusFailed, state.Status)
	assert.Nil(t, state.LatestReadyVersion, "P4: a failed build must never publish a version")

	result, err := graph.FullGraph(context.Background(), task.Version, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Nodes, "partial writes must be cleaned up on failure")
}

func TestRecoverOnStartup_DelegatesToMetadataStore(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	gate := make(chan struct{})
	defer close(gate)
	o := newTestOrchestrator(t, meta, graph, &fakeHooks{fullChunks: []string{"c"}}, &fakeExtractor{buildGate: gate})

	_, err := o.TriggerFull(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.RecoverOnStartup(context.Background()))

	state, err := meta.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusFailed, state.Status, "P6: a crashed-looking BUILDING state must be recoverable")
}

func TestRetentionSweep_KeepsMaxVersionsAndNeverDeletesLatest(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	graph := graphstore.NewMemoryStore()
	h := &fakeHooks{fullChunks: []string{"c"}}
	o := newTestOrchestrator(t, meta, graph, h, &fakeExtractor{nodeName: "N"})

	var versions []string
	for i := 0; i < 4; i++ {
		task, err := o.TriggerFull(context.Background())
		require.NoError(t, err)
		waitForTerminal(t, meta)
		versions = append(versions, task.Version)
	}

	state, err := meta.Read(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.LatestReadyVersion)
	assert.Equal(t, versions[len(versions)-1], *state.LatestReadyVersion)

	for i, v := range versions {
		result, err := graph.FullGraph(context.Background(), v, 0, 0)
		require.NoError(t, err)
		if i < len(versions)-2 {
			assert.Empty(t, result.Nodes, "retention should have deleted version %s", v)
		} else {
			assert.NotEmpty(t, result.Nodes, "retained version %s should still have data", v)
		}
	}
}
