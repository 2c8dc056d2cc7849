package boltstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { c.now = c.now.Add(time.Millisecond); return c.now }
func (c *stepClock) Sleep(time.Duration) {}
func (c *stepClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func TestStore_FullAndIncrementalData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunks.db")
	clk := &stepClock{now: time.UnixMilli(1_700_000_000_000)}

	store, err := Open(dbPath, clk)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "chunk one"))
	boundaryMillis := clk.now.UnixMilli()
	require.NoError(t, store.Put(ctx, "chunk two"))
	require.NoError(t, store.Put(ctx, "chunk three"))

	full, err := store.FullData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk one", "chunk two", "chunk three"}, full)

	since := strconv.FormatInt(boundaryMillis, 10)
	incremental, err := store.IncrementalData(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk two", "chunk three"}, incremental)
}

func TestStore_IncrementalData_UnparseableVersionReturnsFull(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunks.db")
	clk := &stepClock{now: time.UnixMilli(1_700_000_000_000)}
	store, err := Open(dbPath, clk)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "only chunk"))

	got, err := store.IncrementalData(ctx, "not-a-version")
	require.NoError(t, err)
	assert.Equal(t, []string{"only chunk"}, got)
}
