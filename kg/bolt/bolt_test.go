package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
)

func openTestChangelog(t *testing.T) *Changelog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "changelog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChangelog_AppendAssignsVersions(t *testing.T) {
	ctx := context.Background()
	c := openTestChangelog(t)

	for i := int64(1); i <= 3; i++ {
		entry, err := c.Append(ctx, &kg.ChangelogEntry{SourceAgent: "writer_node", Summary: "+1 nodes"})
		require.NoError(t, err)
		assert.Equal(t, i, entry.Version)
		assert.False(t, entry.Timestamp.IsZero())
	}

	current, err := c.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
}

func TestChangelog_GetAndMiss(t *testing.T) {
	ctx := context.Background()
	c := openTestChangelog(t)

	_, err := c.Append(ctx, &kg.ChangelogEntry{DiffID: "diff-1"})
	require.NoError(t, err)

	entry, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "diff-1", entry.DiffID)

	_, err = c.Get(ctx, 99)
	assert.ErrorIs(t, err, kg.ErrVersionNotFound)
}

func TestChangelog_RecentAndAfter(t *testing.T) {
	ctx := context.Background()
	c := openTestChangelog(t)

	for i := 0; i < 5; i++ {
		_, err := c.Append(ctx, &kg.ChangelogEntry{SourceAgent: "writer_node"})
		require.NoError(t, err)
	}

	recent, err := c.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].Version)
	assert.Equal(t, int64(4), recent[1].Version)

	after, err := c.After(ctx, 3)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(4), after[0].Version)
	assert.Equal(t, int64(5), after[1].Version)
}

func TestCheckpoints_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestChangelog(t)
	cp := c.Checkpoints()

	_, err := cp.LoadCheckpoint(ctx, "telegram:42")
	assert.ErrorIs(t, err, queue.ErrCheckpointNotFound)

	require.NoError(t, cp.SaveCheckpoint(ctx, "telegram:42", []byte(`{"chat_id":"42"}`)))
	state, err := cp.LoadCheckpoint(ctx, "telegram:42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chat_id":"42"}`, string(state))

	require.NoError(t, cp.SaveCheckpoint(ctx, "telegram:42", []byte(`{"chat_id":"42","intent":"status"}`)))
	state, err = cp.LoadCheckpoint(ctx, "telegram:42")
	require.NoError(t, err)
	assert.Contains(t, string(state), "status")

	require.NoError(t, cp.DeleteCheckpoint(ctx, "telegram:42"))
	_, err = cp.LoadCheckpoint(ctx, "telegram:42")
	assert.ErrorIs(t, err, queue.ErrCheckpointNotFound)
}
