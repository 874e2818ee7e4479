package persist_test

import (
	"testing"

	"github.com/chordtoll/posinvck-go/internal/persist"
	"github.com/chordtoll/posinvck-go/internal/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	snap := persist.Snapshot{
		Paths: map[uint64][]string{1: {""}, 2: {"foo", "bar"}},
		Meta:  map[uint64]shadow.FileAttr{2: {Inode: 2, Kind: shadow.RegularFile, Perm: 0o644, Nlink: 2, UID: 1000, GID: 1000}},
		Dirs:  map[uint64]map[string]uint64{1: {"foo": 2, "weird/name": 2}},
		Data:  map[uint64][]byte{2: []byte("hello world")},
		Xattrs: map[uint64]map[string][]byte{2: {"user.test": []byte("value")}},
	}

	require.NoError(t, persist.Save(dir, nil, snap))
	assert.True(t, persist.SentinelExists(dir))

	loaded, err := persist.Load(dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, snap.Paths[2], loaded.Paths[2])
	assert.Equal(t, snap.Meta[2], loaded.Meta[2])
	assert.Equal(t, snap.Dirs[1]["foo"], loaded.Dirs[1]["foo"])
	assert.Equal(t, snap.Dirs[1]["weird/name"], loaded.Dirs[1]["weird/name"])
	assert.Equal(t, snap.Data[2], loaded.Data[2])
	assert.Equal(t, snap.Xattrs[2]["user.test"], loaded.Xattrs[2]["user.test"])

	require.NoError(t, persist.DeleteSentinel(dir))
	assert.False(t, persist.SentinelExists(dir))
}
