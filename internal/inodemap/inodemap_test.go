package inodemap_test

import (
	"testing"

	"github.com/chordtoll/posinvck-go/internal/inodemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGet(t *testing.T) {
	m := inodemap.New()
	ino := m.Insert(2, "foo")
	assert.EqualValues(t, 2, ino)
	assert.Equal(t, "foo", m.Get(2))
}

func TestInsertDotIsNoop(t *testing.T) {
	m := inodemap.New()
	ino := m.Insert(99, ".")
	assert.EqualValues(t, inodemap.RootInode, ino)
	_, ok := m.GetAll(99)
	assert.False(t, ok)
}

func TestGetUnknownInodePanics(t *testing.T) {
	m := inodemap.New()
	assert.Panics(t, func() { m.Get(12345) })
}

func TestHardLinkMultiplePaths(t *testing.T) {
	m := inodemap.New()
	m.Insert(2, "foo")
	m.Insert(2, "bar")
	paths, ok := m.GetAll(2)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"foo", "bar"}, paths)
	assert.Equal(t, 2, m.LinkCount(2))
}

func TestRemoveDropsEmptyEntry(t *testing.T) {
	m := inodemap.New()
	m.Insert(2, "foo")
	m.Remove("foo")
	_, ok := m.GetAll(2)
	assert.False(t, ok)
}

func TestRenameSimple(t *testing.T) {
	m := inodemap.New()
	m.Insert(2, "foo")
	m.Rename("foo", "bar")
	assert.Equal(t, "bar", m.Get(2))
}

func TestRenameReplacesTarget(t *testing.T) {
	m := inodemap.New()
	m.Insert(2, "foo")
	m.Insert(3, "bar")
	m.Rename("foo", "bar")
	assert.Equal(t, "bar", m.Get(2))
	_, ok := m.GetAll(3)
	assert.False(t, ok)
}

func TestRenameSubtreeRewritesChildrenBySegment(t *testing.T) {
	m := inodemap.New()
	m.Insert(10, "foo")
	m.Insert(11, "foo/a")
	m.Insert(12, "foo/b/c")
	m.Insert(13, "foo-x") // must NOT be touched by renaming "foo"

	m.Rename("foo", "bar")

	assert.Equal(t, "bar", m.Get(10))
	assert.Equal(t, "bar/a", m.Get(11))
	assert.Equal(t, "bar/b/c", m.Get(12))
	assert.Equal(t, "foo-x", m.Get(13))
}

func TestLookup(t *testing.T) {
	m := inodemap.New()
	m.Insert(2, "foo")
	ino, ok := m.Lookup("foo")
	require.True(t, ok)
	assert.EqualValues(t, 2, ino)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}
