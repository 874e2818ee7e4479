package shadow_test

import (
	"syscall"
	"testing"

	"github.com/chordtoll/posinvck-go/internal/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHooks() *shadow.Hooks {
	model := shadow.NewModel(shadow.Config{CheckMetadata: true, CheckDirs: true, CheckData: true, CheckXattrs: true})
	return shadow.NewHooks(model)
}

// TestCreateAndInspect mirrors SPEC_FULL.md §8 scenario 1.
func TestCreateAndInspect(t *testing.T) {
	h := newTestHooks()

	tok := h.CreateBefore("create", 1, "", "foo", shadow.RegularFile, 0, 1000, 1000, nil)
	observed := shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Perm: 0, Nlink: 1, UID: 1000, GID: 1000}
	h.CreateAfter(tok, 2, observed, nil)

	attr, ok := h.Model.Attr(2)
	require.True(t, ok)
	assert.Equal(t, observed, attr)
	assert.Equal(t, "foo", h.Model.InodePaths.Get(2))
}

// TestHardLink mirrors SPEC_FULL.md §8 scenario 2.
func TestHardLink(t *testing.T) {
	h := newTestHooks()
	ctok := h.CreateBefore("create", 1, "", "foo", shadow.RegularFile, 0, 1000, 1000, nil)
	h.CreateAfter(ctok, 2, shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Nlink: 1, UID: 1000, GID: 1000}, nil)

	ltok := h.LinkBefore(2, 1, "", "bar", nil)
	h.LinkAfter(ltok, shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Nlink: 2, UID: 1000, GID: 1000}, nil)

	paths, ok := h.Model.InodePaths.GetAll(2)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"foo", "bar"}, paths)

	attr, _ := h.Model.Attr(2)
	assert.EqualValues(t, 2, attr.Nlink)
}

// TestRenameReplaces mirrors SPEC_FULL.md §8 scenario 3.
func TestRenameReplaces(t *testing.T) {
	h := newTestHooks()
	ctok := h.CreateBefore("create", 1, "", "foo", shadow.RegularFile, 0, 1000, 1000, nil)
	h.CreateAfter(ctok, 2, shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Nlink: 1, UID: 1000, GID: 1000}, nil)

	rtok := h.RenameBefore(1, 1, "", "foo", "", "bar", nil)
	h.RenameAfter(rtok, nil)

	_, ok := h.Model.InodePaths.GetAll(0)
	_ = ok
	ino, ok := h.Model.InodePaths.Lookup("bar")
	require.True(t, ok)
	assert.EqualValues(t, 2, ino)

	_, ok = h.Model.InodePaths.Lookup("foo")
	assert.False(t, ok)
}

// TestRmdirNonEmptyRequiresPredictedError mirrors SPEC_FULL.md §8 scenario 5:
// a non-empty directory's rmdir fails, and UnlinkAfter requires a predicted
// error.
func TestRmdirNonEmptyRequiresPredictedError(t *testing.T) {
	h := newTestHooks()
	dtok := h.CreateBefore("mkdir", 1, "", "d", shadow.Directory, 0o755, 1000, 1000, nil)
	h.CreateAfter(dtok, 2, shadow.FileAttr{Inode: 2, Kind: shadow.Directory, Perm: 0o755, Nlink: 2, UID: 1000, GID: 1000}, nil)
	ftok := h.CreateBefore("create", 2, "d", "f", shadow.RegularFile, 0, 1000, 1000, nil)
	h.CreateAfter(ftok, 3, shadow.FileAttr{Inode: 3, Kind: shadow.RegularFile, Nlink: 1, UID: 1000, GID: 1000}, nil)

	utok := h.UnlinkBefore("rmdir", 1, "", "d", syscall.ENOTEMPTY)
	assert.True(t, utok.ChildExisted)
	assert.False(t, utok.WasEmptyDir)

	h.UnlinkAfter(utok, syscall.ENOTEMPTY)

	// directory must still be present after the failed rmdir
	ino, ok := h.Model.InodePaths.Lookup("d")
	require.True(t, ok)
	assert.EqualValues(t, 2, ino)
}

// TestWriteReadRoundTrip mirrors SPEC_FULL.md §8 scenario 6.
func TestWriteReadRoundTrip(t *testing.T) {
	h := newTestHooks()
	ctok := h.CreateBefore("create", 1, "", "f", shadow.RegularFile, 0, 1000, 1000, nil)
	h.CreateAfter(ctok, 2, shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Nlink: 1, UID: 1000, GID: 1000}, nil)

	payload := []byte{0x66, 0x6f, 0x6f}
	wtok := h.WriteBefore(2, 0, payload)
	h.WriteAfter(wtok, uint32(len(payload)), nil)

	rtok := h.ReadBefore(2, 0, len(payload))
	h.ReadAfter(rtok, payload, nil)

	assert.Equal(t, payload, h.Model.Data(2))
}

// TestUnlinkDropsInodeAtZeroNlink verifies the nlink-accounting invariant
// from SPEC_FULL.md §8.
func TestUnlinkDropsInodeAtZeroNlink(t *testing.T) {
	h := newTestHooks()
	ctok := h.CreateBefore("create", 1, "", "f", shadow.RegularFile, 0, 1000, 1000, nil)
	h.CreateAfter(ctok, 2, shadow.FileAttr{Inode: 2, Kind: shadow.RegularFile, Nlink: 1, UID: 1000, GID: 1000}, nil)

	utok := h.UnlinkBefore("unlink", 1, "", "f", nil)
	h.UnlinkAfter(utok, nil)

	_, ok := h.Model.Attr(2)
	assert.False(t, ok)
	_, ok = h.Model.InodePaths.GetAll(2)
	assert.False(t, ok)
}
