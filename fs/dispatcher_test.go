package fs_test

import (
	"os"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/suite"

	"github.com/chordtoll/posinvck-go/fs"
	"github.com/chordtoll/posinvck-go/internal/inodemap"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// DispatcherTest drives fs.Dispatcher against a real temporary directory,
// the same way the teacher's fs_test.go exercised its in-process FUSE layer
// without actually mounting anything. Every request here carries the zero
// Caller (uid/gid 0), so the dispatcher's identity switch (SPEC_FULL.md §4.5
// steps 5/8) always installs root before the real syscall — this suite must
// run as root for that switch to succeed.
type DispatcherTest struct {
	suite.Suite
	base      string
	d         *fs.Dispatcher
	prevUmask int
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTest))
}

// testBaseDir allocates a scratch base directory for one test, honoring
// PIC_TEST_PATH as a parent directory override the way the test harness
// environment variable is documented to work, falling back to t.TempDir().
func testBaseDir(t *testing.T) string {
	t.Helper()
	if parent := os.Getenv("PIC_TEST_PATH"); parent != "" {
		dir, err := os.MkdirTemp(parent, "posinvck-dispatch-test-*")
		if err != nil {
			t.Fatalf("creating test base dir under PIC_TEST_PATH: %v", err)
		}
		t.Cleanup(func() { os.RemoveAll(dir) })
		return dir
	}
	return t.TempDir()
}

func (t *DispatcherTest) SetupTest() {
	t.base = testBaseDir(t.T())
	model := shadow.NewModel(shadow.Config{CheckMetadata: true, CheckDirs: true, CheckData: true, CheckXattrs: true})
	hooks := shadow.NewHooks(model)
	t.d = fs.NewDispatcher(t.base, model, hooks)

	// A nonzero host umask would make the real mkdir/create mode disagree
	// with what the shadow model predicts from the request alone.
	t.prevUmask = syscall.Umask(0)
}

func (t *DispatcherTest) TearDownTest() {
	syscall.Umask(t.prevUmask)
}

func (t *DispatcherTest) header(nodeID uint64) *fuse.InHeader {
	return &fuse.InHeader{
		NodeId: nodeID,
		Caller: fuse.Caller{Pid: uint32(os.Getpid())},
	}
}

func (t *DispatcherTest) mkdir(parent uint64, name string, mode uint32) uint64 {
	in := &fuse.MkdirIn{InHeader: *t.header(parent), Mode: mode}
	var out fuse.EntryOut
	status := t.d.Mkdir(nil, in, name, &out)
	t.Require().Equal(fuse.OK, status)
	return out.NodeId
}

func (t *DispatcherTest) create(parent uint64, name string, mode uint32) (uint64, uint64) {
	in := &fuse.CreateIn{InHeader: *t.header(parent), Flags: uint32(os.O_RDWR | os.O_CREATE), Mode: mode}
	var out fuse.CreateOut
	status := t.d.Create(nil, in, name, &out)
	t.Require().Equal(fuse.OK, status)
	return out.NodeId, out.Fh
}

func (t *DispatcherTest) TestMkdirLookupGetAttr() {
	ino := t.mkdir(inodemap.RootInode, "d", 0o755)
	t.NotZero(ino)

	var lookupOut fuse.EntryOut
	status := t.d.Lookup(nil, t.header(inodemap.RootInode), "d", &lookupOut)
	t.Equal(fuse.OK, status)
	t.Equal(ino, lookupOut.NodeId)
	t.EqualValues(syscall.S_IFDIR|0o755, lookupOut.Attr.Mode)

	var attrOut fuse.AttrOut
	getAttrIn := &fuse.GetAttrIn{InHeader: *t.header(ino)}
	status = t.d.GetAttr(nil, getAttrIn, &attrOut)
	t.Equal(fuse.OK, status)
	t.Equal(ino, attrOut.Attr.Ino)
}

func (t *DispatcherTest) TestLookupMissingReturnsENOENT() {
	var out fuse.EntryOut
	status := t.d.Lookup(nil, t.header(inodemap.RootInode), "nope", &out)
	t.Equal(fuse.ToStatus(syscall.ENOENT), status)
}

func (t *DispatcherTest) TestCreateWriteReadRelease() {
	ino, fh := t.create(inodemap.RootInode, "f", 0o644)
	t.NotZero(ino)

	payload := []byte("hello, posinvck")
	writeIn := &fuse.WriteIn{InHeader: *t.header(ino), Fh: fh, Offset: 0, Size: uint32(len(payload))}
	n, status := t.d.Write(nil, writeIn, payload)
	t.Equal(fuse.OK, status)
	t.EqualValues(len(payload), n)

	readIn := &fuse.ReadIn{InHeader: *t.header(ino), Fh: fh, Offset: 0, Size: uint32(len(payload))}
	buf := make([]byte, len(payload))
	res, status := t.d.Read(nil, readIn, buf)
	t.Equal(fuse.OK, status)
	read, _ := res.Bytes(buf)
	t.Equal(payload, read)

	t.d.Release(nil, &fuse.ReleaseIn{InHeader: *t.header(ino), Fh: fh})
}

func (t *DispatcherTest) TestUnlinkRemovesEntry() {
	t.create(inodemap.RootInode, "f", 0o644)

	status := t.d.Unlink(nil, t.header(inodemap.RootInode), "f")
	t.Equal(fuse.OK, status)

	_, err := os.Lstat(t.base + "/f")
	t.True(os.IsNotExist(err))
}

func (t *DispatcherTest) TestRmdirNonEmptyFails() {
	dirIno := t.mkdir(inodemap.RootInode, "d", 0o755)
	t.create(dirIno, "f", 0o644)

	status := t.d.Rmdir(nil, t.header(inodemap.RootInode), "d")
	t.Equal(fuse.ToStatus(syscall.ENOTEMPTY), status)
}

func (t *DispatcherTest) TestRenameMovesEntry() {
	t.mkdir(inodemap.RootInode, "d", 0o755)

	renameIn := &fuse.RenameIn{InHeader: *t.header(inodemap.RootInode), Newdir: inodemap.RootInode}
	status := t.d.Rename(nil, renameIn, "d", "e")
	t.Equal(fuse.OK, status)

	_, err := os.Lstat(t.base + "/e")
	t.NoError(err)
	_, err = os.Lstat(t.base + "/d")
	t.True(os.IsNotExist(err))
}

func (t *DispatcherTest) TestLinkIncreasesNlink() {
	ino, _ := t.create(inodemap.RootInode, "f", 0o644)

	linkIn := &fuse.LinkIn{InHeader: *t.header(inodemap.RootInode), Oldnodeid: ino}
	var out fuse.EntryOut
	status := t.d.Link(nil, linkIn, "g", &out)
	t.Equal(fuse.OK, status)
	t.Equal(ino, out.NodeId)
	t.EqualValues(2, out.Attr.Nlink)
}

func (t *DispatcherTest) TestSymlinkAndReadlink() {
	var out fuse.EntryOut
	status := t.d.Symlink(nil, t.header(inodemap.RootInode), "target", "link", &out)
	t.Equal(fuse.OK, status)

	target, status := t.d.Readlink(nil, t.header(out.NodeId))
	t.Equal(fuse.OK, status)
	t.Equal("target", string(target))
}

func (t *DispatcherTest) TestSetAttrChmod() {
	ino, _ := t.create(inodemap.RootInode, "f", 0o644)

	setAttrIn := &fuse.SetAttrIn{InHeader: *t.header(ino), Valid: fuse.FATTR_MODE, Mode: 0o600}
	var out fuse.AttrOut
	status := t.d.SetAttr(nil, setAttrIn, &out)
	t.Equal(fuse.OK, status)
	t.EqualValues(syscall.S_IFREG|0o600, out.Attr.Mode)
}

func (t *DispatcherTest) TestReadDirListsCreatedEntries() {
	t.mkdir(inodemap.RootInode, "d", 0o755)
	t.create(inodemap.RootInode, "f", 0o644)

	var openOut fuse.OpenOut
	status := t.d.OpenDir(nil, &fuse.OpenIn{InHeader: *t.header(inodemap.RootInode)}, &openOut)
	t.Require().Equal(fuse.OK, status)

	list := fuse.NewDirEntryList(make([]byte, 4096), 0)
	readIn := &fuse.ReadIn{InHeader: *t.header(inodemap.RootInode), Fh: openOut.Fh, Offset: 0}
	status = t.d.ReadDir(nil, readIn, list)
	t.Equal(fuse.OK, status)

	t.d.ReleaseDir(&fuse.ReleaseIn{InHeader: *t.header(inodemap.RootInode), Fh: openOut.Fh})
}

func (t *DispatcherTest) TestAccessAllowsOwnerReadable() {
	ino, _ := t.create(inodemap.RootInode, "f", 0o644)

	accessIn := &fuse.AccessIn{InHeader: *t.header(ino), Mask: syscall.F_OK}
	status := t.d.Access(nil, accessIn)
	t.Equal(fuse.OK, status)
}
