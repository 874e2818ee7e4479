// Package fs is the operation dispatcher (SPEC_FULL.md §4.5): it implements
// fuse.RawFileSystem by forwarding every request to the directory tree
// rooted at Base, while driving internal/shadow's invariant hooks around
// each syscall and internal/perms's predictor to decide the expected errno
// before the syscall runs.
package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/chordtoll/posinvck-go/internal/inodemap"
	"github.com/chordtoll/posinvck-go/internal/logger"
	"github.com/chordtoll/posinvck-go/internal/perms"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// Dispatcher forwards FUSE requests to Base and cross-checks every result
// against the shadow model. It embeds fuse.RawFileSystem's default
// (ENOSYS-returning) implementation so operations SPEC_FULL.md's Non-goals
// exclude — locks, ioctl, bmap, fallocate — never need an override here.
type Dispatcher struct {
	fuse.RawFileSystem

	Base string

	Model *shadow.Model
	Hooks *shadow.Hooks

	mu          sync.Mutex
	fileHandles map[uint64]*fileHandle
	dirHandles  map[uint64]*dirHandle
	nextHandle  uint64

	lookups *inodemap.LookupCounts
}

// NewDispatcher constructs a Dispatcher rooted at base, backed by model and
// hooks (already configured per cfg.ShadowConfig).
func NewDispatcher(base string, model *shadow.Model, hooks *shadow.Hooks) *Dispatcher {
	return &Dispatcher{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		Base:          base,
		Model:         model,
		Hooks:         hooks,
		fileHandles:   make(map[uint64]*fileHandle),
		dirHandles:    make(map[uint64]*dirHandle),
		lookups:       inodemap.NewLookupCounts(),
	}
}

func (d *Dispatcher) String() string { return "posinvck" }

func (d *Dispatcher) SetDebug(bool) {}

// Init is a no-op: the shadow model's bootstrap (SPEC_FULL.md §3.2's
// load-or-walk rule) runs in internal/mountrunner before the dispatcher is
// even constructed, so by the time go-fuse calls Init the model is already
// populated.
func (d *Dispatcher) Init(*fuse.Server) {}

// pathFor resolves a kernel inode number to the relative path the
// dispatcher last recorded for it.
func (d *Dispatcher) pathFor(ino uint64) string {
	return d.Model.InodePaths.Get(ino)
}

// abs joins rel onto Base, treating "" as Base itself.
func (d *Dispatcher) abs(rel string) string {
	if rel == "" {
		return d.Base
	}
	return filepath.Join(d.Base, rel)
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// attrLookup adapts the shadow model into a perms.AttrLookup closure bound
// to this Dispatcher, for permission-predictor calls.
func (d *Dispatcher) attrLookup() perms.AttrLookup {
	return func(path string) (shadow.FileAttr, bool) {
		ino, ok := d.Model.InodePaths.Lookup(path)
		if !ok {
			if path == "" {
				return d.Model.Attr(inodemap.RootInode)
			}
			return shadow.FileAttr{}, false
		}
		return d.Model.Attr(ino)
	}
}

// requestFor builds a perms.Request from a FUSE caller, reading its
// supplementary groups from /proc.
func requestFor(caller fuse.Caller) perms.Request {
	groups, err := perms.SupplementaryGroups(caller.Pid)
	if err != nil {
		groups = nil
	}
	return perms.Request{UID: caller.Uid, GID: caller.Gid, Groups: groups}
}

// withIdentity runs fn with the process's effective identity temporarily
// switched to caller's (SPEC_FULL.md §4.5 steps 5 and 8: install the
// caller's supplementary groups, egid and euid before the real syscall runs,
// then restore the dispatcher's own identity once it returns).
func withIdentity(caller fuse.Caller, fn func() error) error {
	return withIdentityUmask(caller, 0, false, fn)
}

// withIdentityUmask is withIdentity plus installing umask for fn's duration,
// for the create-family operations the kernel hands an explicit umask to.
func withIdentityUmask(caller fuse.Caller, umask uint32, umaskSet bool, fn func() error) error {
	saved, err := perms.SetIDs(caller.Uid, caller.Gid, caller.Pid, int(umask), umaskSet)
	if err != nil {
		return err
	}
	defer perms.RestoreIDs(saved)
	return fn()
}

// StatToAttr converts a host os.FileInfo (as returned by Lstat/Stat against
// the base tree) into the shadow model's FileAttr shape, normalizing
// directory sizes to zero per SPEC_FULL.md §9, open question (c). Exported
// so internal/mountrunner's base-directory bootstrap walk (SPEC_FULL.md
// §3.2) can populate the shadow model the same way every dispatcher syscall
// does.
func StatToAttr(ino uint64, fi os.FileInfo) shadow.FileAttr {
	st := fi.Sys().(*syscall.Stat_t)
	kind := shadow.RegularFile
	switch fi.Mode() & os.ModeType {
	case os.ModeDir:
		kind = shadow.Directory
	case os.ModeSymlink:
		kind = shadow.Symlink
	case os.ModeNamedPipe:
		kind = shadow.NamedPipe
	case os.ModeCharDevice:
		kind = shadow.CharDevice
	case os.ModeDevice:
		kind = shadow.BlockDevice
	case os.ModeSocket:
		kind = shadow.Socket
	}
	size := st.Size
	if kind == shadow.Directory {
		size = 0
	}
	return shadow.FileAttr{
		Inode:     ino,
		Size:      uint64(size),
		Atime:     time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:     time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:     time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Kind:      kind,
		Perm:      uint16(st.Mode & 0o7777),
		Nlink:     uint32(st.Nlink),
		UID:       st.Uid,
		GID:       st.Gid,
		Rdev:      uint32(st.Rdev),
		BlockSize: uint32(st.Blksize),
	}
}

// HostIno extracts the kernel inode number from a host os.FileInfo.
func HostIno(fi os.FileInfo) uint64 {
	return fi.Sys().(*syscall.Stat_t).Ino
}

func fillAttrOut(a shadow.FileAttr, out *fuse.Attr) {
	out.Ino = a.Inode
	out.Size = a.Size
	out.Mode = uint32(a.Perm)
	switch a.Kind {
	case shadow.Directory:
		out.Mode |= syscall.S_IFDIR
	case shadow.Symlink:
		out.Mode |= syscall.S_IFLNK
	case shadow.NamedPipe:
		out.Mode |= syscall.S_IFIFO
	case shadow.CharDevice:
		out.Mode |= syscall.S_IFCHR
	case shadow.BlockDevice:
		out.Mode |= syscall.S_IFBLK
	case shadow.Socket:
		out.Mode |= syscall.S_IFSOCK
	default:
		out.Mode |= syscall.S_IFREG
	}
	out.Nlink = a.Nlink
	out.Uid = a.UID
	out.Gid = a.GID
	out.Rdev = a.Rdev
	out.Blksize = a.BlockSize
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if os.IsNotExist(err) {
		return syscall.ENOENT
	}
	return syscall.EIO
}

func (d *Dispatcher) lookupAttr(rel string) (uint64, shadow.FileAttr, error) {
	fi, err := os.Lstat(d.abs(rel))
	if err != nil {
		return 0, shadow.FileAttr{}, err
	}
	ino := HostIno(fi)
	if rel == "" {
		ino = inodemap.RootInode
	}
	return ino, StatToAttr(ino, fi), nil
}

// Lookup resolves name under parent, per SPEC_FULL.md §4.5's full
// lookup/getattr/permission-check/shadow-update sequence.
func (d *Dispatcher) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(header.NodeId)
	req := requestFor(header.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessLookup, d.attrLookup())

	tok := d.Hooks.LookupBefore("lookup", parentPath, name, predicted)

	ino, attr, err := d.lookupAttr(join(parentPath, name))
	d.Hooks.LookupAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	d.Model.InodePaths.Insert(ino, join(parentPath, name))
	d.lookups.Inc(ino)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = ino
	out.Attr.Ino = ino
	return fuse.OK
}

// Forget drops nlookup kernel references to nodeid. The shadow model itself
// never forgets an inode on Forget alone (its bookkeeping tracks POSIX link
// count, reclaimed when nlink hits zero in the unlink/rename hooks); this
// only trims the kernel-reference counter so a later re-Lookup of the same
// path is free to mint a fresh NodeId without tripping over a stale count.
func (d *Dispatcher) Forget(nodeid, nlookup uint64) {
	d.lookups.Dec(nodeid, nlookup)
}

// GetAttr re-stats the path and cross-checks the result against the shadow
// model's prediction.
func (d *Dispatcher) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, path, perms.AccessLookup, d.attrLookup())

	tok := d.Hooks.LookupBefore("getattr", "", path, predicted)
	ino, attr, err := d.lookupAttr(path)
	d.Hooks.LookupAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	fillAttrOut(attr, &out.Attr)
	return fuse.OK
}

// StatFs reports statvfs(2) data for the inode's path unmodified;
// SPEC_FULL.md does not model free-space accounting.
func (d *Dispatcher) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	d.Model.Mu.Lock()
	path := d.abs(d.pathFor(header.NodeId))
	d.Model.Mu.Unlock()

	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return fuse.OK
}

func logOp(op string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", op, err)
	}
}
