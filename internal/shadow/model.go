package shadow

import (
	"github.com/jacobsa/syncutil"

	"github.com/chordtoll/posinvck-go/internal/inodemap"
)

// Config toggles which shadow tables are maintained. Disabling a table is
// cheaper (less memory, fewer assertions) at the cost of weaker checking;
// the dispatcher reads these once at startup from cfg.ShadowConfig.
type Config struct {
	CheckMetadata  bool
	CheckDirs      bool
	CheckData      bool
	CheckXattrs    bool
}

// Model is the shadow model described by SPEC_FULL.md §3.1: the live inode
// mapper the dispatcher actually uses to resolve paths, a parallel
// invariant-only mapper updated strictly after successful syscalls, and the
// per-inode metadata/directory/data/xattr tables used to predict and
// cross-check results. All access happens under Mu, a single coarse-grained
// lock (SPEC_FULL.md §5) whose CheckInvariants callback re-validates
// table-level consistency on every acquisition in race-detector builds.
type Model struct {
	Mu syncutil.InvariantMutex

	cfg Config

	// InodePaths is the live mapping the dispatcher resolves paths through.
	InodePaths *inodemap.Mapper

	// InvInodePaths mirrors InodePaths; apart from being filled at mount
	// bootstrap, it is only touched from inside
	// an invariant hook's After function, after the underlying syscall has
	// already succeeded — giving the invariant layer an independent
	// point of comparison.
	InvInodePaths *inodemap.Mapper

	metadata map[uint64]FileAttr
	dirs     map[uint64]map[string]uint64
	data     map[uint64][]byte
	xattrs   map[uint64]map[string][]byte
}

// NewModel constructs an empty Model with inode 1 reserved for root in both
// inode mappers, per SPEC_FULL.md §3.1/§3.2.
func NewModel(cfg Config) *Model {
	m := &Model{
		cfg:           cfg,
		InodePaths:    inodemap.New(),
		InvInodePaths: inodemap.New(),
		metadata:      make(map[uint64]FileAttr),
		dirs:          make(map[uint64]map[string]uint64),
		data:          make(map[uint64][]byte),
		xattrs:        make(map[uint64]map[string][]byte),
	}
	m.Mu = syncutil.NewInvariantMutex(m.checkInvariants)
	return m
}

// checkInvariants re-validates cross-table consistency. It is invoked by
// the InvariantMutex on every Lock/Unlock pair in builds with the race
// detector (or GCSFUSE_INVARIANTS-style build tag) enabled, mirroring
// fs/fs.go's checkInvariants in the teacher.
func (m *Model) checkInvariants() {
	for ino := range m.metadata {
		if _, ok := m.InvInodePaths.GetAll(ino); !ok && ino != inodemap.RootInode {
			panic("shadow: metadata entry for inode with no recorded path")
		}
	}
}

// Attr returns the predicted FileAttr for ino, if metadata checking is
// enabled and the inode is known.
func (m *Model) Attr(ino uint64) (FileAttr, bool) {
	a, ok := m.metadata[ino]
	return a, ok
}

// SetAttr installs attr as the predicted metadata for ino.
func (m *Model) SetAttr(ino uint64, attr FileAttr) {
	if !m.cfg.CheckMetadata {
		return
	}
	m.metadata[ino] = attr
}

// ForgetAttr drops ino's metadata, directory listing, data and xattrs —
// called when an inode's link count reaches zero.
func (m *Model) ForgetAttr(ino uint64) {
	delete(m.metadata, ino)
	delete(m.dirs, ino)
	delete(m.data, ino)
	delete(m.xattrs, ino)
}

// DirEntries returns the predicted child-name -> child-inode mapping for a
// directory inode.
func (m *Model) DirEntries(ino uint64) map[string]uint64 {
	return m.dirs[ino]
}

// SetDirEntry records that dir's child name now refers to child.
func (m *Model) SetDirEntry(dir uint64, name string, child uint64) {
	if !m.cfg.CheckDirs {
		return
	}
	entries, ok := m.dirs[dir]
	if !ok {
		entries = make(map[string]uint64)
		m.dirs[dir] = entries
	}
	entries[name] = child
}

// RemoveDirEntry removes name from dir's predicted listing.
func (m *Model) RemoveDirEntry(dir uint64, name string) {
	if entries, ok := m.dirs[dir]; ok {
		delete(entries, name)
	}
}

// Data returns the predicted byte contents of a regular file inode.
func (m *Model) Data(ino uint64) []byte {
	return m.data[ino]
}

// SetData installs buf as the predicted byte contents of ino.
func (m *Model) SetData(ino uint64, buf []byte) {
	if !m.cfg.CheckData {
		return
	}
	m.data[ino] = buf
}

// Xattrs returns the predicted name -> value map for ino's extended
// attributes.
func (m *Model) Xattrs(ino uint64) map[string][]byte {
	return m.xattrs[ino]
}

// SetXattr records name=value for ino.
func (m *Model) SetXattr(ino uint64, name string, value []byte) {
	if !m.cfg.CheckXattrs {
		return
	}
	entries, ok := m.xattrs[ino]
	if !ok {
		entries = make(map[string][]byte)
		m.xattrs[ino] = entries
	}
	entries[name] = append([]byte(nil), value...)
}

// RemoveXattr deletes name from ino's predicted xattrs.
func (m *Model) RemoveXattr(ino uint64, name string) {
	if entries, ok := m.xattrs[ino]; ok {
		delete(entries, name)
	}
}

func (c Config) anyEnabled() bool {
	return c.CheckMetadata || c.CheckDirs || c.CheckData || c.CheckXattrs
}
