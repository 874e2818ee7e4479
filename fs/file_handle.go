package fs

import (
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/chordtoll/posinvck-go/internal/perms"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// fileHandle is the dispatcher's bookkeeping for one open regular file,
// mirroring the handle-table shape the teacher uses for its GCS-backed file
// handles but holding a plain pass-through *os.File instead.
type fileHandle struct {
	ino  uint64
	file *os.File
}

func (d *Dispatcher) newFileHandle(ino uint64, f *os.File) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := d.nextHandle
	d.fileHandles[h] = &fileHandle{ino: ino, file: f}
	return h
}

func (d *Dispatcher) lookupFileHandle(h uint64) *fileHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileHandles[h]
}

func (d *Dispatcher) dropFileHandle(h uint64) *fileHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	fh := d.fileHandles[h]
	delete(d.fileHandles, h)
	return fh
}

// Create opens name under parent with O_CREAT, predicting the outcome the
// same way Mknod does before registering a file handle for the result.
func (d *Dispatcher) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessCreate, d.attrLookup())

	mode := uint16(input.Mode &^ input.Umask & 0o7777)
	tok := d.Hooks.CreateBefore("create", input.NodeId, parentPath, name, shadow.RegularFile, mode, input.Caller.Uid, input.Caller.Gid, predicted)

	var f *os.File
	err := withIdentityUmask(input.Caller, input.Umask, true, func() error {
		var openErr error
		f, openErr = os.OpenFile(d.abs(join(parentPath, name)), int(input.Flags)|os.O_CREATE, os.FileMode(mode))
		return openErr
	})
	var ino uint64
	var attr shadow.FileAttr
	if err == nil {
		fi, statErr := f.Stat()
		if statErr != nil {
			err = statErr
		} else {
			ino = HostIno(fi)
			attr = StatToAttr(ino, fi)
		}
	}
	d.Hooks.CreateAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	d.Model.InodePaths.Insert(ino, join(parentPath, name))
	d.lookups.Inc(ino)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = ino
	out.Attr.Ino = ino
	out.Fh = d.newFileHandle(ino, f)
	return fuse.OK
}

// Open opens an existing regular file and registers a handle for it.
func (d *Dispatcher) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.pathFor(input.NodeId)
	ino := input.NodeId

	var f *os.File
	err := withIdentity(input.Caller, func() error {
		var openErr error
		f, openErr = os.OpenFile(d.abs(path), int(input.Flags), 0)
		return openErr
	})
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	out.Fh = d.newFileHandle(ino, f)
	return fuse.OK
}

// Read serves a read request, cross-checking the observed bytes against the
// shadow model's predicted contents when data-checking is enabled.
func (d *Dispatcher) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fh := d.lookupFileHandle(input.Fh)
	if fh == nil {
		return nil, fuse.ToStatus(syscall.EBADF)
	}

	d.Model.Mu.Lock()
	tok := d.Hooks.ReadBefore(fh.ino, int64(input.Offset), len(buf))
	d.Model.Mu.Unlock()

	n, err := fh.file.ReadAt(buf, int64(input.Offset))
	observed := buf[:n]
	if err != nil && n == 0 {
		d.Model.Mu.Lock()
		d.Hooks.ReadAfter(tok, observed, err)
		d.Model.Mu.Unlock()
		return nil, fuse.ToStatus(errnoOf(err))
	}

	d.Model.Mu.Lock()
	d.Hooks.ReadAfter(tok, observed, nil)
	d.Model.Mu.Unlock()
	return fuse.ReadResultData(observed), fuse.OK
}

// Write serves a write request, splicing the new bytes into the shadow
// model's predicted contents on success.
func (d *Dispatcher) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	fh := d.lookupFileHandle(input.Fh)
	if fh == nil {
		return 0, fuse.ToStatus(syscall.EBADF)
	}

	d.Model.Mu.Lock()
	tok := d.Hooks.WriteBefore(fh.ino, int64(input.Offset), data)
	d.Model.Mu.Unlock()

	n, err := fh.file.WriteAt(data, int64(input.Offset))

	d.Model.Mu.Lock()
	d.Hooks.WriteAfter(tok, uint32(n), err)
	d.Model.Mu.Unlock()
	if err != nil {
		return 0, fuse.ToStatus(errnoOf(err))
	}
	return uint32(n), fuse.OK
}

// Flush is called once per close(2) on a file descriptor referring to this
// handle; it maps to fsync(2) against the pass-through file.
func (d *Dispatcher) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	fh := d.lookupFileHandle(input.Fh)
	if fh == nil {
		return fuse.ToStatus(syscall.EBADF)
	}
	return fuse.ToStatus(errnoOf(fh.file.Sync()))
}

// Fsync flushes the file's contents to the underlying storage.
func (d *Dispatcher) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	fh := d.lookupFileHandle(input.Fh)
	if fh == nil {
		return fuse.ToStatus(syscall.EBADF)
	}
	return fuse.ToStatus(errnoOf(fh.file.Sync()))
}

// Release closes the underlying file descriptor and drops the handle.
func (d *Dispatcher) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	fh := d.dropFileHandle(input.Fh)
	if fh == nil {
		return
	}
	if err := fh.file.Close(); err != nil {
		logOp("release", err)
	}
}
