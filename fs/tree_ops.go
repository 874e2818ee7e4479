package fs

import (
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/chordtoll/posinvck-go/internal/perms"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// Mkdir creates a directory, predicting the outcome and recording the new
// inode in the shadow model on success.
func (d *Dispatcher) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessCreate, d.attrLookup())

	mode := uint16(input.Mode &^ input.Umask & 0o7777)
	tok := d.Hooks.CreateBefore("mkdir", input.NodeId, parentPath, name, shadow.Directory, mode, input.Caller.Uid, input.Caller.Gid, predicted)

	err := withIdentityUmask(input.Caller, input.Umask, true, func() error {
		return os.Mkdir(d.abs(join(parentPath, name)), os.FileMode(mode))
	})
	ino, attr, statErr := zeroAttrIfErr(d, join(parentPath, name), err)
	if err == nil {
		err = statErr
	}
	d.Hooks.CreateAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	d.lookups.Inc(ino)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = ino
	out.Attr.Ino = ino
	return fuse.OK
}

// Mknod creates a regular file, FIFO, device node or socket via mknod(2).
func (d *Dispatcher) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessCreate, d.attrLookup())

	mode := uint16(input.Mode &^ input.Umask & 0o7777)
	kind := kindFromMode(input.Mode)
	tok := d.Hooks.CreateBefore("mknod", input.NodeId, parentPath, name, kind, mode, input.Caller.Uid, input.Caller.Gid, predicted)

	err := withIdentityUmask(input.Caller, input.Umask, true, func() error {
		return syscall.Mknod(d.abs(join(parentPath, name)), input.Mode, int(input.Rdev))
	})
	ino, attr, statErr := zeroAttrIfErr(d, join(parentPath, name), err)
	if err == nil {
		err = statErr
	}
	d.Hooks.CreateAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	d.lookups.Inc(ino)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = ino
	out.Attr.Ino = ino
	return fuse.OK
}

func kindFromMode(mode uint32) shadow.Kind {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFIFO:
		return shadow.NamedPipe
	case syscall.S_IFCHR:
		return shadow.CharDevice
	case syscall.S_IFBLK:
		return shadow.BlockDevice
	case syscall.S_IFSOCK:
		return shadow.Socket
	default:
		return shadow.RegularFile
	}
}

func zeroAttrIfErr(d *Dispatcher, path string, err error) (uint64, shadow.FileAttr, error) {
	if err != nil {
		return 0, shadow.FileAttr{}, nil
	}
	return d.lookupAttr(path)
}

// Unlink removes a non-directory entry.
func (d *Dispatcher) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(header.NodeId)
	req := requestFor(header.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessDelete, d.attrLookup())

	tok := d.Hooks.UnlinkBefore("unlink", header.NodeId, parentPath, name, predicted)
	err := withIdentity(header.Caller, func() error {
		return syscall.Unlink(d.abs(join(parentPath, name)))
	})
	d.Hooks.UnlinkAfter(tok, err)
	return fuse.ToStatus(errnoOf(err))
}

// Rmdir removes an empty directory.
func (d *Dispatcher) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(header.NodeId)
	req := requestFor(header.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessDelete, d.attrLookup())
	if predicted == nil {
		if ino, ok := d.Model.InvInodePaths.Lookup(join(parentPath, name)); ok && len(d.Model.DirEntries(ino)) > 0 {
			predicted = syscall.ENOTEMPTY
		}
	}

	tok := d.Hooks.UnlinkBefore("rmdir", header.NodeId, parentPath, name, predicted)
	err := withIdentity(header.Caller, func() error {
		return syscall.Rmdir(d.abs(join(parentPath, name)))
	})
	d.Hooks.UnlinkAfter(tok, err)
	return fuse.ToStatus(errnoOf(err))
}

// Rename moves an entry, replacing any existing target.
func (d *Dispatcher) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	oldParentPath := d.pathFor(input.NodeId)
	newParentPath := d.pathFor(input.Newdir)
	req := requestFor(input.Caller)
	lookup := d.attrLookup()

	predicted := perms.Predict(req, join(oldParentPath, oldName), perms.AccessDelete, lookup)
	if predicted == nil {
		predicted = perms.Predict(req, join(newParentPath, newName), perms.AccessCreate, lookup)
	}

	tok := d.Hooks.RenameBefore(input.NodeId, input.Newdir, oldParentPath, oldName, newParentPath, newName, predicted)
	err := withIdentity(input.Caller, func() error {
		return syscall.Rename(d.abs(join(oldParentPath, oldName)), d.abs(join(newParentPath, newName)))
	})
	d.Hooks.RenameAfter(tok, err)
	return fuse.ToStatus(errnoOf(err))
}

// Link creates a new hard link to an existing inode.
func (d *Dispatcher) Link(cancel <-chan struct{}, input *fuse.LinkIn, name string, out *fuse.EntryOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	targetPath := d.pathFor(input.Oldnodeid)
	newParentPath := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, join(newParentPath, name), perms.AccessCreate, d.attrLookup())

	tok := d.Hooks.LinkBefore(input.Oldnodeid, input.NodeId, newParentPath, name, predicted)
	err := withIdentity(input.Caller, func() error {
		return os.Link(d.abs(targetPath), d.abs(join(newParentPath, name)))
	})
	_, attr, statErr := zeroAttrIfErr(d, join(newParentPath, name), err)
	if err == nil {
		err = statErr
	}
	d.Hooks.LinkAfter(tok, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	d.lookups.Inc(input.Oldnodeid)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = input.Oldnodeid
	out.Attr.Ino = input.Oldnodeid
	return fuse.OK
}

// Symlink creates a symbolic link pointing at target.
func (d *Dispatcher) Symlink(cancel <-chan struct{}, header *fuse.InHeader, target string, name string, out *fuse.EntryOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	parentPath := d.pathFor(header.NodeId)
	req := requestFor(header.Caller)
	predicted := perms.Predict(req, join(parentPath, name), perms.AccessCreate, d.attrLookup())

	mode := uint16(0o777)
	tok := d.Hooks.CreateBefore("symlink", header.NodeId, parentPath, name, shadow.Symlink, mode, header.Caller.Uid, header.Caller.Gid, predicted)

	err := withIdentity(header.Caller, func() error {
		return os.Symlink(target, d.abs(join(parentPath, name)))
	})
	ino, attr, statErr := zeroAttrIfErr(d, join(parentPath, name), err)
	if err == nil {
		err = statErr
	}
	d.Hooks.CreateAfter(tok, ino, attr, err)
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	d.lookups.Inc(ino)
	fillAttrOut(attr, &out.Attr)
	out.NodeId = ino
	out.Attr.Ino = ino
	return fuse.OK
}

// Readlink returns a symlink's target string, unchecked against the shadow
// model (SPEC_FULL.md does not track symlink target text).
func (d *Dispatcher) Readlink(cancel <-chan struct{}, header *fuse.InHeader) (out []byte, code fuse.Status) {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	var target string
	err := withIdentity(header.Caller, func() error {
		var readErr error
		target, readErr = os.Readlink(d.abs(d.pathFor(header.NodeId)))
		return readErr
	})
	if err != nil {
		return nil, fuse.ToStatus(errnoOf(err))
	}
	return []byte(target), fuse.OK
}

// Access predicts lookup access to the path and returns the real
// filesystem's access(2) result. A disagreement with the prediction is not
// an invariant violation: it is only logged at DEBUG, and only when the
// real call failed.
func (d *Dispatcher) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.pathFor(input.NodeId)
	req := requestFor(input.Caller)
	predicted := perms.Predict(req, path, perms.AccessLookup, d.attrLookup())

	err := withIdentity(input.Caller, func() error {
		return unixAccess(d.abs(path), input.Mask)
	})
	if (err == nil) != (predicted == nil) {
		logOp("access", err)
	}
	if err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	return fuse.OK
}

func unixAccess(path string, mask uint32) error {
	return syscall.Access(path, mask)
}
