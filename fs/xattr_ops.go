package fs

import (
	"golang.org/x/sys/unix"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// GetXAttr reads a named extended attribute, cross-checking the returned
// bytes against the shadow model's recorded value.
func (d *Dispatcher) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.abs(d.pathFor(header.NodeId))
	tok := d.Hooks.GetxattrBefore(header.NodeId, attr)

	var n int
	err := withIdentity(header.Caller, func() error {
		var getErr error
		n, getErr = unix.Lgetxattr(path, attr, dest)
		return getErr
	})
	d.Hooks.GetxattrAfter(tok, copyOf(dest, n), err)
	if err != nil {
		return 0, fuse.ToStatus(errnoOf(err))
	}
	return uint32(n), fuse.OK
}

func copyOf(b []byte, n int) []byte {
	if n < 0 || n > len(b) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out
}

// ListXAttr returns every extended attribute name set on the inode.
func (d *Dispatcher) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.abs(d.pathFor(header.NodeId))
	tok := d.Hooks.ListxattrBefore(header.NodeId)

	var n int
	err := withIdentity(header.Caller, func() error {
		var listErr error
		n, listErr = unix.Llistxattr(path, dest)
		return listErr
	})
	if err == nil {
		d.Hooks.ListxattrAfter(tok, splitNames(copyOf(dest, n)), nil)
	}
	if err != nil {
		return 0, fuse.ToStatus(errnoOf(err))
	}
	return uint32(n), fuse.OK
}

func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

// SetXAttr creates or overwrites a named extended attribute.
func (d *Dispatcher) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.abs(d.pathFor(input.NodeId))
	err := withIdentity(input.Caller, func() error {
		return unix.Lsetxattr(path, attr, data, int(input.Flags))
	})
	d.Hooks.SetxattrAfter(input.NodeId, attr, data, err)
	return fuse.ToStatus(errnoOf(err))
}

// RemoveXAttr deletes a named extended attribute.
func (d *Dispatcher) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.abs(d.pathFor(header.NodeId))
	err := withIdentity(header.Caller, func() error {
		return unix.Lremovexattr(path, attr)
	})
	d.Hooks.RemovexattrAfter(header.NodeId, attr, err)
	return fuse.ToStatus(errnoOf(err))
}
