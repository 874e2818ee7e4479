// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fs

import (
	"os"
	"sort"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirHandle buffers a single directory's listing for the life of an
// opendir/readdir/releasedir sequence. Unlike the teacher's GCS-backed
// handle, which paginates through a continuation token because GCS object
// listings have no stable offset, a local directory's entries are read in
// one pass and indexed directly by position: seeking to any previously-seen
// offset is always possible, so there is no EINVAL-on-seek case to handle.
type dirHandle struct {
	ino     uint64
	path    string
	entries []os.DirEntry
	loaded  bool
}

func (d *Dispatcher) newDirHandle(ino uint64, path string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := d.nextHandle
	d.dirHandles[h] = &dirHandle{ino: ino, path: path}
	return h
}

func (d *Dispatcher) lookupDirHandle(h uint64) *dirHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirHandles[h]
}

func (d *Dispatcher) dropDirHandle(h uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dirHandles, h)
}

// OpenDir registers a directory handle; the actual directory contents are
// read lazily on the first ReadDir call.
func (d *Dispatcher) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	d.Model.Mu.Lock()
	path := d.pathFor(input.NodeId)
	d.Model.Mu.Unlock()

	if _, err := os.Stat(d.abs(path)); err != nil {
		return fuse.ToStatus(errnoOf(err))
	}
	out.Fh = d.newDirHandle(input.NodeId, path)
	return fuse.OK
}

func (d *Dispatcher) load(dh *dirHandle) error {
	if dh.loaded {
		return nil
	}
	entries, err := os.ReadDir(d.abs(dh.path))
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	dh.entries = entries
	dh.loaded = true
	return nil
}

// ReadDir serves a batch of plain directory entries (no attributes). Once
// every entry has been enumerated at least once, the observed name set is
// cross-checked against the shadow model's predicted listing.
func (d *Dispatcher) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	dh := d.lookupDirHandle(input.Fh)
	if dh == nil {
		return fuse.ToStatus(syscall.EBADF)
	}
	if err := d.load(dh); err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	names := []string{".", ".."}
	for _, e := range dh.entries {
		names = append(names, e.Name())
	}

	for i := int(input.Offset); i < len(names); i++ {
		if !out.AddDirEntry(fuse.DirEntry{Name: names[i], Mode: direntMode(dh, i)}) {
			break
		}
	}

	if int(input.Offset)+1 >= len(names) {
		d.Model.Mu.Lock()
		tok := d.Hooks.ReaddirBefore(dh.ino)
		d.Hooks.ReaddirAfter(tok, names[2:])
		d.Model.Mu.Unlock()
	}
	return fuse.OK
}

func direntMode(dh *dirHandle, i int) uint32 {
	if i < 2 {
		return syscall.S_IFDIR
	}
	fi, err := dh.entries[i-2].Info()
	if err != nil {
		return syscall.S_IFREG
	}
	return uint32(fi.Mode() & os.ModeType)
}

// ReadDirPlus serves a batch of directory entries along with each child's
// attributes, pre-populating the inode mapper and shadow model the same way
// Lookup does for entries encountered individually.
func (d *Dispatcher) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	dh := d.lookupDirHandle(input.Fh)
	if dh == nil {
		return fuse.ToStatus(syscall.EBADF)
	}
	if err := d.load(dh); err != nil {
		return fuse.ToStatus(errnoOf(err))
	}

	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	idx := int(input.Offset)
	for ; idx < len(dh.entries); idx++ {
		name := dh.entries[idx].Name()
		ino, attr, err := d.lookupAttr(join(dh.path, name))
		if err != nil {
			continue
		}
		d.Model.InodePaths.Insert(ino, join(dh.path, name))
		d.lookups.Inc(ino)

		var entryOut fuse.EntryOut
		fillAttrOut(attr, &entryOut.Attr)
		entryOut.NodeId = ino
		entryOut.Attr.Ino = ino

		if _, ok := out.AddDirLookupEntry(fuse.DirEntry{Name: name, Mode: entryOut.Attr.Mode, Ino: ino}); !ok {
			break
		}
	}

	if idx >= len(dh.entries) {
		names := make([]string, 0, len(dh.entries))
		for _, e := range dh.entries {
			names = append(names, e.Name())
		}
		tok := d.Hooks.ReaddirBefore(dh.ino)
		d.Hooks.ReaddirAfter(tok, names)
	}
	return fuse.OK
}

// ReleaseDir drops the directory handle's buffered listing.
func (d *Dispatcher) ReleaseDir(input *fuse.ReleaseIn) {
	d.dropDirHandle(input.Fh)
}

// FsyncDir has nothing to flush for a pass-through directory listing.
func (d *Dispatcher) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}
