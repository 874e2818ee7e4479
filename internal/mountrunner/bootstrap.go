package mountrunner

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/chordtoll/posinvck-go/fs"
	"github.com/chordtoll/posinvck-go/internal/inodemap"
	"github.com/chordtoll/posinvck-go/internal/persist"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// bootstrapShadowModel implements SPEC_FULL.md §3.2's model-creation rule:
// load a persisted session if its sentinel survives deletion, otherwise walk
// the base directory and seed the shadow model from what is already there.
// Without this, mounting over any non-empty base directory with no prior
// session would fatal-abort on the first successful lookup of a pre-existing
// entry, since the invariant hooks assert every observed inode already has a
// shadow record.
func bootstrapShadowModel(base string, model *shadow.Model, persistEnabled bool) error {
	if persistEnabled && persist.SentinelExists(base) {
		return loadShadowModel(base, model)
	}
	return walkBaseDirectory(base, model)
}

// walkBaseDirectory recursively stats every entry under base and installs
// it into model's tables, assigning inode 1 to root and the kernel's own
// inode number to everything else, per SPEC_FULL.md §3.2.
func walkBaseDirectory(base string, model *shadow.Model) error {
	rootFi, err := os.Lstat(base)
	if err != nil {
		return fmt.Errorf("stat base directory %q: %w", base, err)
	}
	model.SetAttr(inodemap.RootInode, fs.StatToAttr(inodemap.RootInode, rootFi))
	seedXattrs(base, inodemap.RootInode, model)

	return filepath.Walk(base, func(absPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if absPath == base {
			return nil
		}

		rel, err := filepath.Rel(base, absPath)
		if err != nil {
			return fmt.Errorf("relativizing %q against base %q: %w", absPath, base, err)
		}
		rel = filepath.ToSlash(rel)

		ino := fs.HostIno(info)
		model.InodePaths.Insert(ino, rel)
		model.InvInodePaths.Insert(ino, rel)
		model.SetAttr(ino, fs.StatToAttr(ino, info))

		parentRel := filepath.ToSlash(filepath.Dir(rel))
		if parentRel == "." {
			parentRel = ""
		}
		parentIno, ok := model.InodePaths.Lookup(parentRel)
		if !ok {
			parentIno = inodemap.RootInode
		}
		model.SetDirEntry(parentIno, filepath.Base(rel), ino)

		if info.Mode().IsRegular() {
			if data, readErr := os.ReadFile(absPath); readErr == nil {
				model.SetData(ino, data)
			}
		}
		seedXattrs(absPath, ino, model)

		return nil
	})
}

// seedXattrs installs path's current extended attributes into model for
// ino, silently skipping any that can't be listed or read (e.g. a
// filesystem without xattr support).
func seedXattrs(path string, ino uint64, model *shadow.Model) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil || size == 0 {
		return
	}
	namesBuf := make([]byte, size)
	n, err := unix.Llistxattr(path, namesBuf)
	if err != nil {
		return
	}
	for _, name := range splitXattrNames(namesBuf[:n]) {
		valSize, err := unix.Lgetxattr(path, name, nil)
		if err != nil || valSize == 0 {
			continue
		}
		val := make([]byte, valSize)
		if n, err := unix.Lgetxattr(path, name, val); err == nil {
			model.SetXattr(ino, name, val[:n])
		}
	}
}

func splitXattrNames(buf []byte) []string {
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
