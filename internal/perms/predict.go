package perms

import (
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// Access identifies why a path is being checked, matching SPEC_FULL.md §4.3.
type Access int

const (
	AccessLookup Access = iota
	AccessCreate
	AccessChmod
	AccessChown
	AccessChgrp
	AccessWrite
	AccessDelete
)

const (
	bitExecute = 1
	bitWrite   = 2
	bitRead    = 4
)

// AttrLookup resolves a relative path to its predicted FileAttr, returning
// ok=false if the shadow model has no record of it (treated as ENOENT by
// callers).
type AttrLookup func(path string) (shadow.FileAttr, bool)

// Request is the (uid, gid, supplementary groups) triple a predicted
// operation runs under, plus whatever extra identifier the access kind
// needs (new owner for Chown, new group for Chgrp).
type Request struct {
	UID    uint32
	GID    uint32
	Groups []uint32
	NewUID uint32
	NewGID uint32
}

// Predict returns the errno the kernel should produce for req performing
// access against target (relative to the mount base), or nil if the
// operation should succeed. lookup resolves any path (ancestor or target) to
// its predicted attributes.
func Predict(req Request, target string, access Access, lookup AttrLookup) error {
	if req.UID == 0 {
		return nil
	}

	if err := checkTraversal(req, target, lookup); err != nil {
		return err
	}

	attr, exists := lookup(target)

	switch access {
	case AccessLookup:
		return nil

	case AccessCreate:
		parent, parentAttr, parentExists := parentOf(target, lookup)
		if !parentExists {
			return syscall.ENOENT
		}
		if !classAllows(req, parentAttr, bitWrite) {
			return syscall.EACCES
		}
		if exists && parentAttr.Perm&shadow.ModeSticky != 0 {
			if attr.UID != req.UID && parentAttr.UID != req.UID {
				return syscall.EPERM
			}
		}
		return nil

	case AccessDelete:
		parent, parentAttr, parentExists := parentOf(target, lookup)
		if !parentExists {
			return syscall.ENOENT
		}
		if !classAllows(req, parentAttr, bitWrite) {
			return syscall.EACCES
		}
		if !exists {
			return syscall.ENOENT
		}
		if parentAttr.Perm&shadow.ModeSticky != 0 {
			if attr.UID != req.UID && parentAttr.UID != req.UID {
				return syscall.EPERM
			}
		}
		_ = parent
		return nil

	case AccessWrite:
		if !exists {
			return syscall.ENOENT
		}
		if !classAllows(req, attr, bitWrite) {
			return syscall.EACCES
		}
		return nil

	case AccessChmod:
		if !exists {
			return syscall.ENOENT
		}
		if attr.UID != req.UID {
			return syscall.EPERM
		}
		return nil

	case AccessChown:
		if !exists {
			return syscall.ENOENT
		}
		if attr.UID == req.UID && req.NewUID == attr.UID {
			return nil
		}
		return syscall.EPERM

	case AccessChgrp:
		if !exists {
			return syscall.ENOENT
		}
		if attr.UID == req.UID && inGroup(req, req.NewGID) {
			return nil
		}
		return syscall.EPERM

	default:
		return nil
	}
}

// checkTraversal requires the execute bit along every ancestor of target up
// to (but not including) the base directory, per SPEC_FULL.md §4.3 step 2.
func checkTraversal(req Request, target string, lookup AttrLookup) error {
	dir := filepath.Dir(target)
	if dir == "." || dir == "/" {
		return nil
	}

	segments := strings.Split(filepath.ToSlash(dir), "/")
	var cur string
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if cur == "" {
			cur = seg
		} else {
			cur = cur + "/" + seg
		}
		attr, ok := lookup(cur)
		if !ok {
			return syscall.ENOENT
		}
		if !classAllows(req, attr, bitExecute) {
			return syscall.EACCES
		}
	}
	return nil
}

func parentOf(target string, lookup AttrLookup) (string, shadow.FileAttr, bool) {
	dir := filepath.Dir(target)
	if dir == "." {
		dir = ""
	}
	attr, ok := lookup(dir)
	return dir, attr, ok
}

func inGroup(req Request, gid uint32) bool {
	if req.GID == gid {
		return true
	}
	for _, g := range req.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// classAllows reports whether req's effective class (owner/group/other)
// against attr has the requested bit set, per SPEC_FULL.md §4.3's class
// selection rule.
func classAllows(req Request, attr shadow.FileAttr, bit uint16) bool {
	var shift uint16
	switch {
	case attr.UID == req.UID:
		shift = 6
	case attr.GID == req.GID || inGroup(req, attr.GID):
		shift = 3
	default:
		shift = 0
	}
	return attr.Perm&(bit<<shift) != 0
}
