package fs

import (
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/chordtoll/posinvck-go/internal/perms"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

// bsdOnlySetattrBits are the macOS/BSD setattr fields the FUSE wire protocol
// defines (crtime, chgtime, bkuptime, flags) that this filesystem's shadow
// model does not predict, per SPEC_FULL.md §9 open question (a): a setattr
// request touching any of them is rejected with ENOSYS rather than silently
// accepted.
const bsdOnlySetattrBits = 1<<28 | 1<<29 | 1<<30 | 1<<31

// SetAttr applies a chmod/chown/truncate/utimens request, predicting the
// expected outcome before the syscall and cross-checking the observed
// attributes against the shadow model afterward.
func (d *Dispatcher) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	d.Model.Mu.Lock()
	defer d.Model.Mu.Unlock()

	path := d.pathFor(input.NodeId)
	target := d.abs(path)
	req := requestFor(input.Caller)
	lookup := d.attrLookup()

	fields := shadow.SetattrFields{HasBSDOnly: input.Valid&bsdOnlySetattrBits != 0}

	var predicted error
	if input.Valid&fuse.FATTR_MODE != 0 {
		mode := uint16(input.Mode & 0o7777)
		fields.Mode = &mode
		predicted = firstErr(predicted, perms.Predict(req, path, perms.AccessChmod, lookup))
	}
	if input.Valid&fuse.FATTR_UID != 0 {
		uid := input.Uid
		fields.UID = &uid
		predicted = firstErr(predicted, perms.Predict(mergeNewUID(req, uid), path, perms.AccessChown, lookup))
	}
	if input.Valid&fuse.FATTR_GID != 0 {
		gid := input.Gid
		fields.GID = &gid
		predicted = firstErr(predicted, perms.Predict(mergeNewGID(req, gid), path, perms.AccessChgrp, lookup))
	}
	if input.Valid&fuse.FATTR_SIZE != 0 {
		size := input.Size
		fields.Size = &size
		predicted = firstErr(predicted, perms.Predict(req, path, perms.AccessWrite, lookup))
	}

	groups, _ := perms.SupplementaryGroups(input.Caller.Pid)
	tok := d.Hooks.SetattrBefore(input.NodeId, fields, input.Caller.Uid, input.Caller.Gid, groups, predicted)

	if fields.HasBSDOnly {
		d.Hooks.SetattrAfter(tok, shadow.FileAttr{}, syscall.ENOSYS)
		return fuse.ToStatus(syscall.ENOSYS)
	}

	applyErr := withIdentity(input.Caller, func() error {
		return d.applySetattr(target, input)
	})
	ino, attr, statErr := d.lookupAttr(path)
	if applyErr == nil {
		applyErr = statErr
	}
	d.Hooks.SetattrAfter(tok, attr, applyErr)
	if applyErr != nil {
		return fuse.ToStatus(errnoOf(applyErr))
	}
	fillAttrOut(attr, &out.Attr)
	_ = ino
	return fuse.OK
}

func (d *Dispatcher) applySetattr(target string, input *fuse.SetAttrIn) error {
	if input.Valid&fuse.FATTR_MODE != 0 {
		if err := os.Chmod(target, os.FileMode(input.Mode&0o7777)); err != nil {
			return err
		}
	}
	if input.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		uid, gid := -1, -1
		if input.Valid&fuse.FATTR_UID != 0 {
			uid = int(input.Uid)
		}
		if input.Valid&fuse.FATTR_GID != 0 {
			gid = int(input.Gid)
		}
		if err := os.Chown(target, uid, gid); err != nil {
			return err
		}
	}
	if input.Valid&fuse.FATTR_SIZE != 0 {
		if err := os.Truncate(target, int64(input.Size)); err != nil {
			return err
		}
	}
	return nil
}

func firstErr(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}

func mergeNewUID(req perms.Request, newUID uint32) perms.Request {
	req.NewUID = newUID
	return req
}

func mergeNewGID(req perms.Request, newGID uint32) perms.Request {
	req.NewGID = newGID
	return req
}
