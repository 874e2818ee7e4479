package shadow

// UnlinkToken snapshots the state needed to check unlink/rmdir.
type UnlinkToken struct {
	Token
	ParentIno    uint64
	Name         string
	Path         string
	ChildIno     uint64
	ChildExisted bool
	WasEmptyDir  bool
	PredictedErr error
}

// UnlinkBefore snapshots the child being removed, whether the shadow knew
// it, and whether it was recorded as an empty directory (for rmdir).
func (h *Hooks) UnlinkBefore(op string, parentIno uint64, parentPath, name string, predictedErr error) UnlinkToken {
	path := joinPath(parentPath, name)
	ino, existed := h.Model.InvInodePaths.Lookup(path)
	emptyDir := true
	if existed {
		emptyDir = len(h.Model.DirEntries(ino)) == 0
	}
	return UnlinkToken{
		Token:        Token{CallID: h.NextCallID(), Op: op},
		ParentIno:    parentIno,
		Name:         name,
		Path:         path,
		ChildIno:     ino,
		ChildExisted: existed,
		WasEmptyDir:  emptyDir,
		PredictedErr: predictedErr,
	}
}

// UnlinkAfter decrements the removed inode's nlink; at zero it purges every
// shadow table entry for that inode. rmdir callers additionally assert the
// directory was recorded empty before the call succeeded.
func (h *Hooks) UnlinkAfter(tok UnlinkToken, err error) {
	if err != nil {
		assertf(tok.PredictedErr != nil, tok.CallID, tok.Op, "unlink/rmdir failed but nothing predicted a failure", tok.PredictedErr, err)
		return
	}

	assertf(tok.ChildExisted, tok.CallID, tok.Op, "unlink/rmdir succeeded on unknown child", tok.ChildExisted, true)
	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "unlink/rmdir succeeded despite predicted error", tok.PredictedErr, nil)
	if tok.Op == "rmdir" {
		assertf(tok.WasEmptyDir, tok.CallID, tok.Op, "rmdir succeeded on non-empty directory", tok.WasEmptyDir, true)
	}

	h.Model.InodePaths.Remove(tok.Path)
	h.Model.InvInodePaths.Remove(tok.Path)
	h.Model.RemoveDirEntry(tok.ParentIno, tok.Name)

	remaining := h.Model.InvInodePaths.LinkCount(tok.ChildIno)
	if remaining == 0 {
		h.Model.ForgetAttr(tok.ChildIno)
		return
	}
	if attr, ok := h.Model.Attr(tok.ChildIno); ok {
		attr.Nlink = uint32(remaining)
		h.Model.SetAttr(tok.ChildIno, attr)
	}
}
