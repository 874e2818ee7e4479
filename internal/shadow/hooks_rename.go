package shadow

// RenameToken snapshots both endpoints of a rename so After can adjust the
// mapper (including subtree rewrite) and reclaim an overwritten target.
type RenameToken struct {
	Token
	OldParentIno  uint64
	OldName       string
	OldPath       string
	NewParentIno  uint64
	NewName       string
	NewPath       string
	SourceIno     uint64
	SourceExists  bool
	SourceIsDir   bool
	TargetIno     uint64
	TargetExisted bool
	PredictedErr  error
}

// RenameBefore snapshots both the source and any existing target of the
// rename, matching SPEC_FULL.md §4.4's "compute existence/permission/
// empty-ness on both sides" rule.
func (h *Hooks) RenameBefore(oldParentIno, newParentIno uint64, oldParentPath, oldName, newParentPath, newName string, predictedErr error) RenameToken {
	oldPath := joinPath(oldParentPath, oldName)
	newPath := joinPath(newParentPath, newName)

	srcIno, srcExists := h.Model.InvInodePaths.Lookup(oldPath)
	isDir := false
	if srcExists {
		if attr, ok := h.Model.Attr(srcIno); ok {
			isDir = attr.Kind == Directory
		}
	}
	tgtIno, tgtExisted := h.Model.InvInodePaths.Lookup(newPath)

	return RenameToken{
		Token:         Token{CallID: h.NextCallID(), Op: "rename"},
		OldParentIno:  oldParentIno,
		OldName:       oldName,
		OldPath:       oldPath,
		NewParentIno:  newParentIno,
		NewName:       newName,
		NewPath:       newPath,
		SourceIno:     srcIno,
		SourceExists:  srcExists,
		SourceIsDir:   isDir,
		TargetIno:     tgtIno,
		TargetExisted: tgtExisted,
		PredictedErr:  predictedErr,
	}
}

// RenameAfter rewrites the mapper (subtree-aware, via inodemap.Mapper.Rename)
// and, if a target was overwritten, decrements its nlink and reclaims it at
// zero, per SPEC_FULL.md §4.4/§9.
func (h *Hooks) RenameAfter(tok RenameToken, err error) {
	if err != nil {
		assertf(tok.PredictedErr != nil, tok.CallID, tok.Op, "rename failed but nothing predicted a failure", tok.PredictedErr, err)
		return
	}

	assertf(tok.SourceExists, tok.CallID, tok.Op, "rename succeeded on unknown source", tok.SourceExists, true)
	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "rename succeeded despite predicted error", tok.PredictedErr, nil)

	if tok.TargetExisted && tok.TargetIno != tok.SourceIno {
		remaining := h.Model.InvInodePaths.LinkCount(tok.TargetIno) - 1
		if remaining <= 0 {
			h.Model.ForgetAttr(tok.TargetIno)
		} else if attr, ok := h.Model.Attr(tok.TargetIno); ok {
			attr.Nlink = uint32(remaining)
			h.Model.SetAttr(tok.TargetIno, attr)
		}
	}

	h.Model.InodePaths.Rename(tok.OldPath, tok.NewPath)
	h.Model.InvInodePaths.Rename(tok.OldPath, tok.NewPath)
	h.Model.RemoveDirEntry(tok.OldParentIno, tok.OldName)
	h.Model.SetDirEntry(tok.NewParentIno, tok.NewName, tok.SourceIno)
}
