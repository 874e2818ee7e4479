package shadow

// LinkToken snapshots the state needed to check a hard-link creation.
type LinkToken struct {
	Token
	TargetIno    uint64
	NewParentIno uint64
	NewParentPath string
	NewName      string
	NewPath      string
	PredictedErr error
}

// LinkBefore snapshots the link target and the predicted permission
// verdict for creating NewName under NewParentIno.
func (h *Hooks) LinkBefore(targetIno, newParentIno uint64, newParentPath, newName string, predictedErr error) LinkToken {
	return LinkToken{
		Token:         Token{CallID: h.NextCallID(), Op: "link"},
		TargetIno:     targetIno,
		NewParentIno:  newParentIno,
		NewParentPath: newParentPath,
		NewName:       newName,
		NewPath:       joinPath(newParentPath, newName),
		PredictedErr:  predictedErr,
	}
}

// LinkAfter asserts a successful link incremented nlink by exactly one and
// records the new path alias; a failure is checked against the predictor.
func (h *Hooks) LinkAfter(tok LinkToken, observed FileAttr, err error) {
	if err != nil {
		assertf(tok.PredictedErr != nil, tok.CallID, tok.Op, "link failed but nothing predicted a failure", tok.PredictedErr, err)
		return
	}

	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "link succeeded despite predicted error", tok.PredictedErr, nil)

	before, hadBefore := h.Model.Attr(tok.TargetIno)
	if hadBefore {
		assertf(observed.Nlink == before.Nlink+1, tok.CallID, tok.Op, "nlink did not increase by one", before.Nlink+1, observed.Nlink)
	}

	h.Model.InodePaths.Insert(tok.TargetIno, tok.NewPath)
	h.Model.InvInodePaths.Insert(tok.TargetIno, tok.NewPath)
	h.Model.SetAttr(tok.TargetIno, observed)
	h.Model.SetDirEntry(tok.NewParentIno, tok.NewName, tok.TargetIno)
}
