package shadow

// CreateToken snapshots the predicted outcome of a create/mknod/mkdir/symlink
// call, per SPEC_FULL.md §4.4's "create / mknod / symlink / mkdir" rule.
type CreateToken struct {
	Token
	ParentIno    uint64
	ParentPath   string
	Name         string
	Path         string
	NameTooLong  bool
	ParentExists bool
	PredictedErr error
	Kind         Kind
	RequestedMode uint16
	UID, GID     uint32
}

// CreateBefore snapshots name-length and parent-existence, which together
// with the permission predictor's verdict (passed in as predictedErr)
// determine what a successful reply is allowed to look like.
func (h *Hooks) CreateBefore(op string, parentIno uint64, parentPath, name string, kind Kind, mode uint16, uid, gid uint32, predictedErr error) CreateToken {
	_, parentExists := h.Model.Attr(parentIno)
	return CreateToken{
		Token:         Token{CallID: h.NextCallID(), Op: op},
		ParentIno:     parentIno,
		ParentPath:    parentPath,
		Name:          name,
		Path:          joinPath(parentPath, name),
		NameTooLong:   len(name) > MaxNameLength,
		ParentExists:  parentExists || parentIno == 1,
		PredictedErr:  predictedErr,
		Kind:          kind,
		RequestedMode: mode,
		UID:           uid,
		GID:           gid,
	}
}

// CreateAfter asserts a successful create obeyed every precondition and
// records the new inode in the shadow model; a failed create is checked
// against the permission predictor's verdict.
func (h *Hooks) CreateAfter(tok CreateToken, childIno uint64, observed FileAttr, err error) {
	if err != nil {
		assertf(tok.PredictedErr != nil || tok.NameTooLong, tok.CallID, tok.Op,
			"create failed but nothing predicted a failure", tok.PredictedErr, err)
		return
	}

	assertf(!tok.NameTooLong, tok.CallID, tok.Op, "create succeeded despite name too long", tok.NameTooLong, false)
	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "create succeeded despite predicted error", tok.PredictedErr, nil)
	assertf(tok.ParentExists, tok.CallID, tok.Op, "create succeeded with missing parent", tok.ParentExists, true)

	expectedNlink := uint32(1)
	if tok.Kind == Directory {
		expectedNlink = 2
	}
	expected := FileAttr{
		Inode: childIno,
		Kind:  tok.Kind,
		Perm:  tok.RequestedMode & 0o7777,
		Nlink: expectedNlink,
		UID:   tok.UID,
		GID:   tok.GID,
	}
	assertf(expected.Kind == observed.Kind, tok.CallID, tok.Op, "kind mismatch", expected.Kind, observed.Kind)
	assertf(expected.Perm == observed.Perm, tok.CallID, tok.Op, "permission bits mismatch", expected.Perm, observed.Perm)
	assertf(expected.Nlink == observed.Nlink, tok.CallID, tok.Op, "nlink mismatch", expected.Nlink, observed.Nlink)
	assertf(expected.UID == observed.UID, tok.CallID, tok.Op, "uid mismatch", expected.UID, observed.UID)
	assertf(expected.GID == observed.GID, tok.CallID, tok.Op, "gid mismatch", expected.GID, observed.GID)

	h.Model.InodePaths.Insert(childIno, tok.Path)
	h.Model.InvInodePaths.Insert(childIno, tok.Path)
	h.Model.SetAttr(childIno, observed)
	h.Model.SetDirEntry(tok.ParentIno, tok.Name, childIno)
}
