package shadow

import "syscall"

// SetattrFields is the subset of attributes a setattr request supplies, used
// to decide what the After hook should recompute. This implementation
// follows the original's src/fs/setattr.rs (SPEC_FULL.md §9, open question
// (a)): only Mode/UID/GID/Size are predicted; timestamps are never compared. BSD-only fields
// (crtime/chgtime/bkuptime/flags) are not modeled — a request touching them
// is rejected with ENOSYS rather than silently accepted.
type SetattrFields struct {
	Mode  *uint16
	UID   *uint32
	GID   *uint32
	Size  *uint64
	HasBSDOnly bool
}

// SetattrToken snapshots the inode's predicted attributes before the
// syscall, along with the caller's (uid, sgids) for the setgid-clearing
// rule.
type SetattrToken struct {
	Token
	Ino          uint64
	Before       FileAttr
	HadBefore    bool
	Fields       SetattrFields
	CallerUID    uint32
	CallerGID    uint32
	CallerGroups []uint32
	PredictedErr error
}

// SetattrBefore snapshots the inode's current predicted attributes.
func (h *Hooks) SetattrBefore(ino uint64, fields SetattrFields, callerUID, callerGID uint32, callerGroups []uint32, predictedErr error) SetattrToken {
	before, had := h.Model.Attr(ino)
	return SetattrToken{
		Token:        Token{CallID: h.NextCallID(), Op: "setattr"},
		Ino:          ino,
		Before:       before,
		HadBefore:    had,
		Fields:       fields,
		CallerUID:    callerUID,
		CallerGID:    callerGID,
		CallerGroups: callerGroups,
		PredictedErr: predictedErr,
	}
}

// SetattrAfter applies the requested fields to the shadow's predicted
// attributes and enforces the setgid-clearing rule: if the caller is not
// root, not the file's group owner, and not a supplementary member of that
// group, the setgid bit is cleared from the resulting mode (SPEC_FULL.md
// §4.4).
func (h *Hooks) SetattrAfter(tok SetattrToken, observed FileAttr, err error) {
	if tok.Fields.HasBSDOnly {
		assertf(err == syscall.ENOSYS, tok.CallID, tok.Op,
			"setattr touching BSD-only fields must be rejected with ENOSYS", syscall.ENOSYS, err)
		return
	}

	if err != nil {
		assertf(tok.PredictedErr != nil, tok.CallID, tok.Op, "setattr failed but nothing predicted a failure", tok.PredictedErr, err)
		return
	}
	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "setattr succeeded despite predicted error", tok.PredictedErr, nil)

	expected := tok.Before
	if tok.Fields.Mode != nil {
		mode := *tok.Fields.Mode
		if tok.CallerUID != 0 && expected.GID != tok.CallerGID && !uint32InSlice(tok.CallerGroups, expected.GID) {
			mode &^= ModeSetgid
		}
		expected.Perm = mode
	}
	if tok.Fields.UID != nil {
		expected.UID = *tok.Fields.UID
	}
	if tok.Fields.GID != nil {
		expected.GID = *tok.Fields.GID
	}
	if tok.Fields.Size != nil {
		expected.Size = *tok.Fields.Size
	}

	assertf(expected.EqualIgnoringTimes(observed), tok.CallID, tok.Op,
		"observed post-setattr attributes differ from prediction", expected, observed)

	h.Model.SetAttr(tok.Ino, observed)
}

func uint32InSlice(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
