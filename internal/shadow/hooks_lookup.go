package shadow

import "syscall"

// LookupToken is the snapshot taken before a lookup/getattr syscall runs.
type LookupToken struct {
	Token
	Path         string
	PredictedErr error
	ChildIno     uint64
	ChildExists  bool
}

// LookupBefore snapshots whether a child is expected to exist under parent
// and what the permission predictor expects, per SPEC_FULL.md §4.4's
// "lookup / getattr" rule.
func (h *Hooks) LookupBefore(op, parentPath, name string, predicted error) LookupToken {
	path := joinPath(parentPath, name)
	ino, exists := h.Model.InvInodePaths.Lookup(path)
	return LookupToken{
		Token:        Token{CallID: h.NextCallID(), Op: op},
		Path:         path,
		PredictedErr: predicted,
		ChildIno:     ino,
		ChildExists:  exists,
	}
}

// LookupAfter asserts that a successful lookup/getattr's observed attribute
// matches the shadow model's, ignoring timestamps, and that errors agree
// with the permission predictor's prediction.
func (h *Hooks) LookupAfter(tok LookupToken, observedIno uint64, observed FileAttr, err error) {
	if err != nil {
		assertf(tok.PredictedErr == err || errnoEquivalent(tok.PredictedErr, err), tok.CallID, tok.Op,
			"permission predictor disagreed with observed error", tok.PredictedErr, err)
		return
	}

	assertf(tok.ChildExists, tok.CallID, tok.Op, "syscall succeeded but shadow had no record of child", tok.ChildExists, true)
	assertf(tok.PredictedErr == nil, tok.CallID, tok.Op, "syscall succeeded despite predicted error", tok.PredictedErr, nil)

	expected, ok := h.Model.Attr(observedIno)
	if ok {
		assertf(expected.EqualIgnoringTimes(observed), tok.CallID, tok.Op,
			"observed attributes differ from shadow model", expected, observed)
	}
}

func errnoEquivalent(predicted, observed error) bool {
	pe, pok := predicted.(syscall.Errno)
	oe, ook := observed.(syscall.Errno)
	return pok && ook && pe == oe
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + "/" + name
}
