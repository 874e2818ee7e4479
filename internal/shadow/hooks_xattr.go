package shadow

// Xattr invariant checking is not specified by the original (stubbed out
// there with compile_error!; SPEC_FULL.md §9, open question (b)). This
// implementation designs it fresh: getxattr/listxattr assert equality
// against the shadow's recorded name->bytes map, while setxattr/removexattr
// only update that map. No Access kind in internal/perms covers xattr
// operations, so these hooks never consult the permission predictor.

// GetxattrToken snapshots the expected value for a named xattr.
type GetxattrToken struct {
	Token
	Ino      uint64
	Name     string
	Expected []byte
	HasEntry bool
}

// GetxattrBefore looks up the expected xattr value, if xattr checking is
// enabled and the model has a recorded value.
func (h *Hooks) GetxattrBefore(ino uint64, name string) GetxattrToken {
	entries := h.Model.Xattrs(ino)
	val, ok := entries[name]
	return GetxattrToken{
		Token:    Token{CallID: h.NextCallID(), Op: "getxattr"},
		Ino:      ino,
		Name:     name,
		Expected: val,
		HasEntry: ok,
	}
}

// GetxattrAfter asserts the observed value matches the shadow's recorded
// value when the model has an opinion.
func (h *Hooks) GetxattrAfter(tok GetxattrToken, observed []byte, err error) {
	if err != nil || !tok.HasEntry {
		return
	}
	assertf(bytesEqual(tok.Expected, observed), tok.CallID, tok.Op,
		"observed xattr value differs from shadow", tok.Expected, observed)
}

// SetxattrAfter updates the shadow's recorded value unconditionally
// on success; there is no precondition to snapshot.
func (h *Hooks) SetxattrAfter(ino uint64, name string, value []byte, err error) {
	if err != nil {
		return
	}
	h.Model.SetXattr(ino, name, value)
}

// RemovexattrAfter drops the shadow's recorded value on success.
func (h *Hooks) RemovexattrAfter(ino uint64, name string, err error) {
	if err != nil {
		return
	}
	h.Model.RemoveXattr(ino, name)
}

// ListxattrToken snapshots the expected set of xattr names.
type ListxattrToken struct {
	Token
	Ino      uint64
	Expected []string
}

// ListxattrBefore snapshots the expected xattr name set for ino.
func (h *Hooks) ListxattrBefore(ino uint64) ListxattrToken {
	entries := h.Model.Xattrs(ino)
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	return ListxattrToken{Token: Token{CallID: h.NextCallID(), Op: "listxattr"}, Ino: ino, Expected: names}
}

// ListxattrAfter asserts the observed name set matches the shadow's,
// ignoring order.
func (h *Hooks) ListxattrAfter(tok ListxattrToken, observed []string, err error) {
	if err != nil || h.Model.Xattrs(tok.Ino) == nil {
		return
	}
	assertf(sameStringSet(tok.Expected, observed), tok.CallID, tok.Op,
		"observed xattr name list differs from shadow", tok.Expected, observed)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}
