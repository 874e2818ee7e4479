package shadow

// ReaddirToken snapshots the expected child name set of a directory, for
// comparison against what a full readdir pass observes. The dispatcher only
// calls this once a directory listing is complete (SPEC_FULL.md §4.4's
// "dirs" rule), not per individual getdents(2) batch.
type ReaddirToken struct {
	Token
	Ino      uint64
	Expected map[string]uint64
}

// ReaddirBefore snapshots dir's predicted listing, if directory checking is
// enabled.
func (h *Hooks) ReaddirBefore(ino uint64) ReaddirToken {
	return ReaddirToken{Token: Token{CallID: h.NextCallID(), Op: "readdir"}, Ino: ino, Expected: h.Model.DirEntries(ino)}
}

// ReaddirAfter asserts the observed name set matches the shadow's predicted
// listing, ignoring order, when the model has an opinion about dir.
func (h *Hooks) ReaddirAfter(tok ReaddirToken, observed []string) {
	if tok.Expected == nil {
		return
	}
	names := make([]string, 0, len(tok.Expected))
	for n := range tok.Expected {
		names = append(names, n)
	}
	assertf(sameStringSet(names, observed), tok.CallID, tok.Op,
		"observed directory listing differs from shadow", names, observed)
}
