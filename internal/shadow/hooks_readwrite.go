package shadow

// ReadToken snapshots the predicted byte range for a read, per
// SPEC_FULL.md §4.4's "read" rule and §8's round-trip invariant.
type ReadToken struct {
	Token
	Ino      uint64
	Offset   int64
	Size     int
	Expected []byte
}

// ReadBefore computes the expected slice of shadow data a read should
// return, truncated to the recorded length.
func (h *Hooks) ReadBefore(ino uint64, offset int64, size int) ReadToken {
	data := h.Model.Data(ino)
	var expected []byte
	if offset >= 0 && int(offset) < len(data) {
		end := int(offset) + size
		if end > len(data) {
			end = len(data)
		}
		expected = append([]byte(nil), data[offset:end]...)
	}
	return ReadToken{
		Token:    Token{CallID: h.NextCallID(), Op: "read"},
		Ino:      ino,
		Offset:   offset,
		Size:     size,
		Expected: expected,
	}
}

// ReadAfter asserts the observed bytes equal the shadow's prediction when
// data-checking is enabled (Expected is nil, meaning "no opinion", when it
// is not).
func (h *Hooks) ReadAfter(tok ReadToken, observed []byte, err error) {
	if err != nil || tok.Expected == nil {
		return
	}
	assertf(bytesEqual(tok.Expected, observed), tok.CallID, tok.Op,
		"read bytes differ from shadow contents", tok.Expected, observed)
}

// WriteToken snapshots the inode, offset and payload of a write so After can
// splice it into the shadow data (SPEC_FULL.md §4.4's "write" rule).
type WriteToken struct {
	Token
	Ino    uint64
	Offset int64
	Data   []byte
}

// WriteBefore snapshots the inode and payload being written.
func (h *Hooks) WriteBefore(ino uint64, offset int64, data []byte) WriteToken {
	return WriteToken{
		Token:  Token{CallID: h.NextCallID(), Op: "write"},
		Ino:    ino,
		Offset: offset,
		Data:   append([]byte(nil), data...),
	}
}

// WriteAfter splices tok.Data into the shadow's byte vector at tok.Offset,
// growing it if necessary, and updates the predicted size.
func (h *Hooks) WriteAfter(tok WriteToken, written uint32, err error) {
	if err != nil {
		return
	}
	assertf(int(written) == len(tok.Data), tok.CallID, tok.Op,
		"short write not reflected in shadow update logic", len(tok.Data), written)

	existing := h.Model.Data(tok.Ino)
	end := int(tok.Offset) + len(tok.Data)
	if end > len(existing) {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[tok.Offset:], tok.Data)
	h.Model.SetData(tok.Ino, existing)

	if attr, ok := h.Model.Attr(tok.Ino); ok {
		if uint64(end) > attr.Size {
			attr.Size = uint64(end)
			h.Model.SetAttr(tok.Ino, attr)
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
