package perms_test

import (
	"syscall"
	"testing"

	"github.com/chordtoll/posinvck-go/internal/perms"
	"github.com/chordtoll/posinvck-go/internal/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PredictTest struct {
	suite.Suite
	attrs map[string]shadow.FileAttr
}

func TestPredictSuite(t *testing.T) {
	suite.Run(t, new(PredictTest))
}

func (t *PredictTest) SetupTest() {
	t.attrs = map[string]shadow.FileAttr{
		"":        {Kind: shadow.Directory, Perm: 0o755, UID: 0, GID: 0},
		"d":       {Kind: shadow.Directory, Perm: 0o755, UID: 1000, GID: 1000},
		"d/f":     {Kind: shadow.RegularFile, Perm: 0o644, UID: 1000, GID: 1000},
		"sticky":  {Kind: shadow.Directory, Perm: 0o777 | shadow.ModeSticky, UID: 0, GID: 0},
		"sticky/f": {Kind: shadow.RegularFile, Perm: 0o666, UID: 2000, GID: 2000},
	}
}

func (t *PredictTest) lookup(path string) (shadow.FileAttr, bool) {
	a, ok := t.attrs[path]
	return a, ok
}

func (t *PredictTest) TestRootBypassesEverything() {
	req := perms.Request{UID: 0, GID: 0}
	err := perms.Predict(req, "sticky/f", perms.AccessDelete, t.lookup)
	assert.NoError(t.T(), err)
}

func (t *PredictTest) TestOwnerCanWriteOwnFile() {
	req := perms.Request{UID: 1000, GID: 1000}
	err := perms.Predict(req, "d/f", perms.AccessWrite, t.lookup)
	assert.NoError(t.T(), err)
}

func (t *PredictTest) TestNonOwnerCannotWrite() {
	req := perms.Request{UID: 1001, GID: 1001}
	err := perms.Predict(req, "d/f", perms.AccessWrite, t.lookup)
	assert.ErrorIs(t.T(), err, syscall.EACCES)
}

func (t *PredictTest) TestStickyBitBlocksDeleteByNonOwner() {
	req := perms.Request{UID: 1000, GID: 1000}
	err := perms.Predict(req, "sticky/f", perms.AccessDelete, t.lookup)
	assert.ErrorIs(t.T(), err, syscall.EPERM)
}

func (t *PredictTest) TestStickyBitAllowsDeleteByFileOwner() {
	req := perms.Request{UID: 2000, GID: 2000}
	err := perms.Predict(req, "sticky/f", perms.AccessDelete, t.lookup)
	assert.NoError(t.T(), err)
}

func (t *PredictTest) TestChownRequiresRootUnlessNoop() {
	req := perms.Request{UID: 1000, GID: 1000, NewUID: 1000}
	assert.NoError(t.T(), perms.Predict(req, "d/f", perms.AccessChown, t.lookup))

	req.NewUID = 1001
	assert.ErrorIs(t.T(), perms.Predict(req, "d/f", perms.AccessChown, t.lookup), syscall.EPERM)
}

func (t *PredictTest) TestChgrpAllowsOwnerMovingToSupplementaryGroup() {
	req := perms.Request{UID: 1000, GID: 1000, Groups: []uint32{1000, 1500}, NewGID: 1500}
	assert.NoError(t.T(), perms.Predict(req, "d/f", perms.AccessChgrp, t.lookup))
}

func (t *PredictTest) TestLookupMissingAncestorIsENOENT() {
	req := perms.Request{UID: 1000, GID: 1000}
	err := perms.Predict(req, "missing/f", perms.AccessWrite, t.lookup)
	assert.ErrorIs(t.T(), err, syscall.ENOENT)
}
