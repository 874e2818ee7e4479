// Package perms implements the POSIX identity switcher and permission
// predictor: deciding which uid/gid/supplementary-groups a syscall should run
// under, and what errno the kernel should produce for a given access
// attempt.
package perms

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MyUserAndGroup returns the current process's effective uid and gid.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	return uint32(os.Geteuid()), uint32(os.Getegid()), nil
}

// SupplementaryGroups returns the supplementary group IDs of the process
// identified by pid, read from /proc/<pid>/status. Reading proc is treated
// as an external collaborator per SPEC_FULL.md §1: this function's body is
// intentionally thin.
func SupplementaryGroups(pid uint32) ([]uint32, error) {
	groups, err := readProcGroups(pid)
	if err != nil {
		return nil, fmt.Errorf("reading supplementary groups for pid %d: %w", pid, err)
	}
	return groups, nil
}

// SavedIDs captures the process identity in effect before SetIDs ran, so
// RestoreIDs can put it back exactly.
type SavedIDs struct {
	uid    int
	gid    int
	groups []int
	umask  int
	hadUmask bool
}

// SetIDs temporarily assumes the caller's effective uid/gid/supplementary
// groups (and umask, if umaskSet) around a single syscall. Order matters:
// supplementary groups are installed first, then egid, then euid, mirroring
// the original's ids.rs (setting groups and egid needs the privilege the
// current euid carries, so euid is dropped last). Any failure here is fatal: a partially applied
// identity switch would silently corrupt every following permission check
// (SPEC_FULL.md §4.1, §7).
func SetIDs(uid, gid uint32, pid uint32, umask int, umaskSet bool) (*SavedIDs, error) {
	saved := &SavedIDs{}

	savedUID, savedGID, err := MyUserAndGroup()
	if err != nil {
		fatalf("perms: capture current ids: %v", err)
	}
	saved.uid, saved.gid = int(savedUID), int(savedGID)

	savedGroups, err := unix.Getgroups()
	if err != nil {
		fatalf("perms: getgroups: %v", err)
	}
	saved.groups = savedGroups

	groups, err := SupplementaryGroups(pid)
	if err != nil {
		fatalf("perms: supplementary groups for pid %d: %v", pid, err)
	}
	groupsInt := make([]int, len(groups))
	for i, g := range groups {
		groupsInt[i] = int(g)
	}
	if err := unix.Setgroups(groupsInt); err != nil {
		fatalf("perms: setgroups(%v): %v", groupsInt, err)
	}

	if err := unix.Setresgid(-1, int(gid), -1); err != nil {
		fatalf("perms: setresgid(%d): %v", gid, err)
	}
	if err := unix.Setresuid(-1, int(uid), -1); err != nil {
		fatalf("perms: setresuid(%d): %v", uid, err)
	}

	if umaskSet {
		saved.hadUmask = true
		saved.umask = unix.Umask(umask)
	}

	return saved, nil
}

// RestoreIDs reverses a prior SetIDs call in strict reverse order: umask,
// then euid, then egid, then supplementary groups. As with SetIDs, any
// failure is fatal.
func RestoreIDs(saved *SavedIDs) {
	if saved.hadUmask {
		unix.Umask(saved.umask)
	}
	if err := unix.Setresuid(-1, saved.uid, -1); err != nil {
		fatalf("perms: restore setresuid(%d): %v", saved.uid, err)
	}
	if err := unix.Setresgid(-1, saved.gid, -1); err != nil {
		fatalf("perms: restore setresgid(%d): %v", saved.gid, err)
	}
	groups := saved.groups
	if groups == nil {
		groups = []int{}
	}
	if err := unix.Setgroups(groups); err != nil {
		fatalf("perms: restore setgroups(%v): %v", groups, err)
	}
}

// fatalFunc is overridden in tests so RestoreIDs/SetIDs failures can be
// observed instead of killing the test binary.
var fatalFunc = func(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}

func fatalf(format string, args ...any) {
	fatalFunc(format, args...)
}
