package perms

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readProcGroups parses the "Groups:" line of /proc/<pid>/status. This is
// the one place this package talks to procfs; SPEC_FULL.md §1 calls this out
// as an external collaborator rather than something worth a rich abstraction.
func readProcGroups(pid uint32) ([]uint32, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Groups:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Groups:"))
		groups := make([]uint32, 0, len(fields))
		for _, field := range fields {
			g, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("parsing group id %q: %w", field, err)
			}
			groups = append(groups, uint32(g))
		}
		return groups, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
