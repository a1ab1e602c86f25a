package vfs

import (
	"fmt"
	"strings"
)

// CycleMode selects what the observation engine does when it encounters a
// composite value it is already observing on the current containment chain.
type CycleMode int

const (
	// CycleSymlink materializes the back-reference as a relative symlink
	// to the node already observing the value. Default.
	CycleSymlink CycleMode = iota

	// CycleDrop omits the back-reference from the tree.
	CycleDrop

	// CycleNone disables detection. Each occurrence gets its own subtree;
	// a true reference cycle then grows without bound as it is walked.
	CycleNone
)

func (m CycleMode) String() string {
	switch m {
	case CycleSymlink:
		return "symlink"
	case CycleDrop:
		return "drop"
	case CycleNone:
		return "none"
	default:
		return fmt.Sprintf("CycleMode(%d)", int(m))
	}
}

// ParseCycleMode converts a configuration word to a mode.
func ParseCycleMode(s string) (CycleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "symlink", "":
		return CycleSymlink, nil
	case "drop":
		return CycleDrop, nil
	case "none":
		return CycleNone, nil
	default:
		return CycleSymlink, fmt.Errorf("unknown cycle mode %q", s)
	}
}

// relativePath computes the path of target relative to the directory that
// will contain the symlink. Both arguments are absolute tree paths.
func relativePath(fromDir, target string) string {
	if fromDir == target {
		return selfEntry
	}
	fromParts := splitPath(fromDir)
	targetParts := splitPath(target)

	common := 0
	for common < len(fromParts) && common < len(targetParts) && fromParts[common] == targetParts[common] {
		common++
	}

	var b strings.Builder
	for i := common; i < len(fromParts); i++ {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(parentEntry)
	}
	for i := common; i < len(targetParts); i++ {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(targetParts[i])
	}
	if b.Len() == 0 {
		return selfEntry
	}
	return b.String()
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
