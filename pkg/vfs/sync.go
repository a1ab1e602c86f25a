package vfs

import (
	"fmt"

	"github.com/marmos91/objectfs/internal/logger"
)

// syncPresent reconciles a directory with its resolved value. Lock held.
//
// The pass is a symmetric diff between the value's members and the
// directory's entries:
//
//   - entries with no matching member are destroyed, which is what retires
//     manually-created files that never became members
//   - members with no entry are materialized
//   - surviving leaf entries are re-rendered
//
// Child directories are not descended into; their own sync runs when they
// are read. A per-member failure skips that member and the pass goes on.
func (n *ObjectNode) syncPresent(v any) error {
	s := n.storage
	n.ensureReprLocked()

	members := enumerateMembers(v, n.cfg)
	want := make(map[string]struct{}, len(members))
	for _, name := range members {
		want[name] = struct{}{}
	}

	for _, name := range n.childNames() {
		if name == reprEntry {
			continue
		}
		if _, claimed := want[name]; claimed {
			continue
		}
		child, ok := n.children[name]
		if !ok {
			continue
		}
		// An entry with uncommitted writes is mid-edit; committing it may
		// yet materialize the member it is bound to.
		if child.Inode().writelock {
			continue
		}
		s.destroyLocked(child)
	}

	for _, name := range members {
		if child, ok := n.children[name]; ok {
			if on, ok := child.(*ObjectNode); ok && (on.kind == kindLeaf || on.kind == kindRepr) {
				on.refresh()
			}
			continue
		}
		n.exportMemberLocked(v, name)
	}
	return nil
}

// ensureReprLocked keeps the ".repr" rendering file present on an observed
// directory. Lock held.
func (n *ObjectNode) ensureReprLocked() {
	if _, ok := n.children[reprEntry]; ok {
		return
	}
	repr := newObjectNode(reprEntry, 0o444, kindRepr, n.cfg, n.stack)
	if err := n.storage.attachSpecialLocked(n, repr); err != nil {
		logger.Debug("repr attach under %s: %v", n.absolutePath(), err)
		return
	}
	repr.refresh()
}

// exportMemberLocked materializes one member of v as a child node. Lock
// held. Failures are logged and skipped so one bad member cannot poison
// the listing.
func (n *ObjectNode) exportMemberLocked(v any, name string) {
	s := n.storage
	if !validName(name) {
		return
	}
	if n.blacklisted(name) {
		return
	}

	mv, ok := getMember(v, name, n.cfg)
	if !ok {
		return
	}

	if isFunc(mv) {
		if !n.cfg.ExportCalls {
			return
		}
		fn := newFuncNode(name, n.cfg)
		if err := s.attachLocked(n, fn); err != nil {
			logger.Debug("export of %s under %s: %v", name, n.absolutePath(), err)
			return
		}
		fn.buildLocked(s)
		return
	}

	if isComposite(mv, n.cfg) && !n.cfg.ForceFile {
		id, hasIdent := identityOf(mv)
		if hasIdent && n.cfg.CycleDetect != CycleNone {
			if owner, hit := n.stack[id]; hit && !owner.destroyed {
				n.resolveBackRefLocked(name, owner)
				return
			}
		}

		child := newObjectNode(name, ModeDir|0o755, kindDir, n.cfg, n.stack)
		if err := s.attachLocked(n, child); err != nil {
			logger.Debug("export of %s under %s: %v", name, n.absolutePath(), err)
			return
		}
		if hasIdent && n.cfg.CycleDetect != CycleNone {
			n.claimIdentityLocked(id, child)
		}
		return
	}

	child := newObjectNode(name, 0o644, kindLeaf, n.cfg, n.stack)
	if err := s.attachLocked(n, child); err != nil {
		logger.Debug("export of %s under %s: %v", name, n.absolutePath(), err)
		return
	}
	child.refresh()
}

// resolveBackRefLocked handles a member whose identity is already observed
// elsewhere in this export. Lock held.
func (n *ObjectNode) resolveBackRefLocked(name string, owner *ObjectNode) {
	switch n.cfg.CycleDetect {
	case CycleDrop:
		return
	case CycleSymlink:
	default:
		return
	}

	s := n.storage
	link := newObjectNode(name, ModeSymlink|0o777, kindSymlink, n.cfg, n.stack)
	if err := s.attachLocked(n, link); err != nil {
		logger.Debug("back-reference %s under %s: %v", name, n.absolutePath(), err)
		return
	}
	link.setContent([]byte(relativePath(n.absolutePath(), owner.absolutePath())))

	// The link points at the owner by path. When the owner goes away the
	// link must go with it, or it would dangle at a recycled path.
	linkPath := link.absolutePath()
	owner.cleanup.Add("symlink:"+linkPath, func() error {
		s.destroyLocked(link)
		return nil
	})
	link.cleanup.Add("unhook-owner", func() error {
		owner.cleanup.Remove("symlink:" + linkPath)
		return nil
	})
}

// claimIdentityLocked records that child now observes the value with the
// given identity, and arranges for the claim to lapse when the child is
// destroyed. Lock held.
func (n *ObjectNode) claimIdentityLocked(id uintptr, child *ObjectNode) {
	n.stack[id] = child
	child.cleanup.Add("identity-claim", func() error {
		if n.stack[id] == child {
			delete(n.stack, id)
		}
		return nil
	})
}

// reprValue renders a directory's whole value for its ".repr" file, in Go
// literal syntax.
func reprValue(v any) []byte {
	return []byte(fmt.Sprintf("%#v", v))
}
