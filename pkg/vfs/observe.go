package vfs

import (
	"reflect"
	"strings"

	"github.com/marmos91/objectfs/internal/logger"
)

// nodeKind tells an observed node how to sync and commit itself.
type nodeKind int

const (
	// kindDir observes a composite value as a directory of members.
	kindDir nodeKind = iota

	// kindLeaf observes a scalar member as a file of its printed form.
	kindLeaf

	// kindRepr is the ".repr" file rendering the parent's whole value.
	kindRepr

	// kindSymlink is a cycle back-reference. Inert: never syncs, never
	// commits.
	kindSymlink
)

// ObjectNode is an inode whose content is observed from a live object.
//
// The export root holds the Handle; every other node resolves lazily as a
// member of its parent's value, keyed by its own name. Renaming an observed
// node therefore detaches it from its member: the next parent sync replaces
// it.
type ObjectNode struct {
	inode

	kind nodeKind

	// root marks the export root. autoName roots had their display name
	// derived, and keep it refreshed as the object changes.
	root     bool
	autoName bool
	handle   Handle

	cfg *ExportConfig

	// stack maps referent identity to the node observing it, shared by the
	// whole export. A member whose identity is already claimed is a
	// back-reference and is resolved per the export's cycle mode.
	stack map[uintptr]*ObjectNode
}

func newObjectNode(name string, mode Mode, kind nodeKind, cfg *ExportConfig, stack map[uintptr]*ObjectNode) *ObjectNode {
	n := &ObjectNode{kind: kind, cfg: cfg, stack: stack}
	n.inode = *newInode(name, mode)
	return n
}

// observeValue resolves the live value this node renders. Lock held.
//
// The bool is false when the value is gone: dead root handle, member
// removed from the parent, or a detached parent chain.
func (n *ObjectNode) observeValue() (any, bool) {
	if n.root {
		return n.handle.Get()
	}
	parent, ok := n.parent.(*ObjectNode)
	if !ok {
		return nil, false
	}
	pv, ok := parent.observeValue()
	if !ok {
		return nil, false
	}
	if n.kind == kindRepr {
		return pv, true
	}
	return getMember(pv, n.name, n.cfg)
}

// Sync brings this node in line with its observed value. Called with the
// storage lock held.
func (n *ObjectNode) Sync() error {
	switch n.kind {
	case kindSymlink:
		return nil
	case kindLeaf, kindRepr:
		n.refresh()
		return nil
	}

	v, ok := n.observeValue()
	if !ok {
		n.syncOrphan()
		return nil
	}
	return n.syncPresent(v)
}

// refresh re-renders a leaf or repr buffer from the live value. A buffer
// with uncommitted edits is left alone so a sync cannot clobber a pending
// write. Unresolvable values leave the last rendering in place; the parent
// diff retires the node.
func (n *ObjectNode) refresh() {
	if n.writelock {
		return
	}
	v, ok := n.observeValue()
	if !ok {
		return
	}
	if n.kind == kindRepr {
		n.setContent(reprValue(v))
		return
	}
	n.setContent(renderValue(v))
}

// syncOrphan clears out a directory whose value is gone. The children
// cannot resolve through a dead parent, so they are destroyed; the empty
// directory itself is retired by the parent's next diff, or by the export
// sweep when it is a root with a dead handle.
func (n *ObjectNode) syncOrphan() {
	s := n.storage
	for _, name := range n.childNames() {
		if child, ok := n.children[name]; ok {
			s.destroyLocked(child)
		}
	}
}

// childNames snapshots the non-structural child names so a destroy pass can
// mutate the map safely.
func (in *Inode) childNames() []string {
	names := make([]string, 0, len(in.children))
	for name := range in.children {
		if isReserved(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Commit writes an edited leaf buffer back into the live object.
//
// The edited text is coerced to the type the member held before the edit;
// a brand-new member (a file created under an observed map) keeps the text
// as a string. Coercion and write-back failures are dropped: the file
// simply re-renders the object's actual state on the next sync.
func (n *ObjectNode) Commit() error {
	if n.kind != kindLeaf {
		return nil
	}
	if n.root {
		// A scalar export root has no container to write through.
		return nil
	}
	parent, ok := n.parent.(*ObjectNode)
	if !ok {
		return nil
	}
	pv, ok := parent.observeValue()
	if !ok {
		return nil
	}

	text := string(n.buf)
	value := any(text)
	if prev, ok := getMember(pv, n.name, n.cfg); ok && prev != nil {
		coerced, err := coerceValue(reflect.TypeOf(prev), text)
		if err != nil {
			logger.Debug("commit of %s dropped: %v", n.absolutePath(), err)
			return nil
		}
		value = coerced
	}
	if !setMember(pv, n.name, value, n.cfg) {
		logger.Debug("commit of %s refused by container", n.absolutePath())
		return nil
	}
	n.refresh()
	return nil
}

// exportRelPath is this node's path relative to its export root, with a
// leading slash. The blacklist is matched against these.
func (n *ObjectNode) exportRelPath() string {
	if n.root {
		return "/"
	}
	var segs []string
	node := n
	for !node.root {
		segs = append(segs, node.name)
		parent, ok := node.parent.(*ObjectNode)
		if !ok {
			break
		}
		node = parent
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String()
}

// blacklisted reports whether a child of this directory is barred from the
// export. Paths compare root-relative and exact.
func (n *ObjectNode) blacklisted(childName string) bool {
	if len(n.cfg.Blacklist) == 0 {
		return false
	}
	rel := n.exportRelPath()
	var path string
	if rel == "/" {
		path = "/" + childName
	} else {
		path = rel + "/" + childName
	}
	for _, entry := range n.cfg.Blacklist {
		if entry == path {
			return true
		}
	}
	return false
}

// allowChild vetoes manual creates on blacklisted paths. The sync diff
// skips those paths quietly; a client asking for one gets the refusal.
func (n *ObjectNode) allowChild(name string) error {
	if n.blacklisted(name) {
		return NewPermissionDenied("path is blacklisted", n.absolutePath()+"/"+name)
	}
	return nil
}

// newChild makes manually-created entries under an observed directory
// observe the member of the same name. A created file bound to a map
// member materializes the member on commit.
func (n *ObjectNode) newChild(name string, mode Mode) Node {
	kind := kindLeaf
	if mode.IsDir() {
		kind = kindDir
	}
	return newObjectNode(name, mode, kind, n.cfg, n.stack)
}
