package vfs

import "github.com/marmos91/objectfs/internal/logger"

// cleanupEntry is one named rollback action.
type cleanupEntry struct {
	name string
	fn   func() error
}

// CleanupList is an ordered list of named rollback actions accumulated while
// a node establishes partial state (registry entry, parent linkage, cycle
// bookkeeping). Destroy runs the whole list; one failing action never stops
// the others.
type CleanupList struct {
	entries []cleanupEntry
}

// Add appends a rollback action. A second action with the same name replaces
// the first, keeping its position.
func (c *CleanupList) Add(name string, fn func() error) {
	for i := range c.entries {
		if c.entries[i].name == name {
			c.entries[i].fn = fn
			return
		}
	}
	c.entries = append(c.entries, cleanupEntry{name: name, fn: fn})
}

// Remove drops the action with the given name, if present.
func (c *CleanupList) Remove(name string) {
	for i := range c.entries {
		if c.entries[i].name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered actions.
func (c *CleanupList) Len() int {
	return len(c.entries)
}

// Run executes every action in registration order and clears the list.
// The list is detached first: actions that add or remove entries on it, or
// on another list currently running, see a consistent view. Failures are
// logged and counted but never abort the remaining actions.
func (c *CleanupList) Run() int {
	entries := c.entries
	c.entries = nil

	failed := 0
	for _, e := range entries {
		if err := e.fn(); err != nil {
			logger.Warn("cleanup action %q failed: %v", e.name, err)
			failed++
		}
	}
	return failed
}
