package vfs

import (
	"bytes"
	"strings"
	"sync"
)

// RingLog is a bounded line buffer usable as a log writer. The newest
// lines win; a reader sees at most the configured number of lines.
//
// Unlike the tree, RingLog has its own lock: log writes come from
// arbitrary goroutines and must not contend for the storage lock.
type RingLog struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial strings.Builder
}

// NewRingLog returns a ring keeping up to max lines. max values below one
// are raised to one.
func NewRingLog(max int) *RingLog {
	if max < 1 {
		max = 1
	}
	return &RingLog{max: max}
}

// Write implements io.Writer. Input is split on newlines; an unterminated
// tail is buffered until its newline arrives.
func (l *RingLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			l.partial.Write(rest)
			break
		}
		l.partial.Write(rest[:i])
		l.appendLine(l.partial.String())
		l.partial.Reset()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (l *RingLog) appendLine(line string) {
	l.lines = append(l.lines, line)
	if len(l.lines) > l.max {
		l.lines = l.lines[len(l.lines)-l.max:]
	}
}

// Snapshot renders the retained lines, oldest first, newline-terminated.
func (l *RingLog) Snapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.lines) == 0 {
		return nil
	}
	var b bytes.Buffer
	for _, line := range l.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// logNode exposes a RingLog as a read-refreshing file.
type logNode struct {
	inode
	ring *RingLog
}

func (n *logNode) Sync() error {
	if !n.writelock {
		n.setContent(n.ring.Snapshot())
	}
	return nil
}

// AttachLog mounts a ring log as a file under the given directory, so the
// process's own recent log lines are readable through the tree.
func (s *Storage) AttachLog(parentID Ident, name string, ring *RingLog) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.checkoutLocked(parentID)
	if err != nil {
		return nil, err
	}

	node := &logNode{ring: ring}
	node.inode = *newInode(name, 0o444)
	if err := s.attachLocked(parent, node); err != nil {
		return nil, err
	}
	node.setContent(ring.Snapshot())
	return node, nil
}
