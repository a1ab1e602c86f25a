// Package vfs implements the ObjectFS core: an in-memory virtual filesystem
// whose directories mirror live Go values and whose files expose their scalar
// members as editable text.
//
// The package has two halves:
//
//   - The inode tree and its Storage registry. Every node is addressed by an
//     integer identifier derived from its absolute path, and all structural
//     mutations (create, remove, rename, reparent) plus all buffer I/O are
//     serialized by a single storage-wide lock.
//
//   - The observation engine. An exported value becomes a subtree whose shape
//     is re-derived lazily: every directory listing and every read at offset
//     zero diffs the value's current members against the existing children,
//     creating and destroying inodes as the live object changes. Writing a
//     file and committing it pushes the text back into the underlying member.
//
// Protocol adapters (9P, FUSE) consume the Storage surface only; they never
// touch inodes directly.
//
// Locking discipline: exported Storage methods acquire the tree lock and call
// unexported *Locked variants, which assume the lock is held. Node hooks
// (Sync, Commit) always run with the lock held, so they use the *Locked
// internals when they mutate the tree. Functions invoked through call files
// run under the same lock and must not call back into the owning Storage.
package vfs
