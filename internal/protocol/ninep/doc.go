// Package ninep implements the 9P2000 wire protocol.
//
// The package is a pure codec: it knows how to frame, encode and decode
// 9P messages, but holds no connection or filesystem state. The serving
// side lives in pkg/adapter/ninep, which reads messages off a TCP
// connection, resolves fids against a vfs.Storage and encodes replies
// using the types defined here.
//
// # Wire Format
//
// Every 9P message starts with a common header:
//
//	size[4] type[1] tag[2]
//
// where size counts the entire message including itself. All integers
// are little-endian. Strings are a 2-byte length followed by UTF-8
// bytes, with no padding or NUL termination.
//
// Each operation gets its own file (version.go, walk.go, read.go, ...)
// containing the request struct with its decoder and the response
// struct with its encoder. Response encoders emit the complete framed
// message, header included, so the dispatch loop can write the result
// directly to the socket.
//
// # Directory Entries and Stat
//
// Directory reads return a byte stream of stat entries, each prefixed
// with its own 2-byte size so clients can walk the list without
// knowing field layouts. The stat carried by Rstat and Twstat is
// additionally prefixed with a redundant 2-byte count, per the
// protocol definition in stat(5).
package ninep
