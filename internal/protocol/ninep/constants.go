package ninep

// Version is the protocol identifier negotiated by Tversion.
// Clients offering a dotted variant ("9P2000.u", "9P2000.L") are
// downgraded to the base protocol.
const Version = "9P2000"

// Message Types
// Each operation has a T (transmit) and R (reply) message type, defined
// in intro(5). Terror does not exist: errors only flow server to client.
const (
	Tversion = 100
	Rversion = 101
	Tauth    = 102
	Rauth    = 103
	Tattach  = 104
	Rattach  = 105
	Rerror   = 107
	Tflush   = 108
	Rflush   = 109
	Twalk    = 110
	Rwalk    = 111
	Topen    = 112
	Ropen    = 113
	Tcreate  = 114
	Rcreate  = 115
	Tread    = 116
	Rread    = 117
	Twrite   = 118
	Rwrite   = 119
	Tclunk   = 120
	Rclunk   = 121
	Tremove  = 122
	Rremove  = 123
	Tstat    = 124
	Rstat    = 125
	Twstat   = 126
	Rwstat   = 127
)

// Special Values
const (
	// NoTag is the tag used by Tversion, which is processed outside the
	// normal tag space.
	NoTag uint16 = 0xFFFF

	// NoFid indicates the absence of a fid, for example the afid in an
	// unauthenticated Tattach.
	NoFid uint32 = 0xFFFFFFFF
)

// Open Modes
// The low two bits of the mode select the access class; the remaining
// bits are modifiers. See open(5).
const (
	OREAD  = 0
	OWRITE = 1
	ORDWR  = 2
	OEXEC  = 3

	// OTRUNC truncates the file to zero length before use.
	OTRUNC = 0x10

	// ORCLOSE removes the file when the fid is clunked.
	ORCLOSE = 0x40

	// openAccessMask extracts the access class from an open mode.
	openAccessMask = 3
)

// Qid Type Bits
// The qid type mirrors the high bits of the file mode.
const (
	QTDIR     = 0x80
	QTAPPEND  = 0x40
	QTEXCL    = 0x20
	QTAUTH    = 0x08
	QTSYMLINK = 0x02
	QTFILE    = 0x00
)

// Directory Entry Mode Bits
// These occupy the high bits of the 32-bit mode in stat entries and
// Tcreate permissions. The low 9 bits are Unix-style permissions.
const (
	DMDIR     = 0x80000000
	DMAPPEND  = 0x40000000
	DMEXCL    = 0x20000000
	DMAUTH    = 0x08000000
	DMSYMLINK = 0x02000000
)

// Sizing Limits
const (
	// HeaderSize is the length of the common message header:
	// size[4] type[1] tag[2].
	HeaderSize = 7

	// DefaultMsize is the maximum message size offered during version
	// negotiation when the peer does not constrain it further.
	DefaultMsize = 8192

	// MinMsize is the smallest msize the server accepts. Anything below
	// this cannot carry a useful stat entry.
	MinMsize = 256

	// IOHeaderSize is the per-message overhead reserved when deriving
	// iounit from msize: the header of a Twrite plus its fixed fields.
	IOHeaderSize = 24

	// MaxWalkElements caps the number of path elements in a single
	// Twalk, per walk(5).
	MaxWalkElements = 16
)
