package ninep

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/internal/protocol/ninep"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// NinePConnection handles one client connection. 9P clients multiplex over
// a single TCP connection and this server answers messages in arrival
// order, so the fid table needs no locking: only the connection goroutine
// touches it.
type NinePConnection struct {
	server *NinePAdapter
	conn   net.Conn

	// msize is the negotiated maximum message size. Starts at the server
	// limit and can only shrink during version negotiation.
	msize uint32

	// versioned is set once Tversion succeeds; every other message is
	// rejected before that.
	versioned bool

	// uname is the user name from Tattach, for logging.
	uname string

	// fids maps the client's fid space onto tree identifiers.
	fids map[uint32]*fidState
}

// fidState is the per-fid bookkeeping: the referenced node, open status,
// and the directory read cursor.
type fidState struct {
	ident vfs.Ident

	open   bool
	omode  uint8
	rclose bool

	// dirBuf holds the packed stat entries prepared at the start of a
	// directory read; dirOffset is the next offset the client must use.
	dirBuf    []byte
	dirOffset uint64
}

func newConnection(server *NinePAdapter, conn net.Conn) *NinePConnection {
	return &NinePConnection{
		server: server,
		conn:   conn,
		msize:  server.config.Msize,
		fids:   make(map[uint32]*fidState),
	}
}

// Serve processes messages until the connection closes, the context is
// cancelled, or an unrecoverable error occurs. Panic recovery keeps one
// misbehaving client from taking down the server.
func (c *NinePConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in 9P connection handler from %s: %v", c.conn.RemoteAddr(), r)
		}
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()
	logger.Debug("New 9P connection from %s", clientAddr)

	if c.server.config.IdleTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
			logger.Warn("Failed to set deadline for %s: %v", clientAddr, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("9P connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("9P connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		if err := c.handleMessage(ctx); err != nil {
			if err == io.EOF {
				logger.Debug("9P connection from %s closed by client", clientAddr)
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Debug("9P connection from %s timed out: %v", clientAddr, err)
			} else if err == context.Canceled || err == context.DeadlineExceeded {
				logger.Debug("9P connection from %s cancelled: %v", clientAddr, err)
			} else {
				logger.Debug("Error handling 9P message from %s: %v", clientAddr, err)
			}
			return
		}

		// Reset idle timeout after each message.
		if c.server.config.IdleTimeout > 0 {
			if err := c.conn.SetDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
				logger.Warn("Failed to reset deadline for %s: %v", clientAddr, err)
			}
		}
	}
}

// handleMessage reads, dispatches, and answers a single message.
//
// Handler errors turn into Rerror replies and the connection lives on;
// only transport-level failures (short reads, oversized frames, write
// errors) tear the connection down.
func (c *NinePConnection) handleMessage(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if c.server.config.ReadTimeout > 0 {
		deadline := time.Now().Add(c.server.config.ReadTimeout)
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	msgType, tag, body, err := c.readMessage()
	if err != nil {
		return err
	}

	op := ninep.MessageTypeName(msgType)

	// Rate limiting happens after the frame is read so the stream stays
	// in sync; over-budget messages get an Rerror instead of service.
	if c.server.limiter != nil && !c.server.limiter.Allow() {
		c.server.metrics.RecordRateLimited()
		logger.Debug("9P message %s from %s rate-limited", op, c.conn.RemoteAddr())
		return c.writeReply(rerror(tag, "too many requests"))
	}

	start := time.Now()
	reply, handlerErr := c.dispatch(ctx, msgType, tag, body)
	c.server.metrics.RecordRequest(op, time.Since(start), handlerErr)

	return c.writeReply(reply)
}

// readMessage reads one framed message off the wire.
//
// Tversion is allowed to arrive up to the server's configured msize even
// when the session negotiated something smaller, since a client may
// restart the session with a fresh Tversion at any time.
func (c *NinePConnection) readMessage() (uint8, uint16, []byte, error) {
	limit := c.msize
	if c.server.config.Msize > limit {
		limit = c.server.config.Msize
	}
	return ninep.ReadMessage(c.conn, limit)
}

// writeReply writes a fully encoded reply under the write timeout.
func (c *NinePConnection) writeReply(reply []byte) error {
	if reply == nil {
		return nil
	}

	if c.server.config.WriteTimeout > 0 {
		deadline := time.Now().Add(c.server.config.WriteTimeout)
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// dispatch routes a decoded message to its handler and encodes the reply.
//
// The returned error mirrors what went into an Rerror; it is reported to
// metrics but it never tears down the connection.
func (c *NinePConnection) dispatch(ctx context.Context, msgType uint8, tag uint16, body []byte) ([]byte, error) {
	if !c.versioned && msgType != ninep.Tversion {
		return rerrorErr(tag, fmt.Errorf("version not negotiated"))
	}

	switch msgType {
	case ninep.Tversion:
		req, err := ninep.DecodeVersionRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleVersion(tag, req)

	case ninep.Tauth:
		if _, err := ninep.DecodeAuthRequest(body); err != nil {
			return rerrorErr(tag, err)
		}
		// No authentication protocol: clients attach with afid = NOFID.
		return rerrorErr(tag, fmt.Errorf("authentication not required"))

	case ninep.Tattach:
		req, err := ninep.DecodeAttachRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleAttach(tag, req)

	case ninep.Tflush:
		if _, err := ninep.DecodeFlushRequest(body); err != nil {
			return rerrorErr(tag, err)
		}
		// Messages are handled serially, so the flushed request has
		// already been answered by the time this is read.
		return encode(tag, &ninep.FlushResponse{})

	case ninep.Twalk:
		req, err := ninep.DecodeWalkRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleWalk(tag, req)

	case ninep.Topen:
		req, err := ninep.DecodeOpenRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleOpen(tag, req)

	case ninep.Tcreate:
		req, err := ninep.DecodeCreateRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleCreate(tag, req)

	case ninep.Tread:
		req, err := ninep.DecodeReadRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleRead(tag, req)

	case ninep.Twrite:
		req, err := ninep.DecodeWriteRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleWrite(tag, req)

	case ninep.Tclunk:
		req, err := ninep.DecodeClunkRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleClunk(tag, req)

	case ninep.Tremove:
		req, err := ninep.DecodeRemoveRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleRemove(tag, req)

	case ninep.Tstat:
		req, err := ninep.DecodeStatRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleStat(tag, req)

	case ninep.Twstat:
		req, err := ninep.DecodeWStatRequest(body)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return c.handleWStat(tag, req)

	default:
		return rerrorErr(tag, fmt.Errorf("unknown message type %d", msgType))
	}
}

// encode wraps a response encoder, downgrading encoding failures to
// Rerror so the client always gets an answer for its tag.
func encode(tag uint16, resp interface {
	Encode(tag uint16) ([]byte, error)
}) ([]byte, error) {
	reply, err := resp.Encode(tag)
	if err != nil {
		return rerrorErr(tag, err)
	}
	return reply, nil
}

// rerror builds an Rerror reply.
func rerror(tag uint16, ename string) []byte {
	reply, err := (&ninep.ErrorResponse{Ename: ename}).Encode(tag)
	if err != nil {
		// Only reachable with an ename beyond the wire's string limit.
		reply, _ = (&ninep.ErrorResponse{Ename: "internal error"}).Encode(tag)
	}
	return reply
}

// rerrorErr builds an Rerror reply and passes the error through for
// metrics accounting.
func rerrorErr(tag uint16, err error) ([]byte, error) {
	return rerror(tag, err.Error()), err
}
