// Package conn implements the event-driven connection state machine:
// parse/execute cycle, pipelined commands, vectored writes, and
// backpressure hysteresis on the response queue. Grounded directly on
// mt_nonblocking/Connection.cpp/.h and st_nonblocking's single-threaded
// variant from the project this spec was distilled from.
package conn

import (
	"log/slog"
	"sync"

	"github.com/EgorSmi/afina/protocol"
	"github.com/EgorSmi/afina/reactor"
	"github.com/EgorSmi/afina/storage"
)

const readBufSize = 4096

// defaultHighWatermark/defaultEpsilon match the original source's
// HI=100/eps=20 convention for the output queue backpressure threshold.
const (
	defaultHighWatermark = 100
	defaultEpsilon       = 20
)

// Options configures backpressure thresholds and the concurrency
// contract a Connection runs under.
type Options struct {
	// HighWatermark is the out_q length above which EPOLLIN is cleared.
	HighWatermark int
	// LowWatermarkEpsilon sets the low watermark at HighWatermark-eps,
	// the out_q length at or below which EPOLLIN is re-asserted.
	LowWatermarkEpsilon int
	// SingleThreaded documents and enables the single-threaded contract:
	// the reactor serializes all handler invocations for this
	// connection (and every other), so no internal mutex is needed.
	// When false, Connection guards its state with its own mutex,
	// matching the multithreaded reactor contract in §4.E.
	SingleThreaded bool

	Logger *slog.Logger
}

// Connection is one client connection's state machine. It exposes four
// entry points invoked exclusively by a reactor: OnStart, OnReadable,
// OnWritable, OnHangup.
type Connection struct {
	fd       int
	sock     Socket
	store    storage.Storage
	interest reactor.InterestSetter
	log      *slog.Logger

	singleThreaded bool
	hi             int
	lo             int

	mu sync.Mutex // unused when singleThreaded

	alive bool

	inBuf []byte

	pendingCmd *protocol.Command
	argRemains int
	argBuf     []byte

	outQ            [][]byte
	outOff          int
	closeAfterDrain bool

	interestMask reactor.Events
}

var _ reactor.Handler = (*Connection)(nil)

// New builds a Connection for fd, reading/writing through sock and
// executing commands against store. interest receives interest_mask
// updates as they change; it may be nil in tests that only want to
// assert on outQ contents.
func New(fd int, sock Socket, store storage.Storage, interest reactor.InterestSetter, opt Options) *Connection {
	if opt.HighWatermark <= 0 {
		opt.HighWatermark = defaultHighWatermark
	}
	if opt.LowWatermarkEpsilon <= 0 {
		opt.LowWatermarkEpsilon = defaultEpsilon
	}
	lo := opt.HighWatermark - opt.LowWatermarkEpsilon
	if lo < 0 {
		lo = 0
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	return &Connection{
		fd:             fd,
		sock:           sock,
		store:          store,
		interest:       interest,
		log:            opt.Logger.With("fd", fd),
		singleThreaded: opt.SingleThreaded,
		hi:             opt.HighWatermark,
		lo:             lo,
	}
}

func (c *Connection) lock() {
	if !c.singleThreaded {
		c.mu.Lock()
	}
}

func (c *Connection) unlock() {
	if !c.singleThreaded {
		c.mu.Unlock()
	}
}

// Alive reports whether the connection should still be kept open. Once
// false, the reactor should deregister and close fd.
func (c *Connection) Alive() bool {
	c.lock()
	defer c.unlock()
	return c.alive
}

// OnStart initializes state and asserts initial read interest.
func (c *Connection) OnStart() {
	c.lock()
	defer c.unlock()

	c.alive = true
	c.interestMask = reactor.EventRead
	c.publishInterestLocked()
}

// OnReadable drains the socket into inBuf until EAGAIN/EOF/fatal error,
// then runs the parse/execute cycle over whatever accumulated.
func (c *Connection) OnReadable() {
	c.lock()
	defer c.unlock()

	if !c.alive {
		return
	}

	buf := make([]byte, readBufSize)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			c.inBuf = append(c.inBuf, buf[:n]...)
		}
		if err != nil {
			if IsWouldBlock(err) {
				break
			}
			c.log.Error("read failed", "err", err)
			c.alive = false
			return
		}
		if n == 0 {
			// Half-close: stop reading, but still flush whatever responses
			// are already queued before the connection is torn down. This
			// applies regardless of the concurrency contract; only the
			// locking discipline differs between the two.
			c.closeAfterDrain = true
			break
		}
	}

	c.processBuffered()

	if c.closeAfterDrain && len(c.outQ) == 0 {
		// Nothing was queued to flush: the half-close can complete now
		// instead of waiting for an OnWritable that will never come.
		c.alive = false
	}
}

// processBuffered runs the parse/execute cycle (§4.D steps 1-3) until no
// further progress can be made with the bytes currently buffered.
func (c *Connection) processBuffered() {
	for {
		progressed := false

		if c.pendingCmd == nil {
			cmd, consumed, ok := protocol.Parse(c.inBuf)
			if !ok {
				break // need more bytes
			}
			c.inBuf = c.inBuf[consumed:]

			argRemains := cmd.ArgLen
			if cmd.Verb == protocol.VerbSet || cmd.Verb == protocol.VerbAdd {
				argRemains += 2 // trailing CRLF guard, even for a zero-length argument
			}

			pc := cmd
			c.pendingCmd = &pc
			c.argRemains = argRemains
			c.argBuf = c.argBuf[:0]
			progressed = true
		}

		if c.pendingCmd != nil && c.argRemains > 0 {
			n := c.argRemains
			if n > len(c.inBuf) {
				n = len(c.inBuf)
			}
			if n > 0 {
				c.argBuf = append(c.argBuf, c.inBuf[:n]...)
				c.inBuf = c.inBuf[n:]
				c.argRemains -= n
				progressed = true
			}
		}

		if c.pendingCmd != nil && c.argRemains == 0 {
			arg := c.argBuf
			if len(arg) >= 2 {
				arg = arg[:len(arg)-2]
			}
			resp := protocol.Execute(*c.pendingCmd, arg, c.store)
			c.enqueue(resp)
			c.pendingCmd = nil
			c.argBuf = nil
			progressed = true
		}

		if !progressed {
			break
		}
	}
}

// enqueue appends a response frame and applies the HI-watermark half of
// the backpressure hysteresis rule.
func (c *Connection) enqueue(frame []byte) {
	c.outQ = append(c.outQ, frame)
	if len(c.outQ) > c.hi {
		c.interestMask &^= reactor.EventRead
	}
	c.interestMask |= reactor.EventWrite
	c.publishInterestLocked()
}

// OnWritable issues one vectored write from outQ, advancing outOff and
// popping fully-written frames.
func (c *Connection) OnWritable() {
	c.lock()
	defer c.unlock()

	if !c.alive || len(c.outQ) == 0 {
		return
	}

	bufs := c.buildIOVecLocked()
	n, err := c.sock.Writev(bufs)
	if n > 0 {
		c.advanceLocked(n)
	}
	if err != nil {
		if IsWouldBlock(err) {
			return
		}
		c.log.Error("write failed", "err", err)
		c.alive = false
		return
	}
}

// buildIOVecLocked builds up to maxIOVec buffers from outQ, with the
// first entry trimmed by outOff.
func (c *Connection) buildIOVecLocked() [][]byte {
	const iovecLimit = 16
	n := len(c.outQ)
	if n > iovecLimit {
		n = iovecLimit
	}
	bufs := make([][]byte, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			bufs[i] = c.outQ[i][c.outOff:]
		} else {
			bufs[i] = c.outQ[i]
		}
	}
	return bufs
}

// advanceLocked consumes n written bytes from the front of outQ, then
// applies the LO-watermark half of the backpressure rule.
func (c *Connection) advanceLocked(n int) {
	remaining := n
	for remaining > 0 && len(c.outQ) > 0 {
		front := c.outQ[0]
		avail := len(front) - c.outOff
		if remaining >= avail {
			remaining -= avail
			c.outQ = c.outQ[1:]
			c.outOff = 0
		} else {
			c.outOff += remaining
			remaining = 0
		}
	}

	if len(c.outQ) <= c.lo {
		c.interestMask |= reactor.EventRead
	}
	if len(c.outQ) == 0 {
		c.interestMask &^= reactor.EventWrite
		if c.closeAfterDrain {
			c.alive = false
		}
	}
	c.publishInterestLocked()
}

// OnHangup marks the connection dead; the reactor is responsible for
// deregistering and closing fd afterward.
func (c *Connection) OnHangup() {
	c.lock()
	defer c.unlock()
	c.alive = false
}

// FD returns the connection's file descriptor, for a pool-dispatching
// handler wrapper that must deregister and close it once the connection
// dies.
func (c *Connection) FD() int { return c.fd }

// OutQueueLen reports the current response-queue depth, for tests and
// observability.
func (c *Connection) OutQueueLen() int {
	c.lock()
	defer c.unlock()
	return len(c.outQ)
}

// InterestMask reports the currently published readiness interest.
func (c *Connection) InterestMask() reactor.Events {
	c.lock()
	defer c.unlock()
	return c.interestMask
}

func (c *Connection) publishInterestLocked() {
	if c.interest == nil {
		return
	}
	if err := c.interest.SetInterest(c.fd, c.interestMask); err != nil {
		c.log.Error("failed to update interest", "err", err)
	}
}
