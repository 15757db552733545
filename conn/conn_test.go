package conn

import (
	"bytes"
	"fmt"
	"syscall"
	"testing"

	"github.com/EgorSmi/afina/reactor"
	"github.com/EgorSmi/afina/storage/lru"
)

// fakeSocket is a Socket whose Read/Writev behavior is scripted by the
// test, standing in for a real nonblocking fd.
type fakeSocket struct {
	readChunks [][]byte
	readIdx    int
	thenEOF    bool // once chunks are exhausted, report (0, nil) instead of EAGAIN

	writeOneFrameOnly bool
	writeAlwaysEAGAIN bool
	written           [][]byte
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if s.readIdx >= len(s.readChunks) {
		if s.thenEOF {
			return 0, nil
		}
		return 0, errEAGAIN
	}
	chunk := s.readChunks[s.readIdx]
	s.readIdx++
	n := copy(p, chunk)
	return n, nil
}

func (s *fakeSocket) Writev(bufs [][]byte) (int, error) {
	if s.writeAlwaysEAGAIN {
		return 0, errEAGAIN
	}
	if len(bufs) == 0 {
		return 0, nil
	}
	if s.writeOneFrameOnly {
		b := append([]byte(nil), bufs[0]...)
		s.written = append(s.written, b)
		return len(bufs[0]), nil
	}
	total := 0
	for _, b := range bufs {
		s.written = append(s.written, append([]byte(nil), b...))
		total += len(b)
	}
	return total, nil
}

var errEAGAIN = syscall.EAGAIN

// recordingInterest remembers the fd and events of the most recent
// SetInterest call, standing in for the reactor.
type recordingInterest struct {
	lastFD     int
	lastEvents reactor.Events
}

func (r *recordingInterest) SetInterest(fd int, events reactor.Events) error {
	r.lastFD, r.lastEvents = fd, events
	return nil
}

func TestConnection_PipelinedCommandsInOneRead(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	store.Put([]byte("existing"), []byte("v1"))

	sock := &fakeSocket{
		readChunks: [][]byte{
			[]byte("get existing\r\nset foo 3\r\nbar\r\ndelete missing\r\n"),
		},
	}
	c := New(1, sock, store, nil, Options{})
	c.OnStart()
	c.OnReadable()

	if n := c.OutQueueLen(); n != 3 {
		t.Fatalf("want 3 pipelined responses queued, got %d", n)
	}

	writeSock := &fakeSocket{}
	c2 := drainVia(t, c, writeSock)
	_ = c2

	got := bytes.Join(writeSock.written, nil)
	want := "VALUE existing 0 2\r\nv1\r\nEND\r\nSTORED\r\nNOT_FOUND\r\n"
	if string(got) != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

// TestConnection_SetWithZeroLengthArgumentConsumesTrailingCRLF guards
// against treating a declared-empty argument as having no CRLF to
// absorb: `set key 0\r\n\r\n` still carries a trailing CRLF after its
// zero-length payload, per classic Memcached framing.
func TestConnection_SetWithZeroLengthArgumentConsumesTrailingCRLF(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	sock := &fakeSocket{
		readChunks: [][]byte{
			[]byte("set empty 0\r\n\r\nget empty\r\n"),
		},
	}
	c := New(1, sock, store, nil, Options{})
	c.OnStart()
	c.OnReadable()

	if n := c.OutQueueLen(); n != 2 {
		t.Fatalf("want 2 responses (STORED, VALUE), got %d", n)
	}

	writeSock := &fakeSocket{}
	drainVia(t, c, writeSock)

	got := bytes.Join(writeSock.written, nil)
	want := "STORED\r\nVALUE empty 0 0\r\n\r\nEND\r\n"
	if string(got) != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func drainVia(t *testing.T, c *Connection, sock *fakeSocket) *Connection {
	t.Helper()
	c.sock = sock
	for i := 0; i < 10 && c.OutQueueLen() > 0; i++ {
		c.OnWritable()
	}
	if c.OutQueueLen() != 0 {
		t.Fatalf("queue did not drain: %d remaining", c.OutQueueLen())
	}
	return c
}

func TestConnection_BackpressureTogglesReadInterest(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	interest := &recordingInterest{}
	sock := &fakeSocket{writeAlwaysEAGAIN: true}

	c := New(7, sock, store, interest, Options{HighWatermark: 5, LowWatermarkEpsilon: 3})
	c.OnStart()
	if !c.InterestMask().Has(reactor.EventRead) {
		t.Fatal("read interest must be asserted initially")
	}

	// Push 6 "get missing" commands through one at a time so each
	// becomes its own queued END frame; 6 > HighWatermark(5).
	for i := 0; i < 6; i++ {
		sock.readChunks = append(sock.readChunks, []byte(fmt.Sprintf("get k%d\r\n", i)))
	}
	c.OnReadable()

	if c.OutQueueLen() <= 5 {
		t.Fatalf("expected more than 5 queued frames, got %d", c.OutQueueLen())
	}
	if c.InterestMask().Has(reactor.EventRead) {
		t.Fatal("read interest must be cleared once out_q exceeds HighWatermark")
	}
	if !c.InterestMask().Has(reactor.EventWrite) {
		t.Fatal("write interest must be asserted while out_q is non-empty")
	}

	// Now drain one frame at a time until queue length reaches the low
	// watermark (HI-eps = 2); read interest must re-assert at that point.
	drainSock := &fakeSocket{writeOneFrameOnly: true}
	c.sock = drainSock
	for c.OutQueueLen() > 2 {
		c.OnWritable()
	}
	if !c.InterestMask().Has(reactor.EventRead) {
		t.Fatal("read interest must be re-asserted once out_q reaches the low watermark")
	}
}

func TestConnection_HalfCloseWaitsForDrain(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	sock := &fakeSocket{
		readChunks: [][]byte{[]byte("get missing\r\n")},
		thenEOF:    true,
	}
	c := New(3, sock, store, nil, Options{})
	c.OnStart()
	c.OnReadable() // queues one END frame; the peer then half-closes (EOF)

	if !c.Alive() {
		t.Fatal("connection must stay open until its one queued response drains")
	}
	if c.OutQueueLen() != 1 {
		t.Fatalf("want 1 queued response, got %d", c.OutQueueLen())
	}

	drain := &fakeSocket{}
	c.sock = drain
	c.OnWritable()
	if c.OutQueueLen() != 0 {
		t.Fatal("queue must have drained")
	}
	if c.Alive() {
		t.Fatal("connection must die once its last response has drained after a half-close")
	}
}

// TestConnection_HalfCloseWithNothingQueuedDiesImmediately covers a peer
// that half-closes with no pending command to answer: there is nothing
// to wait for an OnWritable to drain, so the connection must die as soon
// as OnReadable observes the EOF.
func TestConnection_HalfCloseWithNothingQueuedDiesImmediately(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	sock := &fakeSocket{thenEOF: true}
	c := New(5, sock, store, nil, Options{})
	c.OnStart()
	c.OnReadable()

	if c.Alive() {
		t.Fatal("connection with nothing queued must die immediately on half-close")
	}
}
