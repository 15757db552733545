// Package reactor declares the event-driven I/O contract spec.md treats
// as an external collaborator (§4.E), plus one concrete Linux
// implementation (epoll_linux.go) grounded on the pack's
// golang.org/x/sys/unix epoll usage.
package reactor

// Events is a small readiness bitmask, independent of the underlying
// poller's own flag encoding.
type Events uint8

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

func (e Events) Has(f Events) bool { return e&f != 0 }

// Handler is the four-entry-point contract a connection exposes to the
// reactor (§4.D): start, readable, writable, hangup/error. Handlers must
// never block and must return having drained as much data as possible.
type Handler interface {
	OnStart()
	OnReadable()
	OnWritable()
	OnHangup()
}

// InterestSetter is the narrow contract a Handler uses to publish its
// current readiness interest back to the reactor after every callback,
// per §4.E's "interest_mask accurately reflects desired readiness"
// promise. A Handler depends only on this interface, not on the full
// Reactor, so it can be exercised in tests against a fake.
type InterestSetter interface {
	SetInterest(fd int, events Events) error
}

// Reactor owns a set of registered file descriptors and dispatches
// readiness events to their Handlers.
type Reactor interface {
	InterestSetter

	// Register begins watching fd for events, invoking h's entry points
	// as readiness changes. Register itself calls h.OnStart() before
	// returning.
	Register(fd int, events Events, h Handler) error

	// Deregister stops watching fd. It does not close fd.
	Deregister(fd int) error

	// Run blocks, dispatching events until Close is called.
	Run() error

	// Close unblocks a running Run and releases poller resources.
	Close() error
}
