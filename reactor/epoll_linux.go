//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDs bounds the direct-indexed registration table, matching the
// pack's eventloop.FastPoller convention of trading a fixed-size array
// for O(1) lookup instead of a map.
const maxFDs = 65536

// EpollReactor is a Linux epoll-backed Reactor using edge-triggered
// (EPOLLET) notifications, matching §4.E's requirement that the
// connection — not the poller — owns the decision of what to watch for
// next.
type EpollReactor struct {
	epfd int

	mu  sync.RWMutex
	fds [maxFDs]registration

	closeOnce sync.Once
	closed    chan struct{}
}

// aliveReporter is implemented by handlers (Connection itself, but not
// the pool-dispatching wrapper cmd/afinad registers in its multithreaded
// configuration) whose liveness can be checked synchronously right after
// a callback returns.
type aliveReporter interface {
	Alive() bool
}

type registration struct {
	handler Handler
	active  bool
}

var _ Reactor = (*EpollReactor)(nil)

// NewEpollReactor creates and initializes a new epoll instance.
func NewEpollReactor() (*EpollReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollReactor{epfd: epfd, closed: make(chan struct{})}, nil
}

// Register begins watching fd and invokes h.OnStart() before returning.
func (r *EpollReactor) Register(fd int, events Events, h Handler) error {
	if fd < 0 || fd >= maxFDs {
		return unix.EBADF
	}

	r.mu.Lock()
	r.fds[fd] = registration{handler: h, active: true}
	r.mu.Unlock()

	ev := unix.EpollEvent{Events: eventsToEpoll(events) | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.mu.Lock()
		r.fds[fd] = registration{}
		r.mu.Unlock()
		return err
	}

	h.OnStart()
	return nil
}

// SetInterest updates the epoll interest set for fd. Implements
// InterestSetter, the narrow contract Connection depends on.
func (r *EpollReactor) SetInterest(fd int, events Events) error {
	if fd < 0 || fd >= maxFDs {
		return unix.EBADF
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events) | unix.EPOLLET, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Deregister stops watching fd. It does not close fd.
func (r *EpollReactor) Deregister(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return unix.EBADF
	}
	r.mu.Lock()
	r.fds[fd] = registration{}
	r.mu.Unlock()
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run blocks dispatching events until Close is called. Each call to Run
// uses its own event buffer: cmd/afinad runs several Run goroutines
// sharing one EpollReactor, and a buffer on the struct would let their
// concurrent EpollWait/dispatch calls race on the same backing array.
func (r *EpollReactor) Run() error {
	var eventBuf [256]unix.EpollEvent
	for {
		select {
		case <-r.closed:
			return nil
		default:
		}

		n, err := unix.EpollWait(r.epfd, eventBuf[:], 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		r.dispatch(eventBuf[:n])
	}
}

func (r *EpollReactor) dispatch(events []unix.EpollEvent) {
	for i := range events {
		fd := int(events[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}

		r.mu.RLock()
		reg := r.fds[fd]
		r.mu.RUnlock()
		if !reg.active || reg.handler == nil {
			continue
		}

		ev := epollToEvents(events[i].Events)
		if ev.Has(EventHangup) || ev.Has(EventError) {
			reg.handler.OnHangup()
		} else {
			if ev.Has(EventRead) {
				reg.handler.OnReadable()
			}
			if ev.Has(EventWrite) {
				reg.handler.OnWritable()
			}
		}

		// Handlers whose callbacks run synchronously (i.e. not dispatched
		// onto a worker pool) can be checked for liveness right here; a
		// pool-dispatching wrapper must perform this check itself once its
		// submitted task actually completes.
		if lc, ok := reg.handler.(aliveReporter); ok && !lc.Alive() {
			r.closeDeadFD(fd)
		}
	}
}

// closeDeadFD deregisters and closes a dead connection's fd. Best effort:
// logged nowhere, since package reactor has no logger of its own.
func (r *EpollReactor) closeDeadFD(fd int) {
	r.Deregister(fd)
	unix.Close(fd)
}

// Close unblocks Run and releases the epoll fd.
func (r *EpollReactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = unix.Close(r.epfd)
	})
	return err
}

func eventsToEpoll(events Events) uint32 {
	var e uint32
	if events.Has(EventRead) {
		e |= unix.EPOLLIN
	}
	if events.Has(EventWrite) {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(epollEvents uint32) Events {
	var events Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
