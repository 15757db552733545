//go:build linux

package conn

import "golang.org/x/sys/unix"

// maxIOVec bounds a single Writev call, matching the original
// Connection.cpp's fixed 16-entry iovec array.
const maxIOVec = 16

// FDSocket is a Socket backed directly by a raw, nonblocking file
// descriptor via golang.org/x/sys/unix — bypassing net.Conn entirely so
// the fd is owned exclusively by the reactor that registered it, rather
// than also being polled by Go's runtime netpoller.
type FDSocket struct {
	FD int
}

func (s FDSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.FD, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (s FDSocket) Writev(bufs [][]byte) (int, error) {
	if len(bufs) > maxIOVec {
		bufs = bufs[:maxIOVec]
	}
	iovecs := make([][]byte, 0, len(bufs))
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs = append(iovecs, b)
		total += len(b)
	}
	if total == 0 {
		return 0, nil
	}
	n, err := unix.Writev(s.FD, iovecs)
	if n < 0 {
		n = 0
	}
	return n, err
}
