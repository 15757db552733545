//go:build linux

// Command afinad runs the cache server: a striped LRU cache served over
// a Memcached-ASCII-subset protocol through an edge-triggered epoll
// reactor, with an elastic worker pool backing command execution and
// Prometheus metrics exposed over HTTP. The reactor is epoll-based and
// Linux-only, so this command is built only on linux.
package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/EgorSmi/afina/conn"
	"github.com/EgorSmi/afina/internal/util"
	"github.com/EgorSmi/afina/metrics/prom"
	"github.com/EgorSmi/afina/pool"
	"github.com/EgorSmi/afina/reactor"
	"github.com/EgorSmi/afina/storage/striped"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		addr          = flag.String("addr", ":11211", "address to listen on")
		capacityBytes = flag.Int("cap-bytes", 256<<20, "total cache capacity in bytes, shared across shards")
		shards        = flag.Int("shards", 0, "number of cache shards (0=auto, based on GOMAXPROCS)")

		poolLow  = flag.Int("pool-low", 4, "worker pool low watermark")
		poolHigh = flag.Int("pool-high", 64, "worker pool high watermark")
		poolIdle = flag.Duration("pool-idle", 2*time.Second, "worker idle time before it may retire")
		poolQ    = flag.Int("pool-queue", 4096, "worker pool max queue size")

		singleThreaded = flag.Bool("single-threaded", false, "run one reactor goroutine and no per-connection mutex")
		reactorThreads = flag.Int("reactor-threads", runtime.GOMAXPROCS(0), "reactor goroutines sharing the epoll fd (ignored if -single-threaded)")

		metricsAddr = flag.String("http", ":9090", "address to serve Prometheus metrics on")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *shards <= 0 {
		*shards = util.ReasonableShardCount()
	}

	cacheMetrics := prom.NewCache(nil, "afina", "cache", nil)
	store, err := striped.New(*shards, *capacityBytes, cacheMetrics)
	if err != nil {
		log.Error("failed to build cache", "err", err)
		os.Exit(1)
	}

	poolMetrics := prom.NewPool(nil, "afina", "pool", nil)
	workers := pool.New(pool.Options{
		Name:          "commands",
		MaxQueueSize:  *poolQ,
		LowWatermark:  *poolLow,
		HighWatermark: *poolHigh,
		IdleTime:      *poolIdle,
		Metrics:       poolMetrics,
		Logger:        log,
	})
	defer workers.Stop(true)

	rx, err := reactor.NewEpollReactor()
	if err != nil {
		log.Error("failed to create epoll reactor", "err", err)
		os.Exit(1)
	}
	defer rx.Close()

	reactorGoroutines := *reactorThreads
	if *singleThreaded || reactorGoroutines < 1 {
		reactorGoroutines = 1
	}
	for i := 0; i < reactorGoroutines; i++ {
		go func() {
			if err := rx.Run(); err != nil {
				log.Error("reactor stopped", "err", err)
			}
		}()
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Error("metrics server stopped", "err", err)
		}
	}()

	listenFD, err := listenTCP(*addr)
	if err != nil {
		log.Error("failed to listen", "addr", *addr, "err", err)
		os.Exit(1)
	}
	log.Info("listening", "addr", *addr, "shards", *shards, "cap_bytes", *capacityBytes)

	connOpts := conn.Options{SingleThreaded: *singleThreaded, Logger: log}

	go acceptLoop(listenFD, store, rx, connOpts, workers, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	unix.Close(listenFD)
}

// listenTCP builds a blocking, listening IPv4 TCP socket directly with
// golang.org/x/sys/unix, bypassing net.Listen so that every accepted
// connection's fd is owned exclusively by the reactor that registers it
// rather than also being watched by Go's own runtime netpoller.
func listenTCP(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	var ip [4]byte
	copy(ip[:], tcpAddr.IP.To4())
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// acceptLoop blocks on accept(2) and registers each new connection's fd
// with the reactor. The listening socket itself stays blocking; only
// accepted connection fds are made nonblocking and epoll-driven.
func acceptLoop(listenFD int, store *striped.Cache, rx reactor.Reactor, opts conn.Options, workers *pool.Pool, log *slog.Logger) {
	for {
		cfd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Error("accept failed", "err", err)
			return
		}

		c := conn.New(cfd, conn.FDSocket{FD: cfd}, store, rx, opts)

		var h reactor.Handler = c
		if !opts.SingleThreaded {
			// In the multithreaded contract, readiness callbacks run on
			// the pool rather than inline on the reactor goroutine, so a
			// slow command never stalls that goroutine's epoll_wait loop
			// for every other registered connection.
			h = &pooledHandler{conn: c, pool: workers, rx: rx}
		}

		if err := rx.Register(cfd, reactor.EventRead, h); err != nil {
			log.Error("failed to register connection", "fd", cfd, "err", err)
			unix.Close(cfd)
			continue
		}
	}
}

// pooledHandler dispatches a connection's readable/writable callbacks
// onto the worker pool instead of running them inline on the reactor
// goroutine, matching the multithreaded scheduling model in §5: worker
// threads handle events dispatched by one acceptor/demultiplexer, while
// Connection's own mutex (see package conn) keeps cross-thread access
// to its state safe.
//
// Because OnReadable/OnWritable return as soon as the task is queued,
// the reactor can't tell right after the call whether the connection
// died; closeIfDead runs inside the submitted task itself, once the
// work it dispatched has actually finished.
type pooledHandler struct {
	conn *conn.Connection
	pool *pool.Pool
	rx   reactor.Reactor

	closeOnce sync.Once
}

func (h *pooledHandler) OnStart() { h.conn.OnStart() }

func (h *pooledHandler) OnHangup() {
	h.conn.OnHangup()
	h.closeIfDead()
}

func (h *pooledHandler) OnReadable() {
	h.pool.Submit(func() {
		h.conn.OnReadable()
		h.closeIfDead()
	})
}

func (h *pooledHandler) OnWritable() {
	h.pool.Submit(func() {
		h.conn.OnWritable()
		h.closeIfDead()
	})
}

// closeIfDead deregisters and closes the connection's fd the first time
// it observes the connection is no longer alive.
func (h *pooledHandler) closeIfDead() {
	if h.conn.Alive() {
		return
	}
	h.closeOnce.Do(func() {
		fd := h.conn.FD()
		h.rx.Deregister(fd)
		unix.Close(fd)
	})
}
