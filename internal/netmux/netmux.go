// Package netmux implements the single-threaded, level-triggered
// connection multiplexer described in spec.md §4.6: one epoll set over
// the inotify subscription handle, the listening socket, and every
// connected client, iterated in a fixed order each wakeup.
//
// Grounded on the teacher's inotify_poller.go (epoll_create1/epoll_ctl/
// epoll_wait usage and the EPOLLIN/EPOLLHUP/EPOLLERR classification
// style) generalized from fsnotify's two-descriptor wakeup pattern to
// the listening-socket-plus-many-clients set this daemon needs, and on
// the original jfindd's socket.c run() loop for the accept/cap/compact
// policy.
package netmux

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"jfindd/internal/clientbuf"
	"jfindd/internal/dispatch"
	"jfindd/internal/index"
	"jfindd/internal/ptree"
)

// MaxClients bounds concurrent connections: the process intentionally
// refuses more than this many rather than risk starving event
// processing on a single thread.
const MaxClients = 256

// maxSocketPathLen is the conventional sun_path capacity minus the
// trailing NUL, the limit spec.md calls out explicitly.
const maxSocketPathLen = 107

var ignoreSigpipeOnce sync.Once

// Listen unlinks any pre-existing file at path, binds a non-blocking
// UNIX stream socket there, and starts listening. The returned fd is
// ready to be handed to New.
func Listen(path string) (int, error) {
	if len(path) > maxSocketPathLen {
		return -1, fmt.Errorf("netmux: socket path %q exceeds %d bytes", path, maxSocketPathLen)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return -1, fmt.Errorf("netmux: unlink %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netmux: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netmux: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netmux: listen: %w", err)
	}
	return fd, nil
}

// ErrDrift is returned by Run when the event dispatcher reported a
// kernel notification queue overflow: every descriptor has already been
// closed and the supervisor must tear down the tree and restart after
// a backoff.
var ErrDrift = dispatch.ErrDrift

type client struct {
	fd  int32
	buf *clientbuf.Buffer
}

// Mux is the single-threaded readiness loop. It is not safe for
// concurrent use; nothing in this design needs it to be.
type Mux struct {
	epfd     int
	listenFd int32
	watchFd  int32

	disp   *dispatch.Dispatcher
	root   *ptree.Node
	search clientbuf.Traversal

	log *log.Logger

	clients map[int32]*client
}

// New builds the epoll set, registering the inotify subscription
// handle (spec.md's fixed slot 0) and the listening socket (slot 1).
// The broken-pipe signal is ignored process-wide exactly once, per
// spec.md §5's signal policy, so a client disconnecting mid-write never
// terminates the process.
func New(listenFd int, disp *dispatch.Dispatcher, root *ptree.Node, logger *log.Logger) (*Mux, error) {
	ignoreSigpipeOnce.Do(ignoreSigpipe)

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netmux: epoll_create1: %w", err)
	}
	m := &Mux{
		epfd:     epfd,
		listenFd: int32(listenFd),
		watchFd:  int32(disp.Watch.Fd()),
		disp:     disp,
		root:     root,
		search:   clientbuf.SubstringTraversal,
		log:      logger,
		clients:  make(map[int32]*client),
	}
	if err := m.register(m.watchFd); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("netmux: register subscription handle: %w", err)
	}
	if err := m.register(m.listenFd); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("netmux: register listening socket: %w", err)
	}
	return m, nil
}

func (m *Mux) register(fd int32) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, int(fd), &unix.EpollEvent{
		Fd:     fd,
		Events: unix.EPOLLIN,
	})
}

func (m *Mux) unregister(fd int32) {
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// Close tears down every client connection, the listening socket, and
// the epoll instance itself. It does not close the inotify descriptor,
// which the indexer/dispatcher's owner (the supervisor) manages.
func (m *Mux) Close() {
	for fd := range m.clients {
		unix.Close(int(fd))
	}
	m.clients = make(map[int32]*client)
	unix.Close(int(m.listenFd))
	unix.Close(m.epfd)
}

// Run blocks in the readiness loop until a fatal or drift condition is
// hit. A fatal error on the subscription handle or listening socket
// propagates directly; ErrDrift means every descriptor has already been
// closed by Run itself and the supervisor owns re-indexing.
func (m *Mux) Run() error {
	events := make([]unix.EpollEvent, 1+MaxClients)
	for {
		n, err := unix.EpollWait(m.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("netmux: epoll_wait: %w", err)
		}

		for _, ev := range events[:n] {
			switch {
			case ev.Fd == m.watchFd:
				if err := m.onSubscriptionHandle(ev); err != nil {
					if errors.Is(err, dispatch.ErrDrift) || index.ErrDrift(err) {
						m.Close()
						return ErrDrift
					}
					return err
				}
			case ev.Fd == m.listenFd:
				if err := m.onListeningSocket(ev); err != nil {
					return err
				}
			default:
				m.onClient(ev)
			}
		}
	}
}

func (m *Mux) onSubscriptionHandle(ev unix.EpollEvent) error {
	if ev.Events&unix.EPOLLERR != 0 {
		return fmt.Errorf("netmux: error readiness on subscription handle")
	}
	if ev.Events&unix.EPOLLIN == 0 {
		return nil
	}
	return m.disp.HandleReadable()
}

func (m *Mux) onListeningSocket(ev unix.EpollEvent) error {
	if ev.Events&unix.EPOLLERR != 0 {
		return fmt.Errorf("netmux: error readiness on listening socket")
	}
	if ev.Events&unix.EPOLLIN == 0 {
		return nil
	}
	m.accept()
	return nil
}

func (m *Mux) accept() {
	for {
		fd, _, err := unix.Accept4(int(m.listenFd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			m.log.Printf("accept: %v", err)
			return
		}

		if len(m.clients) >= MaxClients {
			m.log.Printf("warning: refusing connection, already at the %d-client cap", MaxClients)
			unix.Close(fd)
			continue
		}
		if err := m.register(int32(fd)); err != nil {
			m.log.Printf("epoll_ctl add client: %v", err)
			unix.Close(fd)
			continue
		}
		m.clients[int32(fd)] = &client{fd: int32(fd), buf: clientbuf.New(fd)}
	}
}

func (m *Mux) onClient(ev unix.EpollEvent) {
	c, ok := m.clients[ev.Fd]
	if !ok {
		return
	}
	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		m.removeClient(c)
		return
	}
	if ev.Events&unix.EPOLLIN == 0 {
		return
	}
	if err := c.buf.HandleReadable(m.root, m.search); err != nil {
		m.removeClient(c)
	}
}

func (m *Mux) removeClient(c *client) {
	m.unregister(c.fd)
	unix.Close(int(c.fd))
	delete(m.clients, c.fd)
}
