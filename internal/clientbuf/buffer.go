// Package clientbuf implements the per-connection growable input
// buffer and newline-delimited query protocol described in spec.md
// §4.7: read bytes, extract complete lines, run a substring traversal
// over the tree for each, and stream results terminated by a blank
// line.
//
// Grounded on the original jfindd's socket.c (new_clientbuffer,
// handle_client_data) for the buffer-growth and line-extraction
// discipline, and on the teacher's internal/unix2.go IgnoringEINTR
// helper (here internal/ioretry) for the "write failures retry
// transparently on interruption" requirement.
package clientbuf

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"jfindd/internal/ioretry"
	"jfindd/internal/ptree"
)

// initialCapacity is the buffer's starting allocation; it doubles on
// fill and never shrinks while the connection is open, per spec.md.
const initialCapacity = 1024

// Buffer holds one connection's unprocessed input.
type Buffer struct {
	fd   int
	data []byte
}

// New allocates a Buffer for fd with the initial 1 KiB capacity.
func New(fd int) *Buffer {
	return &Buffer{fd: fd, data: make([]byte, 0, initialCapacity)}
}

// grow doubles capacity if the buffer is full.
func (b *Buffer) grow() {
	if len(b.data) < cap(b.data) {
		return
	}
	next := make([]byte, len(b.data), cap(b.data)*2)
	copy(next, b.data)
	b.data = next
}

// ErrClientGone indicates the connection should be closed: either a
// read/write error other than a transparently-retried one, or
// end-of-file/hangup.
var ErrClientGone = fmt.Errorf("clientbuf: client disconnected")

// Traversal runs a depth-first search over the tree rooted at root,
// writing every absolute path containing query as a substring,
// terminated by a newline, to w. The default is SubstringTraversal;
// callers may substitute a fake in tests.
type Traversal func(root *ptree.Node, query string, w io.Writer) error

// HandleReadable reads whatever is available on the connection,
// appends it to the buffer, and processes every complete
// newline-terminated line found (oldest first), running search against
// root for each and writing results followed by a trailing blank line.
// It returns ErrClientGone if the connection should be torn down.
func (b *Buffer) HandleReadable(root *ptree.Node, search Traversal) error {
	b.grow()
	n, err := ioretry.IgnoringEINTR(func() (int, error) {
		return unix.Read(b.fd, b.data[len(b.data):cap(b.data)])
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	if n == 0 {
		return ErrClientGone
	}
	b.data = b.data[:len(b.data)+n]

	for {
		idx := bytes.IndexByte(b.data, '\n')
		if idx < 0 {
			break
		}
		query := string(b.data[:idx])

		w := &fdWriter{fd: b.fd}
		if err := search(root, query, w); err != nil {
			return err
		}
		if _, err := writeAllRetrying(b.fd, []byte("\n")); err != nil {
			return err
		}

		// Shift the unconsumed tail to the front.
		remaining := len(b.data) - (idx + 1)
		copy(b.data, b.data[idx+1:])
		b.data = b.data[:remaining]
	}
	return nil
}

// fdWriter adapts a raw fd to io.Writer using the retry-on-interrupt
// discipline; any error other than a transient one aborts the
// traversal and disconnects the client, per spec.md §4.7.
type fdWriter struct{ fd int }

func (w *fdWriter) Write(p []byte) (int, error) {
	return writeAllRetrying(w.fd, p)
}

func writeAllRetrying(fd int, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := ioretry.IgnoringEINTR(func() (int, error) {
			return unix.Write(fd, p[written:])
		})
		if err != nil {
			if err == unix.EAGAIN {
				// The client's socket is non-blocking and its receive
				// buffer is full; block until it drains instead of
				// busy-spinning the single event loop thread.
				pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
				if _, perr := ioretry.IgnoringEINTR(func() (int, error) {
					return unix.Poll(pollFds, -1)
				}); perr != nil {
					return written, fmt.Errorf("%w: %v", ErrClientGone, perr)
				}
				continue
			}
			return written, fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		if n == 0 {
			return written, ErrClientGone
		}
		written += n
	}
	return written, nil
}

// SubstringTraversal is the default Traversal: a plain literal
// containment check against each full path string, matching spec.md's
// explicit scoping of the match function out of the core.
func SubstringTraversal(root *ptree.Node, query string, w io.Writer) error {
	var werr error
	ptree.Traverse(root, "/", func(absPath string) int {
		if !strings.Contains(absPath, query) {
			return 0
		}
		if _, err := w.Write([]byte(absPath + "\n")); err != nil {
			werr = err
			return 1
		}
		return 0
	})
	return werr
}
