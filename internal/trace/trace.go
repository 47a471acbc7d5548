// Package trace formats debug-mode diagnostic lines for raw inotify
// events, one line per event, per spec.md's trace format:
//
//	<wd>\t<watched-path>\t<mask-hex>,<mask-names>\t<cookie>\t<name>\n
//
// Adapted from the teacher's internal/debug_linux.go, which builds an
// analogous "mask bits -> symbolic names" table against
// golang.org/x/sys/unix's IN_* constants for its own -d trace output;
// this keeps the same table-driven shape but serializes to the wire
// format spec.md specifies instead of fsnotify's own debug line.
package trace

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"
)

// maskNames is the fixed symbolic-name table spec.md §6 calls for: every
// IN_* bit inotify(7) defines against the 32-bit mask field, including
// the composite event classes (IN_CLOSE, IN_MOVE, IN_ALL_EVENTS)
// alongside the individual bits that make them up.
var maskNames = []struct {
	name string
	bit  uint32
}{
	{"IN_ACCESS", unix.IN_ACCESS},
	{"IN_MODIFY", unix.IN_MODIFY},
	{"IN_ATTRIB", unix.IN_ATTRIB},
	{"IN_CLOSE_WRITE", unix.IN_CLOSE_WRITE},
	{"IN_CLOSE_NOWRITE", unix.IN_CLOSE_NOWRITE},
	{"IN_CLOSE", unix.IN_CLOSE},
	{"IN_OPEN", unix.IN_OPEN},
	{"IN_MOVED_FROM", unix.IN_MOVED_FROM},
	{"IN_MOVED_TO", unix.IN_MOVED_TO},
	{"IN_MOVE", unix.IN_MOVE},
	{"IN_CREATE", unix.IN_CREATE},
	{"IN_DELETE", unix.IN_DELETE},
	{"IN_DELETE_SELF", unix.IN_DELETE_SELF},
	{"IN_MOVE_SELF", unix.IN_MOVE_SELF},
	{"IN_ALL_EVENTS", unix.IN_ALL_EVENTS},
	{"IN_UNMOUNT", unix.IN_UNMOUNT},
	{"IN_Q_OVERFLOW", unix.IN_Q_OVERFLOW},
	{"IN_IGNORED", unix.IN_IGNORED},
	{"IN_ONLYDIR", unix.IN_ONLYDIR},
	{"IN_DONT_FOLLOW", unix.IN_DONT_FOLLOW},
	{"IN_EXCL_UNLINK", unix.IN_EXCL_UNLINK},
	{"IN_MASK_ADD", unix.IN_MASK_ADD},
	{"IN_MASK_CREATE", unix.IN_MASK_CREATE},
	{"IN_ONESHOT", unix.IN_ONESHOT},
	{"IN_ISDIR", unix.IN_ISDIR},
}

// names returns the comma-separated symbolic bit names set in mask. The
// hex form is always printed by the caller first so unknown bits remain
// visible even when this list doesn't cover them.
func names(mask uint32) string {
	var l []string
	for _, n := range maskNames {
		if mask&n.bit == n.bit {
			l = append(l, n.name)
		}
	}
	return strings.Join(l, ",")
}

// Event writes one trace line to w for a raw inotify event.
func Event(w io.Writer, wd int32, watchedPath string, mask, cookie uint32, name string) {
	fmt.Fprintf(w, "%d\t%s\t0x%08x,%s\t%d\t%s\n", wd, watchedPath, mask, names(mask), cookie, name)
}
