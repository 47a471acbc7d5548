// Package xerrors classifies the three error kinds spec.md §7 defines
// and gives the supervisor a single place to decide how to react to
// one: fatal errors abort the process generation entirely, drift
// unwinds to a re-index with backoff, and local errors are logged once
// and otherwise ignored.
//
// Grounded on the teacher's own error variable set in fsnotify.go
// (ErrNonExistentWatch, ErrClosed, ErrEventOverflow and friends), here
// generalized into a Kind enum instead of a flat set of sentinel
// values, since jfindd's supervisor needs to branch on kind rather than
// on identity.
package xerrors

import (
	goerrors "errors"

	"github.com/pkg/errors"

	"jfindd/internal/dispatch"
	"jfindd/internal/index"
)

// Kind classifies an error for the supervisor's dispatch loop.
type Kind int

const (
	// Local errors are logged once (subject to the complained flag
	// elsewhere) and do not interrupt the generation.
	Local Kind = iota
	// Drift means the kernel notification queue overflowed; the
	// supervisor must tear down and restart after a backoff.
	Drift
	// Fatal means the current generation cannot continue at all:
	// initializing the subscription handle failed, a read error hit
	// the subscription handle or listening socket, error readiness
	// was reported on either, or a path exceeded the length limit
	// during indexing.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Drift:
		return "drift"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify inspects err and reports Drift for the dispatcher's
// overflow sentinel and Fatal for everything else; it never returns
// Local, since local errors are logged where they occur and never
// reach the supervisor.
func Classify(err error) Kind {
	switch {
	case goerrors.Is(err, dispatch.ErrDrift):
		return Drift
	case goerrors.Is(err, index.ErrPathTooLong):
		return Fatal
	default:
		return Fatal
	}
}

// Wrap annotates err with a stack-trace-carrying context message using
// the same wrapping library the Indexer uses for its own internal
// errors, so a fatal error logged at the top of the
// supervisor loop still shows where in the generation it originated.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
