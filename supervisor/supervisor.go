// Package supervisor drives the daemon's restart-on-drift lifecycle
// described in spec.md §4.8: build a fresh watch manager and tree for
// every generation, index the configured roots, run the connection
// multiplexer until it reports drift, then tear down and retry with
// exponential backoff.
//
// Grounded on the original jfindd's daemon/main.c generation loop (one
// inotify instance, one tree, one indexing pass, then the event loop,
// repeated forever on overflow) and on the teacher's top-level
// NewWatcher/Close lifecycle pairing in fsnotify.go.
package supervisor

import (
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"jfindd/internal/dispatch"
	"jfindd/internal/index"
	"jfindd/internal/inotifywatch"
	"jfindd/internal/netmux"
	"jfindd/internal/ptree"
	"jfindd/internal/trace"
	"jfindd/internal/xerrors"
)

// initialBackoff and maxBackoff bound the re-index sleep per spec.md
// §4.8: 5 seconds initially, doubling after every drift, capped at 300.
const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 300 * time.Second
)

// Config holds the daemon's command-line-derived settings.
type Config struct {
	Roots []string
	Debug bool
	Quiet bool
}

// Supervisor owns the listening socket and the backoff clock between
// generations. The socket is bound in New and bound afresh after every
// drift, since the multiplexer closes it when it unwinds.
type Supervisor struct {
	cfg        Config
	socketPath string
	listenFd   int
	log        *log.Logger
	backoff    time.Duration
}

// New binds the listening socket at socketPath and returns a
// Supervisor ready to Run. The tree, watch manager, and dispatcher are
// rebuilt each generation; the socket is rebound at the same path
// after each drift.
func New(cfg Config, socketPath string, logger *log.Logger) (*Supervisor, error) {
	listenFd, err := netmux.Listen(socketPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	return &Supervisor{
		cfg:        cfg,
		socketPath: socketPath,
		listenFd:   listenFd,
		log:        logger,
		backoff:    initialBackoff,
	}, nil
}

// Run loops forever: each iteration is one generation (fresh inotify
// instance, fresh tree, an initial indexing pass, then the connection
// multiplexer) until either a fatal error is returned (the whole
// process should exit, since spec.md classifies these as unrecoverable)
// or the multiplexer reports drift, in which case Run sleeps the
// current backoff, doubles it up to the cap, and starts the next
// generation.
func (s *Supervisor) Run() error {
	for {
		genID := uuid.New()
		drift, err := s.runGeneration(genID)
		if err != nil {
			return xerrors.Wrap(err, "generation %s", genID)
		}
		if !drift {
			return nil
		}

		s.log.Printf("generation %s: kernel notification queue overflowed, restarting in %s", genID, s.backoff)
		time.Sleep(s.backoff)
		s.backoff *= 2
		if s.backoff > maxBackoff {
			s.backoff = maxBackoff
		}
	}
}

// runGeneration builds one complete generation's state, indexes every
// configured root, and runs the multiplexer to completion. It reports
// (true, nil) on drift, (false, nil) only if the multiplexer returned
// without error for a reason other than drift (which does not happen
// in the current design, but the shape is kept honest), and (_, err)
// on any fatal condition.
func (s *Supervisor) runGeneration(genID uuid.UUID) (drift bool, err error) {
	watch, err := inotifywatch.Init()
	if err != nil {
		return false, fmt.Errorf("initialize subscription handle: %w", err)
	}
	defer watch.Close()

	root := ptree.NewRoot()
	root.Indexed = false

	disp := dispatch.New(root, watch, s.log)
	disp.Quiet = s.cfg.Quiet
	disp.Debug = s.cfg.Debug
	if s.cfg.Debug {
		disp.Trace = s.traceLine
	}

	ix := &index.Indexer{
		Root:  root,
		Watch: watch,
		Log:   s.log,
		Quiet: s.cfg.Quiet,
		Drain: disp.DrainAvailable,
	}
	disp.Reindex = ix.ReindexSweep

	start := time.Now()
	nodes := 0
	for _, p := range s.cfg.Roots {
		if err := ix.IndexFrom(p); err != nil {
			if index.ErrDrift(err) {
				return true, nil
			}
			return false, fmt.Errorf("index %s: %w", p, err)
		}
	}
	ptree.Traverse(root, "/", func(string) int { nodes++; return 0 })
	elapsed := time.Since(start).Seconds()
	s.log.Printf("generation %s: indexing took %.3fs, %s nodes", genID, elapsed, humanize.Comma(int64(nodes)))

	root.Indexed = true

	mux, err := netmux.New(s.listenFd, disp, root, s.log)
	if err != nil {
		return false, fmt.Errorf("build connection multiplexer: %w", err)
	}

	err = mux.Run()
	if err == nil {
		return false, nil
	}
	if xerrors.Classify(err) == xerrors.Drift {
		// Run closed every descriptor on its way out, the listening
		// socket included; bind a fresh one for the next generation.
		listenFd, lerr := netmux.Listen(s.socketPath)
		if lerr != nil {
			return false, fmt.Errorf("rebind listening socket: %w", lerr)
		}
		s.listenFd = listenFd
		return true, nil
	}
	return false, err
}

func (s *Supervisor) traceLine(wd int32, watchedPath string, mask, cookie uint32, name string) {
	trace.Event(s.log.Writer(), wd, watchedPath, mask, cookie, name)
}
