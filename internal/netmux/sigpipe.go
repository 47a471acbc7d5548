package netmux

import (
	"os/signal"
	"syscall"
)

// ignoreSigpipe installs the process-wide broken-pipe policy spec.md
// §5 requires: a client closing its read side must surface as a normal
// write error on that one connection, never as process termination.
func ignoreSigpipe() {
	signal.Ignore(syscall.SIGPIPE)
}
