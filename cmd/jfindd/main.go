// Command jfindd is the filesystem-search daemon: it indexes one or
// more directory trees in memory, keeps the index live via inotify,
// and answers substring queries over a UNIX domain socket.
//
// Grounded on the teacher's cmd/fsnotify/main.go top-level shape
// (usage string, exit-on-bad-usage helper), with argument parsing
// replaced by github.com/spf13/pflag for the long+short flag pairing
// spec.md's CLI surface requires.
package main

import (
	"fmt"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"jfindd/supervisor"
)

const usage = `jfindd indexes one or more directories and answers substring
search queries over a UNIX domain socket.

Usage:

    jfindd [flags] path [path...]

Flags:
`

func exit(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "jfindd: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("jfindd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	var (
		debug  bool
		quiet  bool
		socket string
		help   bool
	)
	fs.BoolVarP(&debug, "debug", "d", false, "enable per-event trace output")
	fs.BoolVarP(&quiet, "quiet", "q", false, "suppress recurring error reports")
	fs.StringVarP(&socket, "socket", "s", "./socket", "UNIX socket path to listen on")
	fs.BoolVarP(&help, "help", "h", false, "print usage")

	if err := fs.Parse(os.Args[1:]); err != nil {
		// ContinueOnError makes pflag return the error without
		// printing it or exiting, so it is printed here and the
		// documented exit code (1) is ours to pick.
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(1)
	}
	if help {
		fs.Usage()
		os.Exit(0)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "jfindd: ", log.LstdFlags)

	sup, err := supervisor.New(supervisor.Config{
		Roots: fs.Args(),
		Debug: debug,
		Quiet: quiet,
	}, socket, logger)
	if err != nil {
		exit("%v", err)
	}
	if err := sup.Run(); err != nil {
		exit("%v", err)
	}
}
