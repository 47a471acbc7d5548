// Command jfind is the query client for jfindd: it connects to the
// daemon's UNIX socket, sends one query line, and prints the streamed
// response up to the blank-line terminator.
//
// Grounded on the teacher's cmd/fsnotify/main.go top-level shape; this
// client has no subcommands, so the usage/exit helpers are trimmed to
// the single-purpose case.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	flag "github.com/spf13/pflag"
)

const usage = `jfind sends one substring query to a running jfindd daemon and
prints the matching paths.

Usage:

    jfind [flags] query

Flags:
`

func exit(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "jfind: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("jfind", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	var socket string
	fs.StringVarP(&socket, "socket", "s", "./socket", "UNIX socket path to connect to")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fs.Usage()
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	query := fs.Arg(0)

	conn, err := net.Dial("unix", socket)
	if err != nil {
		exit("connect %s: %v", socket, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", query); err != nil {
		exit("send query: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		fmt.Println(line)
	}
	if err := scanner.Err(); err != nil {
		exit("read response: %v", err)
	}
}
