package netmux

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jfindd/internal/dispatch"
	"jfindd/internal/index"
	"jfindd/internal/inotifywatch"
	"jfindd/internal/ptree"
)

func TestMuxServesQueryOverSocket(t *testing.T) {
	watch, err := inotifywatch.Init()
	if err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}
	defer watch.Close()

	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	root := ptree.NewRoot()
	disp := dispatch.New(root, watch, index.NullLogger())
	ix := &index.Indexer{Root: root, Watch: watch, Log: index.NullLogger(), Drain: disp.DrainAvailable}
	disp.Reindex = ix.ReindexSweep
	if err := ix.IndexFrom(dir); err != nil {
		t.Fatalf("IndexFrom: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "socket")
	listenFd, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	mux, err := New(listenFd, disp, root, index.NullLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mux.Close()

	done := make(chan error, 1)
	go func() { done <- mux.Run() }()

	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("b\n")); err != nil {
		t.Fatalf("write query: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	line1, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read result line: %v", err)
	}
	wantLine := filepath.Join(dir, "b") + "\n"
	if line1 != wantLine {
		t.Fatalf("line1 = %q, want %q", line1, wantLine)
	}
	line2, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read terminator: %v", err)
	}
	if line2 != "\n" {
		t.Fatalf("line2 = %q, want terminator", line2)
	}
}
