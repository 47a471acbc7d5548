package clientbuf

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"jfindd/internal/ptree"
	"jfindd/internal/testdiff"
)

// socketpair returns two connected, bidirectional UNIX sockets: one to
// hand to a Buffer as its fd, one for the test to act as the remote
// client.
func socketpair(t *testing.T) (serverFd, clientFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func echoQueryTraversal(root *ptree.Node, query string, w io.Writer) error {
	_, err := w.Write([]byte("matched:" + query + "\n"))
	return err
}

func TestHandleReadableEchoesOneQuery(t *testing.T) {
	serverFd, clientFd := socketpair(t)
	root := ptree.NewRoot()
	buf := New(serverFd)

	if _, err := unix.Write(clientFd, []byte("hello\n")); err != nil {
		t.Fatalf("write query: %v", err)
	}
	if err := buf.HandleReadable(root, echoQueryTraversal); err != nil {
		t.Fatalf("HandleReadable: %v", err)
	}

	r := bufio.NewReader(&fdReader{fd: clientFd})
	line1, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read response line: %v", err)
	}
	if line1 != "matched:hello\n" {
		t.Fatalf("line1 = %q, want %q", line1, "matched:hello\n")
	}
	line2, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read terminator: %v", err)
	}
	if line2 != "\n" {
		t.Fatalf("line2 = %q, want terminator", line2)
	}
}

func TestHandleReadableProcessesMultipleQueriesInOneRead(t *testing.T) {
	serverFd, clientFd := socketpair(t)
	root := ptree.NewRoot()
	buf := New(serverFd)

	if _, err := unix.Write(clientFd, []byte("a\nb\n")); err != nil {
		t.Fatalf("write queries: %v", err)
	}
	if err := buf.HandleReadable(root, echoQueryTraversal); err != nil {
		t.Fatalf("HandleReadable: %v", err)
	}
	if len(buf.data) != 0 {
		t.Fatalf("buffer not fully drained: %d bytes left", len(buf.data))
	}

	r := bufio.NewReader(&fdReader{fd: clientFd})
	var got []string
	for i := 0; i < 4; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read line %d: %v", i, err)
		}
		got = append(got, line)
	}
	want := []string{"matched:a\n", "\n", "matched:b\n", "\n"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q (full=%v)", i, got[i], want[i], got)
		}
	}
}

func TestHandleReadablePartialLineStaysBuffered(t *testing.T) {
	serverFd, clientFd := socketpair(t)
	root := ptree.NewRoot()
	buf := New(serverFd)

	if _, err := unix.Write(clientFd, []byte("no-newline-yet")); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	if err := buf.HandleReadable(root, echoQueryTraversal); err != nil {
		t.Fatalf("HandleReadable: %v", err)
	}
	if string(buf.data) != "no-newline-yet" {
		t.Fatalf("buffer = %q, want the unterminated partial line retained", buf.data)
	}
}

func TestSubstringTraversalFindsMatches(t *testing.T) {
	root := ptree.NewRoot()
	ptree.CreatePath(root, "/a/bx")
	ptree.CreatePath(root, "/a/y")

	var sb strings.Builder
	if err := SubstringTraversal(root, "bx", &sb); err != nil {
		t.Fatalf("SubstringTraversal: %v", err)
	}
	if sb.String() != "/a/bx\n" {
		t.Fatalf("got %q, want /a/bx\\n", sb.String())
	}
}

func TestSubstringTraversalEmptyQueryMatchesEverything(t *testing.T) {
	root := ptree.NewRoot()
	ptree.CreatePath(root, "/a/b")

	var sb strings.Builder
	if err := SubstringTraversal(root, "", &sb); err != nil {
		t.Fatalf("SubstringTraversal: %v", err)
	}
	got := sb.String()
	for _, want := range []string{"/\n", "/a/\n", "/a/b\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestSubstringTraversalMultipleMatchesSortedSetMatches(t *testing.T) {
	root := ptree.NewRoot()
	ptree.CreatePath(root, "/a/report-jan")
	ptree.CreatePath(root, "/a/report-feb")
	ptree.CreatePath(root, "/a/notes")

	var sb strings.Builder
	if err := SubstringTraversal(root, "report", &sb); err != nil {
		t.Fatalf("SubstringTraversal: %v", err)
	}

	got := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	sort.Strings(got)
	want := []string{"/a/report-feb", "/a/report-jan"}

	if d := testdiff.Diff(strings.Join(got, "\n"), strings.Join(want, "\n")); d != "" {
		t.Fatalf("result set mismatch:\n%s", d)
	}
}

// fdReader adapts a raw fd to io.Reader for test-side response reading.
type fdReader struct{ fd int }

func (r *fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
