package dispatch

import (
	"errors"
	"log"
	"sort"
	"testing"

	"golang.org/x/sys/unix"

	"jfindd/internal/inotifywatch"
	"jfindd/internal/ptree"
)

func newTestRoot() (*ptree.Node, *ptree.Node) {
	root := ptree.NewRoot()
	root.Indexed = true
	sub := ptree.NewNode("sub")
	sub.Dir = &ptree.Dir{Owner: sub, WD: 7}
	ptree.AddChild(root, sub)
	sub.Indexed = true
	return root, sub
}

func nullLog() *log.Logger { return log.New(discard{}, "", 0) }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// managerFor returns a real inotify-backed Manager. Tests register a
// node's watch against a path known to exist (/tmp) purely to populate
// the wd->Dir index the dispatcher consults, and skip if that Watch
// call fails. managerFor itself panics if no inotify instance can be
// created at all.
func managerFor() *inotifywatch.Manager {
	m, err := inotifywatch.Init()
	if err != nil {
		panic(err)
	}
	return m
}

func treePaths(root *ptree.Node) []string {
	var got []string
	ptree.Traverse(root, "/", func(p string) int {
		got = append(got, p)
		return 0
	})
	sort.Strings(got)
	return got
}

func TestDispatchCreateAddsChild(t *testing.T) {
	root, sub := newTestRoot()
	watch := managerFor()
	defer watch.Close()
	// Register sub's WD in the manager's index via a real Watch call
	// would require a live fd target; instead we poke the unexported
	// map indirectly through the public Watch path using /tmp, which
	// always exists on a test runner.
	if err := watch.Watch(sub, "/tmp"); err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}

	d := New(root, watch, nullLog())
	err := d.DispatchBatch([]inotifywatch.Event{
		{WD: int32(sub.Dir.WD), Mask: unix.IN_CREATE, Name: "new-file"},
	})
	if err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}

	got := treePaths(root)
	want := []string{"/", "/sub/", "/sub/new-file"}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want[%d]=%q (full=%v)", i, got[i], i, want[i], got)
		}
	}
}

func TestDispatchDeleteRemovesChild(t *testing.T) {
	root, sub := newTestRoot()
	watch := managerFor()
	defer watch.Close()
	if err := watch.Watch(sub, "/tmp"); err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}
	leaf := ptree.NewNode("gone")
	ptree.AddChild(sub, leaf)
	leaf.Indexed = true

	d := New(root, watch, nullLog())
	if err := d.DispatchBatch([]inotifywatch.Event{
		{WD: int32(sub.Dir.WD), Mask: unix.IN_DELETE, Name: "gone"},
	}); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}

	for _, p := range treePaths(root) {
		if p == "/sub/gone" {
			t.Fatalf("deleted node still present: %v", treePaths(root))
		}
	}
}

func TestDispatchRenamePairing(t *testing.T) {
	root, sub := newTestRoot()
	watch := managerFor()
	defer watch.Close()
	if err := watch.Watch(sub, "/tmp"); err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}
	a := ptree.NewNode("a")
	ptree.AddChild(sub, a)
	a.Indexed = true

	d := New(root, watch, nullLog())
	err := d.DispatchBatch([]inotifywatch.Event{
		{WD: int32(sub.Dir.WD), Mask: unix.IN_MOVED_FROM, Cookie: 42, Name: "a"},
		{WD: int32(sub.Dir.WD), Mask: unix.IN_MOVED_TO, Cookie: 42, Name: "z"},
	})
	if err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}

	got := treePaths(root)
	foundA, foundZ := false, false
	for _, p := range got {
		if p == "/sub/a" {
			foundA = true
		}
		if p == "/sub/z" {
			foundZ = true
		}
	}
	if foundA {
		t.Fatalf("old name still present: %v", got)
	}
	if !foundZ {
		t.Fatalf("renamed node missing: %v", got)
	}
	if d.renames.Len() != 0 {
		t.Fatalf("rename table not drained: %d entries left", d.renames.Len())
	}
}

func TestDispatchUnpairedMoveFromIsSweptAway(t *testing.T) {
	root, sub := newTestRoot()
	watch := managerFor()
	defer watch.Close()
	if err := watch.Watch(sub, "/tmp"); err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}
	a := ptree.NewNode("a")
	ptree.AddChild(sub, a)
	a.Indexed = true

	d := New(root, watch, nullLog())
	if err := d.DispatchBatch([]inotifywatch.Event{
		{WD: int32(sub.Dir.WD), Mask: unix.IN_MOVED_FROM, Cookie: 9, Name: "a"},
	}); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
	if d.renames.Len() != 0 {
		t.Fatalf("unpaired rename not swept: %d entries left", d.renames.Len())
	}
	for _, p := range treePaths(root) {
		if p == "/sub/a" {
			t.Fatalf("unpaired moved-from node still present: %v", treePaths(root))
		}
	}
}

func TestDispatchQueueOverflowReportsDrift(t *testing.T) {
	root, sub := newTestRoot()
	watch := managerFor()
	defer watch.Close()
	if err := watch.Watch(sub, "/tmp"); err != nil {
		t.Skipf("inotify unavailable in this environment: %v", err)
	}

	d := New(root, watch, nullLog())
	err := d.DispatchBatch([]inotifywatch.Event{
		{Mask: unix.IN_Q_OVERFLOW},
	})
	if !errors.Is(err, ErrDrift) {
		t.Fatalf("DispatchBatch err = %v, want ErrDrift", err)
	}
}

func TestDispatchUnknownWatchDescriptorIgnored(t *testing.T) {
	root, _ := newTestRoot()
	watch := managerFor()
	defer watch.Close()

	d := New(root, watch, nullLog())
	if err := d.DispatchBatch([]inotifywatch.Event{
		{WD: 99999, Mask: unix.IN_CREATE, Name: "x"},
	}); err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
}
