// Package ptree implements the in-memory mirror of a filesystem subtree:
// nodes, parent/child links and the path operations used to translate
// between a Node and its absolute pathname.
//
// It is grounded on the teacher's watch-descriptor bookkeeping in
// backend_inotify.go (the `watches` type mapping wd <-> path) and on
// the original jfindd's treenode.c, generalized from a C union-free
// struct into a Go type with an explicit Dir field.
package ptree

import (
	"path"
	"strings"
)

// Node represents a single name at a position in the mirrored tree.
//
// A Node is owned by its parent's Dir.Children slice; the synthetic
// root is owned by whoever constructs it (the supervisor). Parent is a
// non-owning back-reference: freeing a parent must clear and release
// its children, never the reverse.
type Node struct {
	Name   string // empty only for the synthetic root
	Parent *Node  // nil only for the synthetic root

	Dir *Dir // non-nil iff this node is a live directory

	// Indexed is false for a directory whose children have not yet
	// been enumerated by the indexer; the reindex sweep revisits it.
	Indexed bool

	// Complained suppresses duplicate error reports for this node.
	Complained bool
}

// Dir holds the directory-only bookkeeping for a Node. Leaves (regular
// files, symlinks, anything that isn't a real directory) carry no Dir
// at all — that absence is also the predicate for "is this a
// directory?", matching the original's DirInfo/TreeNode split.
type Dir struct {
	Owner    *Node
	Children []*Node // insertion order; not sorted

	// WD is the kernel watch-descriptor for this directory, or -1 if
	// none is currently installed (watch failed, or not yet visited).
	WD int
}

// NoWatch is the sentinel Dir.WD value meaning "no kernel watch
// installed on this directory".
const NoWatch = -1

// NewRoot allocates the synthetic, nameless root node with an attached
// Dir record. The root's Indexed flag starts false; the indexer sets it
// once its roots have been seeded under it.
func NewRoot() *Node {
	root := &Node{Name: ""}
	root.Dir = &Dir{Owner: root, WD: NoWatch}
	return root
}

// NewNode allocates a detached leaf node with the given name. name must
// not contain the path separator.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// IsDir reports whether n is a live directory.
func (n *Node) IsDir() bool { return n.Dir != nil }

// AddChild appends child to parent's children and sets child's parent
// link. parent must have a Dir; child must not already have a parent.
func AddChild(parent, child *Node) {
	if parent.Dir == nil {
		panic("ptree: AddChild: parent has no directory record")
	}
	if child.Parent != nil {
		panic("ptree: AddChild: child already has a parent")
	}
	parent.Dir.Children = append(parent.Dir.Children, child)
	child.Parent = parent
}

// RemoveNode detaches node from its parent's children by pointer
// identity. It reports whether node was found; a false return means the
// tree was already inconsistent and the caller should log and continue
// rather than crash, per the spec's production-build policy.
func RemoveNode(node *Node) bool {
	if node.Parent == nil {
		panic("ptree: RemoveNode: node has no parent")
	}
	siblings := node.Parent.Dir.Children
	for i, c := range siblings {
		if c == node {
			copy(siblings[i:], siblings[i+1:])
			siblings[len(siblings)-1] = nil
			node.Parent.Dir.Children = siblings[:len(siblings)-1]
			node.Parent = nil
			return true
		}
	}
	return false
}

// splitFirst returns the first path component of p and the remainder,
// with leading and trailing separators stripped. An empty first
// component (root-only path) comes back as ("", "").
func splitFirst(p string) (head, rest string) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ""
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

func childNamed(d *Dir, name string) *Node {
	for _, c := range d.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildNamed returns parent's child named name, or nil if parent is not
// a directory or has no such child. Exposed so callers that re-populate
// an already-indexed directory (the indexer's reindex sweep) can reuse
// an existing child instead of inserting a duplicate.
func ChildNamed(parent *Node, name string) *Node {
	if !parent.IsDir() {
		return nil
	}
	return childNamed(parent.Dir, name)
}

// Lookup walks absolute path p from root, descending only through
// directory nodes, and returns the terminal node or nil if there is no
// such node. Lookup never mutates the tree. An empty path or a
// root-only path ("/") both return root.
func Lookup(root *Node, p string) *Node {
	cur := root
	head, rest := splitFirst(p)
	for head != "" {
		if !cur.IsDir() {
			return nil
		}
		child := childNamed(cur.Dir, head)
		if child == nil {
			return nil
		}
		cur = child
		head, rest = splitFirst(rest)
	}
	return cur
}

// CreatePath is like Lookup but materializes missing intermediate
// components as directory nodes with Indexed=false. It returns nil if
// an existing intermediate component is a leaf (not-a-directory).
func CreatePath(root *Node, p string) *Node {
	cur := root
	head, rest := splitFirst(p)
	for head != "" {
		if !cur.IsDir() {
			return nil
		}
		child := childNamed(cur.Dir, head)
		if child == nil {
			child = NewNode(head)
			AddChild(cur, child)
			// Only the terminal component is left as a leaf; every
			// intermediate one seeded here is a directory by
			// construction, so give it a Dir immediately.
			if rest != "" {
				child.Dir = &Dir{Owner: child, WD: NoWatch}
			}
		}
		cur = child
		head, rest = splitFirst(rest)
	}
	return cur
}

// RemovePath looks up p and detaches it from its parent, returning the
// detached node, or nil if there was no such node.
func RemovePath(root *Node, p string) *Node {
	node := Lookup(root, p)
	if node == nil || node == root {
		return nil
	}
	RemoveNode(node)
	return node
}

// AbsoluteName builds the absolute path of node by walking to the root.
// Directory nodes get a trailing separator; the root's absolute name is
// the single separator "/".
func AbsoluteName(node *Node) string {
	if node.Parent == nil {
		return "/"
	}
	var parts []string
	for n := node; n.Parent != nil; n = n.Parent {
		parts = append(parts, n.Name)
	}
	// parts is leaf-to-root; reverse it.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	p := "/" + path.Join(parts...)
	if node.IsDir() && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Callback is invoked by Traverse for every visited node with the
// node's absolute path. A non-zero return aborts the traversal and that
// value propagates out of Traverse.
type Callback func(absPath string) int

// Traverse performs a depth-first, pre-order walk starting at the node
// found at startPath, calling cb with each visited node's absolute
// path. Children are visited in insertion order. It returns -1 if
// startPath does not resolve to a node in the tree, the value returned
// by cb if the callback aborted the walk, or 0 on a full traversal.
func Traverse(root *Node, startPath string, cb Callback) int {
	start := Lookup(root, startPath)
	if start == nil {
		return -1
	}
	return traverse(start, cb)
}

func traverse(n *Node, cb Callback) int {
	if rc := cb(AbsoluteName(n)); rc != 0 {
		return rc
	}
	if n.IsDir() {
		for _, c := range n.Dir.Children {
			if rc := traverse(c, cb); rc != 0 {
				return rc
			}
		}
	}
	return 0
}
