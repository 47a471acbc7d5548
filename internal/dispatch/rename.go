package dispatch

import "jfindd/internal/ptree"

// RenameTable is the transient cookie -> detached-node map used to pair
// a MOVED_FROM with its corresponding MOVED_TO. Keyed by the kernel's
// 32-bit event cookie, assumed unique within its lifetime.
type RenameTable struct {
	pending map[uint32]*ptree.Node
}

// NewRenameTable returns an empty table.
func NewRenameTable() *RenameTable {
	return &RenameTable{pending: make(map[uint32]*ptree.Node)}
}

// Insert records node as detached-by-FROM under cookie. It panics on a
// duplicate cookie: the kernel guarantees cookie uniqueness while a
// pairing is outstanding, so a collision means the dispatcher's bookkeeping
// has already gone wrong elsewhere.
func (t *RenameTable) Insert(cookie uint32, node *ptree.Node) {
	if _, dup := t.pending[cookie]; dup {
		panic("dispatch: duplicate rename cookie")
	}
	t.pending[cookie] = node
}

// Take removes and returns the node paired with cookie, or (nil, false)
// if no FROM event is pending under that cookie.
func (t *RenameTable) Take(cookie uint32) (*ptree.Node, bool) {
	node, ok := t.pending[cookie]
	if ok {
		delete(t.pending, cookie)
	}
	return node, ok
}

// Len reports the number of pairings still outstanding.
func (t *RenameTable) Len() int { return len(t.pending) }

// Sweep drains every remaining entry, calling free for each. Any entry
// still present at the end of a batch is a rename that left the
// watched subtree (the matching TO was never seen here); per spec.md
// §4.5 such a node is leaked-as-deleted and must be freed.
func (t *RenameTable) Sweep(free func(*ptree.Node)) {
	for cookie, node := range t.pending {
		delete(t.pending, cookie)
		free(node)
	}
}
