package lru

// node is an intrusive doubly linked list element. A Shard's list owns the
// forward chain exclusively through head/next; prev is a non-owning
// back-pointer kept only so a node can be spliced out in O(1). Never walk
// the prev chain as though it owned anything — it exists purely for
// O(1) removal, never for destruction.
type node struct {
	key   string
	value []byte

	prev *node
	next *node
}

// size is the byte cost this entry charges against the shard's budget.
func (n *node) size() int { return len(n.key) + len(n.value) }
