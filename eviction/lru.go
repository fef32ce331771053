package eviction

// lruNode represents ONE key inside the LRU structure. We use a doubly-linked list to track usage order.
type lruNode struct {
	// key is the cache key this node represents
	key string

	// prev points towards the head (more recently used)
	prev *lruNode

	// next points towards the tail (less recently used)
	next *lruNode
}

// lru is the concrete implementation of the LRU eviction policy.
type lru struct {
	// nodes maps cache keys to their corresponding list nodes.
	// This allows us to find and move nodes in O(1) time.
	nodes map[string]*lruNode

	// head points to the MOST recently used key
	head *lruNode

	// tail points to the LEAST recently used key
	tail *lruNode
}

func newLRU() *lru {
	return &lru{nodes: make(map[string]*lruNode)}
}

// OnGet moves a served page to the front of the list.
func (l *lru) OnGet(k string) {
	if n, ok := l.nodes[k]; ok {
		l.moveToFront(n)
	}
}

// OnPut marks a stored page as most recently used. A refetched page counts
// as a use.
func (l *lru) OnPut(k string) {
	if n, ok := l.nodes[k]; ok {
		l.moveToFront(n)
		return
	}
	n := &lruNode{key: k}
	l.nodes[k] = n
	l.addFront(n)
}

// Evict removes the least recently used key, which is always at the tail.
func (l *lru) Evict() string {
	if l.tail == nil {
		return ""
	}
	k := l.tail.key
	l.remove(l.tail)
	delete(l.nodes, k)
	return k
}

// Remove forgets a key that was dropped outside of Evict.
func (l *lru) Remove(k string) {
	if n, ok := l.nodes[k]; ok {
		l.remove(n)
		delete(l.nodes, k)
	}
}

// addFront adds a node to the front of the linked list. This marks the node as "most recently used".
func (l *lru) addFront(n *lruNode) {
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n

	// If the list was empty, head and tail are the same
	if l.tail == nil {
		l.tail = n
	}
}

// remove unlinks a node and clears its own pointers so it can be re-added.
func (l *lru) remove(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// Order walks from the tail, so the least recently used page comes first.
func (l *lru) Order() []string {
	out := make([]string, 0, len(l.nodes))
	for n := l.tail; n != nil; n = n.prev {
		out = append(out, n.key)
	}
	return out
}

func (l *lru) Len() int { return len(l.nodes) }

// moveToFront is used when a key is accessed.
// 1. Remove node from its current position
// 2. Add it to the front
// This marks it as most recently used.
func (l *lru) moveToFront(n *lruNode) {
	l.remove(n)
	l.addFront(n)
}
