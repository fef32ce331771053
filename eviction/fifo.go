package eviction

type fifo struct {
	// queue keeps keys in the order they were inserted.
	// The front of the queue (index 0) is the oldest key.
	queue []string

	// set keeps track of which keys are currently in the queue.
	set map[string]struct{}
}

func newFIFO() *fifo {
	return &fifo{
		queue: make([]string, 0),
		set:   make(map[string]struct{}),
	}
}

// FIFO ignores reads completely.
func (f *fifo) OnGet(string) {}

// OnPut only records the first insertion of a key; refetching a page does
// not move it to the back of the queue.
func (f *fifo) OnPut(k string) {
	if _, ok := f.set[k]; ok {
		return
	}
	f.queue = append(f.queue, k)
	f.set[k] = struct{}{}
}

// Evict returns the oldest inserted key.
func (f *fifo) Evict() string {
	if len(f.queue) == 0 {
		return ""
	}
	k := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.set, k)
	return k
}

func (f *fifo) Order() []string {
	out := make([]string, len(f.queue))
	copy(out, f.queue)
	return out
}

func (f *fifo) Len() int { return len(f.queue) }

// Remove forgets a key that was dropped outside of Evict.
func (f *fifo) Remove(k string) {
	if _, ok := f.set[k]; !ok {
		return
	}
	delete(f.set, k)

	for i, v := range f.queue {
		if v == k {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
}
