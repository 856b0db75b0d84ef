package connection

// fifoCapacity bounds the incoming FIFO cache. The outgoing dedup cache
// described in spec.md §3 lives in internal/stream instead: its fingerprint
// is computed and inserted in the Stream Handler's send path (spec.md §4.4),
// so keeping it there avoids splitting one cache's state across two packages.
const fifoCapacity = 20

// incomingFIFO is a bounded queue of materialized payloads awaiting
// dispatch. Overflow drops the oldest entry, per spec.md §3.
type incomingFIFO struct {
	items [][]byte
}

func newIncomingFIFO() *incomingFIFO {
	return &incomingFIFO{items: make([][]byte, 0, fifoCapacity)}
}

// Push appends payload, dropping the oldest entry if the queue is full.
// Returns true if an item was dropped.
func (q *incomingFIFO) Push(payload []byte) (dropped bool) {
	if len(q.items) >= fifoCapacity {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, payload)
	return dropped
}

// Pop removes and returns the oldest payload, or (nil, false) if empty.
func (q *incomingFIFO) Pop() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Peek returns the oldest payload without removing it.
func (q *incomingFIFO) Peek() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Len reports the number of queued payloads.
func (q *incomingFIFO) Len() int { return len(q.items) }
