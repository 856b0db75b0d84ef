// Package bufpool implements the process-wide, thread-safe buffer pool
// collaborator described in spec.md §6. The stream handler and packet codec
// rent sized byte buffers here instead of allocating per frame; callers must
// return every rented buffer on all exit paths, including error paths.
package bufpool

import "sync"

// Pool rents and returns byte slices bucketed by capacity class. A
// sync.Pool per size class keeps the fast path allocation-free under
// steady-state load while still letting the GC reclaim buffers under
// memory pressure, the standard idiom for a pooled byte-buffer cache.
type Pool struct {
	maxBufferSize int
	classes       []int
	pools         []*sync.Pool
}

// New creates a Pool whose size classes are those of 256, 1024, 4096,
// 16384 and 65536 bytes that do not exceed maxBufferSize. Requests for
// buffers above the largest such class still succeed (Rent falls back to a
// bare allocation) but are not pooled.
func New(maxBufferSize int) *Pool {
	classes := []int{256, 1024, 4096, 16384, 65536}
	p := &Pool{maxBufferSize: maxBufferSize}
	for _, c := range classes {
		if c > maxBufferSize {
			break
		}
		size := c
		p.classes = append(p.classes, size)
		p.pools = append(p.pools, &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		})
	}
	return p
}

// MaxBufferSize reports the maxBufferSize the Pool was created with.
func (p *Pool) MaxBufferSize() int { return p.maxBufferSize }

func (p *Pool) classFor(size int) int {
	for i, c := range p.classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Rent returns a byte slice with length == size. The slice's backing array
// may be larger than size and may contain stale data from a previous
// tenant; callers that need a clean buffer should zero it themselves.
func (p *Pool) Rent(size int) []byte {
	idx := p.classFor(size)
	if idx < 0 {
		return make([]byte, size)
	}
	bufp := p.pools[idx].Get().(*[]byte)
	buf := *bufp
	if cap(buf) < size {
		buf = make([]byte, p.classes[idx])
	}
	return buf[:size]
}

// Return releases buf back to its size class. If clear is true the buffer
// is zeroed first, which callers should request for buffers that held
// decrypted plaintext or key material.
func (p *Pool) Return(buf []byte, clear bool) {
	idx := p.classFor(cap(buf))
	if idx < 0 {
		return
	}
	full := buf[:cap(buf)]
	if clear {
		for i := range full {
			full[i] = 0
		}
	}
	p.pools[idx].Put(&full)
}
