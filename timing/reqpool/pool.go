package reqpool

// Pool owns every live Req by index, providing free-list semantics in
// place of raw pointer arithmetic (see Design Notes on ownership).
type Pool struct {
	slots []Req
	live  []bool
	free  []Index
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Alloc reserves a fresh slot, zeroes it, and returns its index. The
// returned request's InvlReq and WrbReq are initialized to NoIndex.
func (p *Pool) Alloc() Index {
	var idx Index
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = Index(len(p.slots))
		p.slots = append(p.slots, Req{})
		p.live = append(p.live, false)
	}
	p.slots[idx] = Req{InvlReq: NoIndex, WrbReq: NoIndex}
	p.live[idx] = true
	return idx
}

// Free returns idx to the free list. Freeing an index that is not
// currently live, or freeing NoIndex, is a bug: it means some owner
// believed it still held the request.
func (p *Pool) Free(idx Index) {
	if idx == NoIndex {
		panic("reqpool: free of NoIndex")
	}
	if !p.live[idx] {
		panic("reqpool: double free")
	}
	p.live[idx] = false
	p.free = append(p.free, idx)
}

// Get returns a pointer to the live request at idx. It panics if idx is
// not currently live: every caller is expected to hold a valid index
// for as long as it believes it owns the request.
func (p *Pool) Get(idx Index) *Req {
	if idx == NoIndex || !p.live[idx] {
		panic("reqpool: access to freed or invalid index")
	}
	return &p.slots[idx]
}

// IsLive reports whether idx currently names a live request, without
// panicking. Useful for optional companion indices (InvlReq/WrbReq).
func (p *Pool) IsLive(idx Index) bool {
	if idx == NoIndex {
		return false
	}
	return int(idx) < len(p.live) && p.live[idx]
}

// InUse returns the number of currently-allocated (not freed) slots.
func (p *Pool) InUse() int {
	return len(p.slots) - len(p.free)
}
