// Package mshr implements the Miss Status Holding Register file: the
// decision oracle for every transaction entering a cache.
package mshr

import (
	"github.com/sarchlab/cohecache/timing/coherence"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

// Response is notpres_mshr's result, reproduced exactly.
type Response int

const (
	MSHR_COAL Response = iota
	MSHR_NEW
	MSHR_FWD
	MSHR_STALL_WAR
	MSHR_STALL_COHE
	MSHR_STALL_COAL
	MSHR_STALL_WRB
	MSHR_USELESS_FETCH_IN_PROGRESS
	NOMSHR_STALL
	NOMSHR_STALL_COHE
	NOMSHR_STALL_WRBBUF_FULL
	NOMSHR_FWD
	NOMSHR
)

func (r Response) String() string {
	switch r {
	case MSHR_COAL:
		return "MSHR_COAL"
	case MSHR_NEW:
		return "MSHR_NEW"
	case MSHR_FWD:
		return "MSHR_FWD"
	case MSHR_STALL_WAR:
		return "MSHR_STALL_WAR"
	case MSHR_STALL_COHE:
		return "MSHR_STALL_COHE"
	case MSHR_STALL_COAL:
		return "MSHR_STALL_COAL"
	case MSHR_STALL_WRB:
		return "MSHR_STALL_WRB"
	case MSHR_USELESS_FETCH_IN_PROGRESS:
		return "MSHR_USELESS_FETCH_IN_PROGRESS"
	case NOMSHR_STALL:
		return "NOMSHR_STALL"
	case NOMSHR_STALL_COHE:
		return "NOMSHR_STALL_COHE"
	case NOMSHR_STALL_WRBBUF_FULL:
		return "NOMSHR_STALL_WRBBUF_FULL"
	case NOMSHR_FWD:
		return "NOMSHR_FWD"
	case NOMSHR:
		return "NOMSHR"
	default:
		return "Response(?)"
	}
}

// IsStall reports whether r is a back-pressure signal rather than a
// failure: the pipe head is left in place and retried next cycle.
func (r Response) IsStall() bool {
	switch r {
	case MSHR_STALL_WAR, MSHR_STALL_COHE, MSHR_STALL_COAL, MSHR_STALL_WRB,
		NOMSHR_STALL, NOMSHR_STALL_COHE, NOMSHR_STALL_WRBBUF_FULL:
		return true
	default:
		return false
	}
}

// CoheCategory classifies how a COHE/COHE_REPLY interacts with an
// MSHR-matched line, per §4.3.
type CoheCategory int

const (
	// CategoryA: cache held the line PR_* and the external message
	// demands copyback. Respond NACK_PEND; the directory must
	// reevaluate.
	CategoryA CoheCategory = iota
	// CategoryB: cache held the line SH_* and the external message is
	// an invalidate without a data demand. Coalesce the coherence type
	// into the MSHR.
	CategoryB
	// CategoryC: a WRB/REPL coherence reply matching a read MSHR in an
	// L1-WB cache. Mark the coalesced coherence INVL and additionally
	// NACK the WRB path.
	CategoryC
)

// Entry is one in-flight miss or upgrade record.
type Entry struct {
	Valid bool

	Addr   uint64
	SetNum int

	Primary   reqpool.Index
	Coalesced []reqpool.Index

	HasPendingCohe bool
	PendingCohe    reqpool.ReqType

	StallWAR      bool
	FirstDemand   uint64
	HaveFirstDem  bool
	OnlyPrefs     bool
	WritesPresent bool

	// ReservedWRB is set at L2: an outstanding WRB-buffer slot is
	// reserved for this MSHR (§8 invariant 3).
	ReservedWRB bool
}

// File is the fixed-size MSHR table for one cache.
type File struct {
	entries     []Entry
	maxCoalesce int
}

// New returns a File with room for n in-flight MSHRs, each able to
// coalesce up to maxCoalesce additional requests.
func New(n, maxCoalesce int) *File {
	return &File{entries: make([]Entry, n), maxCoalesce: maxCoalesce}
}

// Count returns the number of currently allocated MSHRs.
func (f *File) Count() int {
	c := 0
	for i := range f.entries {
		if f.entries[i].Valid {
			c++
		}
	}
	return c
}

// Size returns the total number of MSHR slots.
func (f *File) Size() int { return len(f.entries) }

// Entry exposes the MSHR at slot for read/write by the owning engine.
func (f *File) Entry(slot int) *Entry { return &f.entries[slot] }

// FindInMSHREntries returns the slot whose Addr matches addr, or -1.
func (f *File) FindInMSHREntries(addr uint64) int {
	for i := range f.entries {
		if f.entries[i].Valid && f.entries[i].Addr == addr {
			return i
		}
	}
	return -1
}

func (f *File) freeSlot() int {
	for i := range f.entries {
		if !f.entries[i].Valid {
			return i
		}
	}
	return -1
}

// DecisionInput bundles the context notpres_mshr needs beyond the MSHR
// file itself.
type DecisionInput struct {
	Addr      uint64
	Idx       reqpool.Index
	Req       *reqpool.Req
	State     coherence.LineState
	CohePend  bool
	Table     *coherence.Table
	IsL2      bool
	WrbUsed   int // slots currently reserved or held at L2
	WrbBufCap int // wrb_buf_size at L2
}

// NotPresMSHR is the decision oracle described in §4.3. It returns the
// Response, the coherence-table entry consulted (valid whenever a
// downstream message might be needed), and, when a new MSHR was
// allocated (MSHR_NEW or MSHR_FWD), the slot it occupies.
func (f *File) NotPresMSHR(in DecisionInput) (Response, int, coherence.Entry) {
	if slot := f.FindInMSHREntries(in.Addr); slot >= 0 {
		r, s := f.decideCoalesce(slot, in)
		return r, s, coherence.Entry{}
	}

	entry, ok := coherence.Lookup(in.Table, in.Req.Type, in.State)
	if !ok {
		panic("mshr: unknown request type in this line state")
	}

	if !entry.HasDownstream {
		if in.CohePend {
			if in.IsL2 {
				return NOMSHR_STALL_COHE, -1, entry
			}
			panic("mshr: cohe_pend set on a line with no MSHR and no downstream needed, at L1")
		}
		return NOMSHR, -1, entry
	}

	if isCacheMissWT(in.Req.Type, in.IsL2) {
		return NOMSHR_FWD, -1, entry
	}

	slot := f.freeSlot()
	if slot < 0 {
		return NOMSHR_STALL, -1, entry
	}
	if in.IsL2 {
		reserved := 0
		for i := range f.entries {
			if f.entries[i].Valid && f.entries[i].ReservedWRB {
				reserved++
			}
		}
		if reserved+1 > in.WrbBufCap-in.WrbUsed {
			return NOMSHR_STALL_WRBBUF_FULL, -1, entry
		}
	}

	isUpgrade := in.State != coherence.INVALID
	f.entries[slot] = Entry{
		Valid:       true,
		Addr:        in.Addr,
		Primary:     in.Idx,
		OnlyPrefs:   in.Req.Type.IsPrefetch(),
		ReservedWRB: in.IsL2,
	}
	if !in.Req.Type.IsPrefetch() {
		f.entries[slot].FirstDemand = in.Req.IssueCycle
		f.entries[slot].HaveFirstDem = true
	}
	if in.Req.Type.IsWrite() {
		f.entries[slot].WritesPresent = true
	}
	if isUpgrade {
		return MSHR_FWD, slot, entry
	}
	return MSHR_NEW, slot, entry
}

// isCacheMissWT reports the CACHE_MISS_WT condition: a write in an
// L1-WT cache, or an L2-prefetch request at L1 (handled as a
// non-allocating forward rather than an MSHR).
func isCacheMissWT(t reqpool.ReqType, isL2 bool) bool {
	if isL2 {
		return false
	}
	if t == reqpool.WRITE || t == reqpool.RMW {
		return false // only true for an L1-WT cache; caller's table already reflects WT via Allocate=false, so this helper is conservative and left to the L1 engine's flavor check.
	}
	return t == reqpool.L2READ_PREFETCH || t == reqpool.L2WRITE_PREFETCH
}

func (f *File) decideCoalesce(slot int, in DecisionInput) (Response, int) {
	e := &f.entries[slot]

	if in.Req.Kind == reqpool.KindCohe || in.Req.Kind == reqpool.KindCoheReply {
		return MSHR_COAL, slot // category decision is made by the caller via Categorize
	}

	if e.HasPendingCohe {
		return NOMSHR_STALL_COHE, slot
	}

	if len(e.Coalesced) >= f.maxCoalesce {
		return MSHR_STALL_COAL, slot
	}

	if war(e, in.Req) {
		return MSHR_STALL_WAR, slot
	}

	if in.Req.Type.IsPrefetch() && !e.OnlyPrefs {
		return MSHR_USELESS_FETCH_IN_PROGRESS, slot
	}

	return MSHR_COAL, slot
}

// war reports whether coalescing req into e would mix a write/exclusive
// access with a read-only MSHR or vice versa (the WAR stall condition).
func war(e *Entry, req *reqpool.Req) bool {
	return req.Type.IsWrite() != e.WritesPresent
}

// Coalesce attaches req to the MSHR at slot. wasnack must be true when
// this coalesce happens while processing a NACK retry: the original
// source preserves pref_unnecessary counting only when !wasnack (§9
// Open Question), so the caller uses the returned value to decide
// whether to bump that counter.
func (f *File) Coalesce(slot int, idx reqpool.Index, req *reqpool.Req, cycle uint64, wasnack bool) (countUnnecessary bool) {
	e := &f.entries[slot]
	if !req.Type.IsPrefetch() && e.OnlyPrefs {
		e.OnlyPrefs = false
		if !e.HaveFirstDem {
			e.FirstDemand = cycle
			e.HaveFirstDem = true
		}
	}
	if req.Type.IsWrite() {
		e.WritesPresent = true
	}
	e.Coalesced = append(e.Coalesced, idx)
	return req.Type.IsPrefetch() && !wasnack
}

// Categorize classifies an incoming COHE/COHE_REPLY against the line
// state the MSHR's primary request targets, per §4.3's three
// categories.
func Categorize(state coherence.LineState, nack reqpool.NackConvention, isL1WB bool, isReadMSHR bool) CoheCategory {
	if isL1WB && isReadMSHR && nack != reqpool.NackNone {
		return CategoryC
	}
	if state.IsPrivate() && nack == reqpool.NackNOK {
		return CategoryA
	}
	return CategoryB
}

// RemoveMSHR frees the MSHR at slot, or substitutes subst into it
// without freeing when subst is live. It returns the lateness (now -
// first demand cycle) to be recorded in a histogram, and ok=false if
// there was no first-demand timestamp (an all-prefetch MSHR).
func (f *File) RemoveMSHR(slot int, subst reqpool.Index, now uint64) (lateness uint64, ok bool) {
	e := &f.entries[slot]
	if e.HaveFirstDem {
		lateness, ok = now-e.FirstDemand, true
	}
	if subst != reqpool.NoIndex {
		*e = Entry{Valid: true, Addr: e.Addr, Primary: subst, ReservedWRB: e.ReservedWRB}
		return lateness, ok
	}
	*e = Entry{}
	return lateness, ok
}

// MSHRIterateUncoalesce invokes apply for each request index in arrival
// order, primary first, then coalesced requests, passing late as
// prefetchedLate. It does not stamp missType onto any request; the
// missType argument is not used.
func (f *File) MSHRIterateUncoalesce(slot int, missType reqpool.MissType, late bool, apply func(idx reqpool.Index, prefetchedLate bool)) {
	e := &f.entries[slot]
	apply(e.Primary, late)
	for _, idx := range e.Coalesced {
		apply(idx, late)
	}
}

// GetCoheReq returns the merged pending coherence request type held by
// the MSHR at slot, and whether one is present.
func (f *File) GetCoheReq(slot int) (reqpool.ReqType, bool) {
	e := &f.entries[slot]
	return e.PendingCohe, e.HasPendingCohe
}

// SetCoheReq records a coalesced pending coherence type on the MSHR at
// slot (Category B), or clears it.
func (f *File) SetCoheReq(slot int, t reqpool.ReqType, present bool) {
	f.entries[slot].PendingCohe = t
	f.entries[slot].HasPendingCohe = present
}
