package reqpool

// Index identifies a Req owned by a Pool. NoIndex (-1) never names a
// live request.
type Index int

// NoIndex is the distinguished "no request" / "no companion" index.
const NoIndex Index = -1

// Req is the fundamental in-flight message, reproducing the YS__Req
// fields this module needs: address, type, kind, routing, sizing,
// source/destination, and the companion-pointer fields used to link a
// reply to the invalidation and write-back requests it spawns.
type Req struct {
	Addr uint64
	Tag  uint64
	Type ReqType

	Dir   Direction
	Route Route
	Kind  Kind

	Reply ReplyStatus
	Nack  NackConvention

	HeaderOnly bool // true => size is ReqSz; false => ReqSz + line size

	SrcNode int
	DstNode int

	// ForwardTo is the node a cache-to-cache transfer should also reply
	// to, or -1 if this is not a forwarded transfer.
	ForwardTo int

	MissType MissType
	Prefetch bool

	// AbsorbAtL2 marks an L1-WT invalidation that L2 absorbs on behalf
	// of L1 rather than forwarding further down.
	AbsorbAtL2 bool

	// Preprocessed marks a bounced reply (e.g. RAR) that has already
	// been rewritten once and should not be reprocessed as fresh.
	Preprocessed bool

	// InvlReq and WrbReq are pool indices for the companion upward
	// invalidation and downward write-back requests a single reply may
	// spawn on replacement (§4.7). NoIndex when absent.
	InvlReq Index
	WrbReq  Index

	// ProcID is an opaque processor-attached identifier threaded
	// through for correlation with the (out-of-scope) processor
	// front-end.
	ProcID uint64

	// IssueCycle records when this request was first issued, used for
	// lateness histograms.
	IssueCycle uint64
}

// Size returns the wire size in bytes: ReqSz for header-only messages,
// ReqSz+lineSize for data-bearing ones.
func (r *Req) Size(lineSize int) int {
	if r.HeaderOnly {
		return ReqSz
	}
	return ReqSz + lineSize
}
