// Package coherence holds the three static state-transition tables
// (L1-WT, L1-WB, L2-WB) that drive every cache's response to an
// incoming request type given the line's current state. The tables are
// pure data, loaded once and indexed by (ReqType, LineState).
package coherence

import "github.com/sarchlab/cohecache/timing/reqpool"

// LineState is the MESI/MSI-like per-line state.
type LineState int

const (
	INVALID LineState = iota
	PR_CL
	SH_CL
	PR_DY
	SH_DY

	numLineStates
)

// NumLineStates sizes arrays indexed by LineState.
const NumLineStates = int(numLineStates)

func (s LineState) String() string {
	switch s {
	case INVALID:
		return "INVALID"
	case PR_CL:
		return "PR_CL"
	case SH_CL:
		return "SH_CL"
	case PR_DY:
		return "PR_DY"
	case SH_DY:
		return "SH_DY"
	default:
		return "LineState(?)"
	}
}

// IsPrivate reports whether s records this cache as the directory's
// exclusive owner.
func (s LineState) IsPrivate() bool { return s == PR_CL || s == PR_DY }

// IsShared reports whether s records this cache as one of possibly
// several sharers.
func (s LineState) IsShared() bool { return s == SH_CL || s == SH_DY }

// IsDirty reports whether the line holds data newer than memory.
func (s LineState) IsDirty() bool { return s == PR_DY || s == SH_DY }

// Protocol selects between MESI and MSI, which changes how REPLY_EXCL
// is handled at L2 (§8 invariant 6).
type Protocol int

const (
	MESI Protocol = iota
	MSI
)

// ReplacementHintsLevel gates whether a REPL of a clean private line at
// L2 also emits a downstream replacement hint (§9 Open Question: a
// configuration knob, observable on the wire but not on correctness).
type ReplacementHintsLevel int

const (
	HintsNone ReplacementHintsLevel = iota
	HintsExcl
	HintsAll
)

// Entry is one (ReqType, LineState) -> outcome cell.
type Entry struct {
	Valid bool

	NextState LineState

	// NextModuleReq is the message type sent downstream (toward
	// memory), or reqpool.READ (ignored) with HasDownstream=false when
	// the access is simply a hit.
	HasDownstream bool
	NextModuleReq reqpool.ReqType
	ReqSz         int
	RepSz         int

	// NextReq/NextReqSz describe the secondary message a coherence action
	// or replacement sends: toward L1 in the L2 table, and the copyback
	// or write-back toward L2 in the L1-WB table.
	HasUpstream bool
	NextReq     reqpool.ReqType
	NextReqSz   int

	// Allocate reports whether servicing this request installs a line.
	Allocate bool
}

// Table is one cache flavor's full (ReqType x LineState) grid.
type Table [reqpool.NumReqTypes][NumLineStates]Entry

// Lookup returns the entry for (req, state) and whether it is valid. An
// invalid entry (or an out-of-range req/state) means the combination
// was never reachable and the caller must treat it as fatal per the
// error-handling design: unknown request type in a given state halts
// the run.
func Lookup(t *Table, req reqpool.ReqType, state LineState) (Entry, bool) {
	if int(req) < 0 || int(req) >= reqpool.NumReqTypes {
		return Entry{}, false
	}
	if state < 0 || int(state) >= NumLineStates {
		return Entry{}, false
	}
	e := t[req][state]
	return e, e.Valid
}

func set(t *Table, req reqpool.ReqType, state LineState, e Entry) {
	e.Valid = true
	t[req][state] = e
}
