package coherence

import "github.com/sarchlab/cohecache/timing/reqpool"

// BuildL2WB returns the Secondary_WB table (an L2, write-back cache)
// for the given protocol and replacement-hints level, reproducing the
// entries listed in the component design (§4.5) plus the hit/no-op
// rows implied by "if none required ... return NOMSHR".
func BuildL2WB(protocol Protocol, hints ReplacementHintsLevel) *Table {
	t := &Table{}

	// Demand/prefetch reads and writes miss from INVALID, fetching
	// shared or exclusive ownership from below.
	for _, rt := range []reqpool.ReqType{reqpool.READ, reqpool.L2READ_PREFETCH, reqpool.L1READ_PREFETCH} {
		set(t, rt, INVALID, Entry{
			NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.READ_SH,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: true,
		})
	}
	for _, rt := range []reqpool.ReqType{reqpool.WRITE, reqpool.RMW, reqpool.L2WRITE_PREFETCH, reqpool.L1WRITE_PREFETCH} {
		set(t, rt, INVALID, Entry{
			NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.READ_OWN,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: true,
		})
	}

	// WRITE from SH_CL is an upgrade: permission-only fetch, no data.
	set(t, reqpool.WRITE, SH_CL, Entry{
		NextState: SH_CL, HasDownstream: true, NextModuleReq: reqpool.UPGRADE,
		ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: false,
	})
	set(t, reqpool.RMW, SH_CL, Entry{
		NextState: SH_CL, HasDownstream: true, NextModuleReq: reqpool.UPGRADE,
		ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: false,
	})

	// Hits: demand/prefetch accesses already compatible with the held
	// state require no downstream message.
	readHitStates := []LineState{PR_CL, SH_CL, PR_DY, SH_DY}
	for _, rt := range []reqpool.ReqType{reqpool.READ, reqpool.L2READ_PREFETCH, reqpool.L1READ_PREFETCH} {
		for _, s := range readHitStates {
			set(t, rt, s, Entry{NextState: s})
		}
	}
	writeHitStates := []LineState{PR_CL, PR_DY, SH_DY}
	for _, rt := range []reqpool.ReqType{reqpool.WRITE, reqpool.RMW, reqpool.L2WRITE_PREFETCH, reqpool.L1WRITE_PREFETCH} {
		for _, s := range writeHitStates {
			set(t, rt, s, Entry{NextState: s})
		}
	}

	// Reply transitions fill the line. REPLY_EXCL's target depends on
	// protocol (§8 invariant 6).
	set(t, reqpool.REPLY_SH, INVALID, Entry{NextState: SH_CL, Allocate: true})
	exclTarget := PR_CL
	if protocol == MSI {
		exclTarget = PR_DY
	}
	set(t, reqpool.REPLY_EXCL, INVALID, Entry{NextState: exclTarget, Allocate: true})
	set(t, reqpool.REPLY_EXCLDY, INVALID, Entry{NextState: PR_DY, Allocate: true})
	set(t, reqpool.REPLY_UPGRADE, SH_CL, Entry{NextState: PR_CL, Allocate: false})

	// External coherence messages against a privately-owned dirty line.
	set(t, reqpool.COPYBACK, PR_DY, Entry{
		NextState: SH_CL, HasUpstream: true, NextReq: reqpool.COPYBACK, NextReqSz: reqpool.ReqSz,
	})
	set(t, reqpool.COPYBACK_INVL, PR_DY, Entry{
		NextState: INVALID, HasUpstream: true, NextReq: reqpool.COPYBACK_INVL, NextReqSz: reqpool.ReqSz,
	})
	set(t, reqpool.INVL, SH_CL, Entry{NextState: INVALID})
	set(t, reqpool.INVL, SH_DY, Entry{NextState: INVALID})

	// Replacement: REPL/WRB indexed by the victim's current state.
	// PR_DY always writes back and always tells L1 to invalidate.
	set(t, reqpool.REPL, PR_DY, Entry{
		NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.WRB,
		HasUpstream: true, NextReq: reqpool.COPYBACK_INVL, NextReqSz: reqpool.ReqSz,
	})
	// PR_CL's downstream hint is gated by ReplacementHintsLevel; it
	// always tells L1 to invalidate (inclusion, §8 invariant 7).
	e := Entry{
		NextState: INVALID, HasUpstream: true, NextReq: reqpool.COPYBACK_INVL, NextReqSz: reqpool.ReqSz,
	}
	if hints != HintsNone {
		e.HasDownstream = true
		e.NextModuleReq = reqpool.REPL
		e.ReqSz = reqpool.ReqSz
	}
	set(t, reqpool.REPL, PR_CL, e)

	return t
}

// BuildL1WB returns the Primary_WB table (an L1, write-back/write-allocate
// cache). It adds a PR_CL state internally even under MSI, so that
// clean private lines need not be written back to L2.
func BuildL1WB() *Table {
	t := &Table{}

	for _, rt := range []reqpool.ReqType{reqpool.READ, reqpool.L1READ_PREFETCH} {
		set(t, rt, INVALID, Entry{
			NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.READ,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: true,
		})
	}
	for _, rt := range []reqpool.ReqType{reqpool.WRITE, reqpool.RMW, reqpool.L1WRITE_PREFETCH} {
		set(t, rt, INVALID, Entry{
			NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.WRITE,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: true,
		})
	}

	// WRITE from SH_CL emits WRITE upward (toward L2) to gain
	// exclusive ownership.
	set(t, reqpool.WRITE, SH_CL, Entry{
		NextState: SH_CL, HasDownstream: true, NextModuleReq: reqpool.WRITE,
		ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz,
	})
	set(t, reqpool.RMW, SH_CL, Entry{
		NextState: SH_CL, HasDownstream: true, NextModuleReq: reqpool.WRITE,
		ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz,
	})

	hitStates := []LineState{PR_CL, SH_CL, PR_DY}
	for _, rt := range []reqpool.ReqType{reqpool.READ, reqpool.L1READ_PREFETCH} {
		for _, s := range hitStates {
			set(t, rt, s, Entry{NextState: s})
		}
	}
	for _, rt := range []reqpool.ReqType{reqpool.WRITE, reqpool.RMW, reqpool.L1WRITE_PREFETCH} {
		for _, s := range []LineState{PR_CL, PR_DY} {
			set(t, rt, s, Entry{NextState: PR_DY})
		}
	}

	set(t, reqpool.REPLY_SH, INVALID, Entry{NextState: SH_CL, Allocate: true})
	set(t, reqpool.REPLY_EXCL, INVALID, Entry{NextState: PR_CL, Allocate: true})
	set(t, reqpool.REPLY_EXCLDY, INVALID, Entry{NextState: PR_DY, Allocate: true})
	set(t, reqpool.REPLY_UPGRADE, SH_CL, Entry{NextState: PR_DY})

	// COPYBACK from PR_DY sends data downstream and drops to shared.
	set(t, reqpool.COPYBACK, PR_DY, Entry{
		NextState: SH_CL, HasUpstream: true, NextReq: reqpool.COPYBACK, NextReqSz: reqpool.ReqSz,
	})
	set(t, reqpool.COPYBACK_INVL, PR_DY, Entry{
		NextState: INVALID, HasUpstream: true, NextReq: reqpool.COPYBACK_INVL, NextReqSz: reqpool.ReqSz,
	})
	set(t, reqpool.COPYBACK_INVL, PR_CL, Entry{NextState: INVALID})
	set(t, reqpool.COPYBACK_INVL, SH_CL, Entry{NextState: INVALID})
	set(t, reqpool.INVL, SH_CL, Entry{NextState: INVALID})

	// REPL from PR_DY emits a WRB upstream (toward L2) carrying data.
	set(t, reqpool.REPL, PR_DY, Entry{
		NextState: INVALID, HasUpstream: true, NextReq: reqpool.WRB, NextReqSz: reqpool.ReqSz,
	})
	// REPL from PR_CL or SH_CL emits nothing: L2 already did inclusion
	// bookkeeping for clean lines.
	set(t, reqpool.REPL, PR_CL, Entry{NextState: INVALID})
	set(t, reqpool.REPL, SH_CL, Entry{NextState: INVALID})

	return t
}

// BuildL1WT returns the Primary_WT table (an L1, write-through/
// no-write-allocate cache). Only INVALID and PR_CL are reachable: a
// write-through cache never holds a line the directory must track as
// dirty-private.
func BuildL1WT() *Table {
	t := &Table{}

	set(t, reqpool.READ, INVALID, Entry{
		NextState: INVALID, HasDownstream: true, NextModuleReq: reqpool.READ,
		ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: true,
	})
	set(t, reqpool.READ, PR_CL, Entry{NextState: PR_CL})

	for _, s := range []LineState{INVALID, PR_CL} {
		set(t, reqpool.WRITE, s, Entry{
			NextState: s, HasDownstream: true, NextModuleReq: reqpool.WRITE,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: false,
		})
		set(t, reqpool.RMW, s, Entry{
			NextState: s, HasDownstream: true, NextModuleReq: reqpool.WRITE,
			ReqSz: reqpool.ReqSz, RepSz: reqpool.ReqSz, Allocate: false,
		})
	}

	for _, rt := range []reqpool.ReqType{reqpool.REPLY_SH, reqpool.REPLY_EXCL, reqpool.REPLY_EXCLDY, reqpool.REPLY_UPGRADE} {
		set(t, rt, INVALID, Entry{NextState: PR_CL, Allocate: true})
	}

	set(t, reqpool.INVL, PR_CL, Entry{NextState: INVALID})
	set(t, reqpool.COPYBACK_INVL, PR_CL, Entry{NextState: INVALID})

	return t
}
