// Package l2 implements the second-level cache engine (C7, §4.7): the
// same shape as timing/l1 plus a split tag/data pipeline pair, WRB-
// buffer coordination, inclusion enforcement, and cache-to-cache
// transfer support.
package l2

import (
	"github.com/sarchlab/cohecache/timing/cacheline"
	"github.com/sarchlab/cohecache/timing/capconf"
	"github.com/sarchlab/cohecache/timing/coherence"
	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/mshr"
	"github.com/sarchlab/cohecache/timing/pipeline"
	"github.com/sarchlab/cohecache/timing/port"
	"github.com/sarchlab/cohecache/timing/reqpool"
	"github.com/sarchlab/cohecache/timing/smartmshr"
	"github.com/sarchlab/cohecache/timing/stats"
	"github.com/sarchlab/cohecache/timing/wrb"
)

// L1Flavor tells the L2 engine how to spawn inclusion-enforcing
// companion messages on a replacement (§4.7).
type L1Flavor int

const (
	// L1FlavorWB: a PR_CL/PR_DY victim spawns a WRB to L1.
	L1FlavorWB L1Flavor = iota
	// L1FlavorWT: a victim spawns an INVL up to L1, absorbed at L2.
	L1FlavorWT
)

// Engine is one node's L2 cache: always write-back.
type Engine struct {
	NodeID   int
	Cfg      *config.Config
	Pool     *reqpool.Pool
	Cache    *cacheline.Cache
	MSHRs    *mshr.File
	CC       *capconf.Detector
	SMQ      *smartmshr.Queue
	WRB      *wrb.Buffer
	Stats    *stats.Counters
	Table    *coherence.Table
	L1Flavor L1Flavor

	TagPipe  *pipeline.Pipeline
	DataPipe *pipeline.Pipeline
	CohePipe *pipeline.Pipeline

	// InReq/InReply/InCohe are inbound from L1 (REQUEST, COHE_REPLY)
	// and from the network/directory (REPLY, COHE), per §4.7.
	InReq   *port.Queue
	InReply *port.Queue
	InCohe  *port.Queue

	// OutAbove carries REPLY and COHE toward L1.
	OutAbove *port.Queue
	// OutBelow carries REQUEST, REPLY (forwarded cache-to-cache), and
	// COHE_REPLY toward the network/directory.
	OutBelow *port.Queue

	completed []Completion
	everSeen  map[uint64]bool

	Lateness stats.Histogram

	Cycle uint64
}

// Completion mirrors timing/l1.Completion. This engine records none:
// every request it services is answered with a REPLY toward L1, so
// DrainCompleted always returns an empty slice.
type Completion struct {
	Idx      reqpool.Index
	MissType reqpool.MissType
}

// New returns an Engine for the given node, L2 configuration, and the
// L1 flavor above it.
func New(nodeID int, cfg *config.Config, pool *reqpool.Pool, flavor L1Flavor) *Engine {
	assoc := cfg.SetSize
	lineCount := (cfg.SizeKB * 1024) / cfg.LineSz
	numSets := lineCount / assoc
	if numSets < 1 {
		numSets = 1
	}

	e := &Engine{
		NodeID:   nodeID,
		Cfg:      cfg,
		Pool:     pool,
		Cache:    cacheline.New(numSets, assoc, cfg.LineSz, false),
		MSHRs:    mshr.New(cfg.MaxMSHRs, 1<<20),
		CC:       capconf.New(lineCount),
		SMQ:      smartmshr.New(),
		WRB:      wrb.New(cfg.WrbBufSize()),
		Stats:    &stats.Counters{},
		Table:    coherence.BuildL2WB(cfg.CCProtocol, cfg.ReplacementHintsLevel),
		L1Flavor: flavor,
		TagPipe:  pipeline.New(1, depth(cfg.TagPipe.Delay), int(cfg.TagPipe.Delay)),
		DataPipe: pipeline.New(1, depth(cfg.DataPipe.Delay), int(cfg.DataPipe.Delay)),
		CohePipe: pipeline.New(1, depth(cfg.TagPipe.Delay), int(cfg.TagPipe.Delay)),
		InReq:    port.New(),
		InReply:  port.New(),
		InCohe:   port.New(),
		OutAbove: port.New(),
		OutBelow: port.New(),
		everSeen: make(map[uint64]bool),
	}
	return e
}

func depth(delay uint64) int {
	if delay < 1 {
		return 1
	}
	return int(delay)
}

// Intake pulls REQUEST/COHE_REPLY from InReq and REPLY from InReply
// into the tag pipeline, where they are distinguished by Kind at
// dispatch, and COHE from InCohe into the separate cohe pipeline.
func (e *Engine) Intake() {
	for {
		idx, ok := e.InReq.Peek()
		if !ok || e.TagPipe.IsInputFull(0) {
			break
		}
		if req := e.Pool.Get(idx); req.Kind == reqpool.KindRequest {
			if slot := e.WRB.HitMarkStall(e.Cache.BlockAddr(req.Addr)); slot >= 0 {
				break
			}
		}
		e.TagPipe.Add(0, idx)
		e.InReq.Pop()
	}
	for {
		idx, ok := e.InReply.Peek()
		if !ok || e.TagPipe.IsInputFull(0) {
			break
		}
		e.TagPipe.Add(0, idx)
		e.InReply.Pop()
	}
	for {
		idx, ok := e.InCohe.Peek()
		if !ok || e.CohePipe.IsInputFull(0) {
			break
		}
		e.CohePipe.Add(0, idx)
		e.InCohe.Pop()
	}
}

// Output advances the data pipe before the tag pipe (§5: "output
// processes data banks before tag banks in the same cycle, because tag
// work may inject into data banks"), dispatches each head entry, then
// cycles the smart-MSHR queue.
func (e *Engine) Output() {
	e.Cycle++
	e.DataPipe.Advance()
	e.CohePipe.Advance()
	e.TagPipe.Advance()

	if idx := e.DataPipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchData(idx) {
			e.DataPipe.Clear(0)
		}
	}
	if idx := e.CohePipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchCohe(idx) {
			e.CohePipe.Clear(0)
		}
	}
	if idx := e.TagPipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchTag(idx) {
			e.TagPipe.Clear(0)
		}
	}

	e.SMQ.TryDispatch(func(msg interface{}) bool {
		e.OutBelow.Push(msg.(reqpool.Index))
		return true
	})
}

// DrainCompleted returns and clears completions recorded since the
// last call. Ownership of each Idx's request passes to the caller.
func (e *Engine) DrainCompleted() []Completion {
	out := e.completed
	e.completed = nil
	return out
}

func (e *Engine) classifyMiss(addr uint64) reqpool.MissType {
	tag := e.Cache.BlockAddr(addr)
	seen := e.everSeen[tag]
	e.everSeen[tag] = true
	verdict := e.CC.Observe(tag)
	if !seen {
		return reqpool.MissCold
	}
	if verdict == capconf.CONF {
		return reqpool.MissConf
	}
	return reqpool.MissCap
}

// dispatchTag processes whatever is at the tag-pipe head: REQUEST,
// REPLY, or COHE_REPLY, per Kind.
func (e *Engine) dispatchTag(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)
	switch req.Kind {
	case reqpool.KindRequest:
		return e.dispatchRequest(idx)
	case reqpool.KindReply:
		if req.Reply == reqpool.ReplyRAR {
			return e.dispatchRAR(idx)
		}
		return e.dispatchReply(idx)
	case reqpool.KindCoheReply:
		return e.dispatchCoheReplyFromL1(idx)
	default:
		panic("l2: unknown message kind at tag pipe head")
	}
}

// dispatchRequest processes a REQUEST from L1 per §4.3/§4.7.
func (e *Engine) dispatchRequest(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)
	e.Stats.RecordRef(req.Type)

	_, meta, present := e.Cache.Lookup(req.Addr)
	state := coherence.INVALID
	cohePend := false
	if present {
		state = meta.State
		cohePend = meta.CohePend
	}

	resp, slot, entry := e.MSHRs.NotPresMSHR(mshr.DecisionInput{
		Addr: req.Addr, Idx: idx, Req: req, State: state, CohePend: cohePend,
		Table: e.Table, IsL2: true, WrbUsed: e.WRB.Used(), WrbBufCap: e.WRB.Size(),
	})

	switch resp {
	case mshr.MSHR_COAL:
		wasnack := req.Preprocessed
		unnecessary := e.MSHRs.Coalesce(slot, idx, req, e.Cycle, wasnack)
		if unnecessary {
			e.Stats.RecordPrefUnnecessary()
		}
		e.Stats.RecordMiss(req.Type, reqpool.MissCoal)
		return true

	case mshr.MSHR_NEW, mshr.MSHR_FWD:
		mt := reqpool.MissUpgr
		if resp == mshr.MSHR_NEW {
			mt = e.classifyMiss(req.Addr)
		} else if present {
			meta.MshrOut = true
		}
		e.Stats.RecordMiss(req.Type, mt)
		e.WRB.Insert(e.Cache.BlockAddr(req.Addr), idx, reqpool.NoIndex)
		req.Type = entry.NextModuleReq
		req.Kind = reqpool.KindRequest
		req.Dir = reqpool.DirForward
		req.Route = reqpool.RouteBelow
		req.HeaderOnly = entry.ReqSz == reqpool.ReqSz
		req.SrcNode = e.NodeID
		if present {
			req.DstNode = meta.DestNode
		}
		req.IssueCycle = e.Cycle
		e.OutBelow.Push(idx)
		return true

	case mshr.NOMSHR:
		if block, _, ok := e.Cache.Lookup(req.Addr); ok {
			e.Cache.Touch(block, true)
		}
		e.Stats.RecordMiss(req.Type, reqpool.MissL1Hit)
		req.Kind = reqpool.KindReply
		req.Dir = reqpool.DirBackward
		req.Route = reqpool.RouteAbove
		if state.IsDirty() || state.IsPrivate() {
			req.Type = reqpool.REPLY_EXCL
		} else {
			req.Type = reqpool.REPLY_SH
		}
		e.DataPipe.Add(0, idx)
		return true

	default:
		// Every *_STALL_* response (including NOMSHR_STALL_COHE and
		// NOMSHR_STALL_WRBBUF_FULL): leave the request for retry.
		e.Stats.PipeStallTag++
		return false
	}
}

// dispatchReply processes a REPLY arriving from the network/directory,
// filling the line and, when a replacement is required, spawning the
// companion invalidation (upward, to L1) and write-back (downward)
// messages §4.7 describes.
func (e *Engine) dispatchReply(idx reqpool.Index) bool {
	rep := e.Pool.Get(idx)

	slot := e.MSHRs.FindInMSHREntries(rep.Addr)
	if slot < 0 {
		panic("l2: REPLY with no matching MSHR")
	}

	_, curMeta, present := e.Cache.Lookup(rep.Addr)
	lookupState := coherence.INVALID
	if present {
		lookupState = curMeta.State
	}
	entry, ok := coherence.Lookup(e.Table, rep.Type, lookupState)
	if !ok {
		panic("l2: reply with no coherence-table entry for this state")
	}

	needVictim := entry.Allocate && !present
	var victimTag uint64
	var victimMeta coherence.LineState
	var hadVictim bool

	if needVictim {
		if vb, vm, ok := e.Cache.SelectVictim(rep.Addr); ok && vm.State != coherence.INVALID {
			hadVictim = true
			victimTag = vb.Tag
			victimMeta = vm.State
		}
		if _, _, victimOK := e.Cache.Install(rep.Addr, entry.NextState, rep.SrcNode); !victimOK {
			// NO_REPLACE at L2: the directory must retry; bounce the
			// reply back as an RAR-style retry via smart-MSHR.
			rep.Reply = reqpool.ReplyRAR
			e.SMQ.Enqueue(idx, slot, nil)
			return true
		}
	} else if entry.Allocate {
		block, meta, _ := e.Cache.Lookup(rep.Addr)
		e.Cache.Touch(block, true)
		meta.State = entry.NextState
	}

	if e.MSHRs.Entry(slot).WritesPresent {
		if _, meta, ok := e.Cache.Lookup(rep.Addr); ok {
			meta.State = coherence.PR_DY
		}
	}

	if pendCohe, hasPend := e.MSHRs.GetCoheReq(slot); hasPend {
		if !entry.NextState.IsPrivate() {
			if _, meta, ok := e.Cache.Lookup(rep.Addr); ok {
				if ce, ok2 := coherence.Lookup(e.Table, pendCohe, meta.State); ok2 {
					meta.State = ce.NextState
				}
			}
		}
	}

	// The WRB-buffer slot reserved for rep.Addr's MSHR is released
	// here regardless: when the victim's invalidation is sent up to an
	// L1-WB cache, spawnVictimMessages reserves a fresh slot keyed to
	// the victim's own tag, rather than holding the original (§4.4).
	if reservedSlot := e.WRB.Hit(e.Cache.BlockAddr(rep.Addr)); reservedSlot >= 0 {
		e.WRB.Remove(reservedSlot)
	}
	if hadVictim && victimMeta != coherence.INVALID {
		e.spawnVictimMessages(victimTag, victimMeta)
	}

	if lateness, hadDemand := e.MSHRs.RemoveMSHR(slot, reqpool.NoIndex, e.Cycle); hadDemand {
		e.Lateness.Add(lateness)
	}

	toL1 := e.Pool.Alloc()
	upReq := e.Pool.Get(toL1)
	*upReq = *rep
	upReq.InvlReq, upReq.WrbReq = reqpool.NoIndex, reqpool.NoIndex
	upReq.Kind = reqpool.KindReply
	upReq.Dir = reqpool.DirBackward
	upReq.Route = reqpool.RouteAbove
	e.OutAbove.Push(toL1)
	e.Pool.Free(idx)

	return true
}

// dispatchRAR turns a bounced RAR reply back into a REQUEST, releases
// the WRB-buffer slot held for it (rebooked when the real reply
// returns), and re-enqueues it via smart-MSHR on the existing MSHR
// (§4.7, §8 end-to-end scenario 6).
func (e *Engine) dispatchRAR(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)
	req.Kind = reqpool.KindRequest
	req.Dir = reqpool.DirForward
	req.Route = reqpool.RouteBelow
	req.SrcNode, req.DstNode = req.DstNode, req.SrcNode
	req.Reply = reqpool.ReplyOK

	if slot := e.WRB.Hit(e.Cache.BlockAddr(req.Addr)); slot >= 0 {
		e.WRB.Remove(slot)
	}

	e.SMQ.Enqueue(idx, 0, nil)
	return true
}

// dispatchCoheReplyFromL1 processes L1's answer to a COHE this engine
// sent upward, releasing cohe_pend and, for a WRB/REPL path, updating
// the WRB-buffer completion bits (§4.4, §4.7).
func (e *Engine) dispatchCoheReplyFromL1(idx reqpool.Index) bool {
	rep := e.Pool.Get(idx)

	_, meta, present := e.Cache.Lookup(rep.Addr)
	if present {
		meta.CohePend = false
	}

	if wrbSlot := e.WRB.Hit(e.Cache.BlockAddr(rep.Addr)); wrbSlot >= 0 {
		e.WRB.MarkDoneL1(e.Cache.BlockAddr(rep.Addr))
		if e.WRB.ReadyToSend(wrbSlot) {
			l1WasDirty := !rep.HeaderOnly
			e.sendWRB(wrbSlot, wrb.DowngradeToRepl(e.WRB.L2Dirty(wrbSlot), l1WasDirty))
		}
	}

	e.Pool.Free(idx)
	return true
}

// dispatchCohe processes an incoming COHE from the network/directory,
// including cache-to-cache transfer construction when ForwardTo is set
// (§4.7 scenario 4).
func (e *Engine) dispatchCohe(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)

	_, meta, present := e.Cache.Lookup(req.Addr)
	if !present {
		panic("l2: COHE for a line not present at L2 (inclusion violated)")
	}

	if meta.State.IsPrivate() && req.Nack == reqpool.NackNOK && req.ForwardTo < 0 {
		req.Reply = reqpool.ReplyNACKPend
		e.OutBelow.Push(idx)
		return true
	}

	if req.ForwardTo >= 0 {
		e.forward(idx, req, meta)
		return true
	}

	entry, ok := coherence.Lookup(e.Table, req.Type, meta.State)
	if !ok {
		panic("l2: coherence protocol applied to a cohe_type with no table entry")
	}

	// A COHE reaches L1 whenever some L1 line might mirror this one: an
	// L1-WT cache may hold any state, and an L1-WB cache holds lines L2
	// passed up in a shared as well as a private state.
	if e.L1Flavor == L1FlavorWT || meta.State.IsPrivate() || meta.State.IsShared() {
		meta.CohePend = true
		up := e.Pool.Alloc()
		upReq := e.Pool.Get(up)
		upReq.Addr, upReq.Tag = req.Addr, req.Tag
		upReq.Type = req.Type
		upReq.Kind = reqpool.KindCohe
		upReq.Dir = reqpool.DirForward
		upReq.Route = reqpool.RouteAbove
		upReq.Nack = req.Nack
		upReq.HeaderOnly = true
		e.OutAbove.Push(up)
	}

	meta.State = entry.NextState
	if entry.NextState == coherence.INVALID {
		if b, _, ok := e.Cache.Lookup(req.Addr); ok {
			b.IsValid = false
		}
	}

	req.Kind = reqpool.KindCoheReply
	req.Dir = reqpool.DirBackward
	req.Route = reqpool.RouteBelow
	req.HeaderOnly = !meta.State.IsDirty()
	e.OutBelow.Push(idx)
	return true
}

// forward builds the two reply messages a cache-to-cache transfer
// needs: one to the directory (possibly a full-line copyback) and one
// line-sized reply to the requesting node, both scheduled through the
// data pipe so they appear to take data-array time (§4.7 scenario 4).
func (e *Engine) forward(idx reqpool.Index, req *reqpool.Req, meta *cacheline.LineMeta) {
	wasDirty := meta.State.IsDirty()

	toDir := idx
	dirReq := e.Pool.Get(toDir)
	dirReq.Kind = reqpool.KindCoheReply
	dirReq.Dir = reqpool.DirBackward
	dirReq.Route = reqpool.RouteBelow
	dirReq.HeaderOnly = !wasDirty

	toPeer := e.Pool.Alloc()
	peerReq := e.Pool.Get(toPeer)
	peerReq.Addr, peerReq.Tag = req.Addr, req.Tag
	peerReq.Kind = reqpool.KindReply
	peerReq.Dir = reqpool.DirBackward
	peerReq.Route = reqpool.RouteBelow
	peerReq.SrcNode = e.NodeID
	peerReq.DstNode = req.ForwardTo
	peerReq.HeaderOnly = false
	switch {
	case meta.State == coherence.PR_DY:
		peerReq.Type = reqpool.REPLY_EXCLDY
		e.Stats.CoheCacheToCacheExcl++
	case meta.State.IsPrivate():
		peerReq.Type = reqpool.REPLY_EXCL
		e.Stats.CoheCacheToCacheExcl++
	default:
		peerReq.Type = reqpool.REPLY_SH
		e.Stats.CoheCacheToCacheSH++
	}

	meta.State = coherence.SH_CL

	e.DataPipe.Add(0, toDir)
	e.DataPipe.Add(0, toPeer)
}

// dispatchData retires an entry that reached the data pipe: an L2 hit
// reply to L1, or one leg of a cache-to-cache transfer.
func (e *Engine) dispatchData(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)
	switch req.Route {
	case reqpool.RouteAbove:
		e.OutAbove.Push(idx)
	default:
		e.OutBelow.Push(idx)
	}
	return true
}

// spawnVictimMessages builds the companion invl_req/wrb_req a
// replacement needs (§4.7): a WRB to L1 when the victim might be
// dirty, or an INVL absorbed at L2 when L1 is write-through.
func (e *Engine) spawnVictimMessages(addr uint64, victimState coherence.LineState) {
	entry, ok := coherence.Lookup(e.Table, reqpool.REPL, victimState)
	if !ok {
		return
	}

	tag := e.Cache.BlockAddr(addr)
	e.Stats.Victims++
	if victimState.IsPrivate() {
		e.Stats.PRVictims++
	} else {
		e.Stats.SHVictims++
	}

	if entry.HasDownstream {
		wb := e.Pool.Alloc()
		wbReq := e.Pool.Get(wb)
		wbReq.Addr, wbReq.Tag = addr, tag
		wbReq.Type = entry.NextModuleReq
		wbReq.Kind = reqpool.KindRequest
		wbReq.Dir = reqpool.DirForward
		wbReq.Route = reqpool.RouteBelow
		wbReq.HeaderOnly = entry.ReqSz == reqpool.ReqSz
		e.OutBelow.Push(wb)
		e.Stats.WBSent++
	}

	if e.L1Flavor == L1FlavorWT {
		invl := e.Pool.Alloc()
		invlReq := e.Pool.Get(invl)
		invlReq.Addr, invlReq.Tag = addr, tag
		invlReq.Type = reqpool.INVL
		invlReq.Kind = reqpool.KindCohe
		invlReq.Dir = reqpool.DirForward
		invlReq.Route = reqpool.RouteAbove
		invlReq.AbsorbAtL2 = true
		invlReq.HeaderOnly = true
		e.OutAbove.Push(invl)
		return
	}

	if entry.HasUpstream {
		wrbSlot := e.WRB.Insert(tag, reqpool.NoIndex, reqpool.NoIndex)
		up := e.Pool.Alloc()
		upReq := e.Pool.Get(up)
		upReq.Addr, upReq.Tag = addr, tag
		upReq.Type = entry.NextReq
		upReq.Kind = reqpool.KindCohe
		upReq.Dir = reqpool.DirForward
		upReq.Route = reqpool.RouteAbove
		upReq.HeaderOnly = entry.NextReqSz == reqpool.ReqSz
		e.OutAbove.Push(up)
		if wrbSlot >= 0 {
			e.WRB.MarkDoneData(tag, victimState == coherence.PR_DY)
		}
	}
}

// sendWRB emits the outbound write-back, or, if downgrade is true
// (both L1 and L2 held the line clean), the downgraded REPL hint, once
// both the L2-data and L1 completion bits are set (§4.4's invariant).
func (e *Engine) sendWRB(slot int, downgrade bool) {
	idx := e.Pool.Alloc()
	req := e.Pool.Get(idx)
	if downgrade {
		req.Type = reqpool.REPL
		req.HeaderOnly = true
		e.Stats.ReplSent++
	} else {
		req.Type = reqpool.WRB
		req.HeaderOnly = false
		e.Stats.WBSent++
	}
	req.Kind = reqpool.KindRequest
	req.Dir = reqpool.DirForward
	req.Route = reqpool.RouteBelow
	e.OutBelow.Push(idx)
	e.WRB.Remove(slot)
}
