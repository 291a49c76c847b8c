// Package l1 implements the first-level cache engine (C6, §4.6): per-
// cycle intake from ports into tag pipelines, and per-cycle dispatch of
// REQUEST/REPLY/COHE via the MSHR file and coherence table.
package l1

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
)

// CompletionFilter selects which coalesced accesses DrainCompleted
// reports as "done" to the (out-of-scope) processor front end,
// reproducing the original's GlobalPerformAndHeapInsertAllCoalesced
// family of variants.
type CompletionFilter int

const (
	// CompleteAll reports every coalesced access (the write-back L1's
	// default: any access that reached this MSHR globally performs
	// together).
	CompleteAll CompletionFilter = iota
	// CompleteWritesAndL2Prefetch reports only writes/RMWs and L2
	// prefetches, the L1-WT variant. Completions of other request types
	// stay queued in the engine and are not returned under this filter.
	CompleteWritesAndL2Prefetch
	// CompleteL2PrefetchOnly reports only L2 prefetches, the L1-WB
	// variant used when a demand access already completed eagerly.
	CompleteL2PrefetchOnly
)

// Completion is one entry DrainCompleted hands back to the caller.
type Completion struct {
	Idx      reqpool.Index
	MissType reqpool.MissType
}

// Engine is one node's L1 cache: write-through/no-write-allocate or
// write-back/write-allocate depending on Cfg.CacheLevelType.
type Engine struct {
	NodeID int
	Cfg    *config.Config
	Pool   *reqpool.Pool
	Cache  *cacheline.Cache
	MSHRs  *mshr.File
	CC     *capconf.Detector
	SMQ    *smartmshr.Queue
	Stats  *stats.Counters
	Table  *coherence.Table

	// Lateness accumulates demand-access latency (now - first demand
	// cycle) at MSHR retirement, per §4.3's RemoveMSHR.
	Lateness stats.Histogram

	isWT bool

	ReqPipe   *pipeline.Pipeline
	ReplyPipe *pipeline.Pipeline
	CohePipe  *pipeline.Pipeline

	// InReq/InReply/InCohe are the inbound ports: InReq from the
	// processor front end (out of scope), InReply and InCohe from L2.
	InReq   *port.Queue
	InReply *port.Queue
	InCohe  *port.Queue

	// OutBelow carries REQUESTs and COHE_REPLYs toward L2.
	OutBelow *port.Queue

	completed []Completion
	everSeen  map[uint64]bool

	Cycle uint64
}

// New returns an Engine for the given node and configuration.
func New(nodeID int, cfg *config.Config, pool *reqpool.Pool) *Engine {
	isWT := cfg.CacheLevelType == config.FIRSTLEVEL_WT

	var table *coherence.Table
	if isWT {
		table = coherence.BuildL1WT()
	} else {
		table = coherence.BuildL1WB()
	}

	assoc := cfg.SetSize
	lineCount := (cfg.SizeKB * 1024) / cfg.LineSz
	numSets := lineCount / assoc
	if numSets < 1 {
		numSets = 1
	}

	e := &Engine{
		NodeID:    nodeID,
		Cfg:       cfg,
		Pool:      pool,
		Cache:     cacheline.New(numSets, assoc, cfg.LineSz, isWT),
		MSHRs:     mshr.New(cfg.MaxMSHRs, 1<<20),
		CC:        capconf.New(lineCount),
		SMQ:       smartmshr.New(),
		Stats:     &stats.Counters{},
		Table:     table,
		isWT:      isWT,
		ReqPipe:   pipeline.New(1, depth(cfg.TagPipe.Delay), int(cfg.TagPipe.Delay)),
		ReplyPipe: pipeline.New(1, depth(cfg.TagPipe.Delay), int(cfg.TagPipe.Delay)),
		CohePipe:  pipeline.New(1, depth(cfg.TagPipe.Delay), int(cfg.TagPipe.Delay)),
		InReq:     port.New(),
		InReply:   port.New(),
		InCohe:    port.New(),
		OutBelow:  port.New(),
		everSeen:  make(map[uint64]bool),
	}
	return e
}

func depth(delay uint64) int {
	if delay < 1 {
		return 1
	}
	return int(delay)
}

// Intake pulls from the input ports into the tag pipelines, one
// message at a time, as long as the target pipeline's input stage is
// free (§4.1, §6 control flow).
func (e *Engine) Intake() {
	for {
		idx, ok := e.InReq.Peek()
		if !ok || e.ReqPipe.IsInputFull(0) {
			break
		}
		e.ReqPipe.Add(0, idx)
		e.InReq.Pop()
	}
	for {
		idx, ok := e.InReply.Peek()
		if !ok || e.ReplyPipe.IsInputFull(0) {
			break
		}
		e.ReplyPipe.Add(0, idx)
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

// Output advances every pipeline and attempts to retire each head
// entry, then cycles the smart-MSHR queue once (§4.8, §6 control flow).
// COHE and REPLY are dispatched before REQUEST, so an MSHR or line a
// reply frees is already available to the request dispatched in the
// same cycle.
func (e *Engine) Output() {
	e.Cycle++
	e.CohePipe.Advance()
	e.ReplyPipe.Advance()
	e.ReqPipe.Advance()

	if idx := e.CohePipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchCohe(idx) {
			e.CohePipe.Clear(0)
		}
	}
	if idx := e.ReplyPipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchReply(idx) {
			e.ReplyPipe.Clear(0)
		}
	}
	if idx := e.ReqPipe.Peek(0); idx != reqpool.NoIndex {
		if e.dispatchRequest(idx) {
			e.ReqPipe.Clear(0)
		}
	}

	e.SMQ.TryDispatch(func(msg interface{}) bool {
		e.OutBelow.Push(msg.(reqpool.Index))
		return true
	})
}

// DrainCompleted returns and clears every completion recorded since the
// last call, filtering coalesced entries per filter (the
// GlobalPerformAndHeapInsertAllCoalesced family, §9 SUPPLEMENTED
// FEATURES). Ownership of each Idx's request passes to the caller,
// which must Pool.Free it once done reading its fields.
func (e *Engine) DrainCompleted(filter CompletionFilter) []Completion {
	if filter == CompleteAll {
		out := e.completed
		e.completed = nil
		return out
	}
	var kept, rest []Completion
	for _, c := range e.completed {
		t := e.Pool.Get(c.Idx).Type
		match := false
		switch filter {
		case CompleteWritesAndL2Prefetch:
			match = t.IsWrite() || t == reqpool.L2READ_PREFETCH || t == reqpool.L2WRITE_PREFETCH
		case CompleteL2PrefetchOnly:
			match = t == reqpool.L2READ_PREFETCH || t == reqpool.L2WRITE_PREFETCH
		}
		if match {
			kept = append(kept, c)
		} else {
			rest = append(rest, c)
		}
	}
	e.completed = rest
	return kept
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

// dispatchRequest processes the REQUEST at the head of the request tag
// pipe per §4.6. It returns true if the entry should be cleared from
// the pipe (consumed), false to retry next cycle.
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
		Table: e.Table, IsL2: false,
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

	case mshr.NOMSHR_FWD:
		e.Stats.RecordMiss(req.Type, reqpool.MissWT)
		out := e.Pool.Alloc()
		outReq := e.Pool.Get(out)
		*outReq = *req
		outReq.InvlReq, outReq.WrbReq = reqpool.NoIndex, reqpool.NoIndex
		outReq.Type = entry.NextModuleReq
		outReq.Kind = reqpool.KindRequest
		outReq.Dir = reqpool.DirForward
		outReq.Route = reqpool.RouteBelow
		outReq.HeaderOnly = true
		outReq.SrcNode = e.NodeID
		e.OutBelow.Push(out)
		e.completed = append(e.completed, Completion{Idx: idx, MissType: reqpool.MissWT})
		return true

	case mshr.NOMSHR:
		if block, _, ok := e.Cache.Lookup(req.Addr); ok {
			e.Cache.Touch(block, !req.Prefetch)
		}
		e.Stats.RecordMiss(req.Type, reqpool.MissL1Hit)
		e.completed = append(e.completed, Completion{Idx: idx, MissType: reqpool.MissL1Hit})
		return true

	case mshr.MSHR_USELESS_FETCH_IN_PROGRESS:
		e.Stats.RecordPrefDropped()
		e.Pool.Free(idx)
		return true

	default:
		// Every *_STALL_* response: leave the request at the pipe
		// head for retry next cycle.
		e.Stats.PipeStallTag++
		return false
	}
}

// dispatchReply processes the REPLY at the head of the reply tag pipe
// per §4.6.
func (e *Engine) dispatchReply(idx reqpool.Index) bool {
	rep := e.Pool.Get(idx)

	slot := e.MSHRs.FindInMSHREntries(rep.Addr)
	if slot < 0 {
		panic("l1: REPLY with no matching MSHR")
	}

	_, curMeta, present := e.Cache.Lookup(rep.Addr)
	lookupState := coherence.INVALID
	if present {
		lookupState = curMeta.State
	}
	entry, ok := coherence.Lookup(e.Table, rep.Type, lookupState)
	if !ok {
		panic("l1: reply sent to L1 that is not a legal REPLY_* kind for this flavor")
	}

	needVictim := entry.Allocate && !present

	if needVictim {
		_, _, victimOK := e.Cache.Install(rep.Addr, entry.NextState, rep.SrcNode)
		if !victimOK {
			// NO_REPLACE: turn the reply into a REQUEST and retry via
			// the smart-MSHR queue (§4.9, §4.6 failure path).
			rep.Kind = reqpool.KindRequest
			rep.Preprocessed = true
			e.SMQ.Enqueue(idx, slot, nil)
			return true
		}
	} else if entry.Allocate {
		block, meta, _ := e.Cache.Lookup(rep.Addr)
		e.Cache.Touch(block, true)
		meta.State = entry.NextState
	}

	if e.MSHRs.Entry(slot).WritesPresent {
		_, meta, _ := e.Cache.Lookup(rep.Addr)
		meta.State = coherence.PR_DY
	}

	if pendCohe, hasPend := e.MSHRs.GetCoheReq(slot); hasPend {
		if !entry.NextState.IsPrivate() {
			e.applyPendingCohe(rep.Addr, pendCohe)
		}
	}

	if e.MSHRs.Entry(slot).Valid {
		_, meta, ok := e.Cache.Lookup(rep.Addr)
		if ok {
			meta.MshrOut = false
		}
	}

	coalesced := e.MSHRs.Entry(slot).Coalesced
	if lateness, hadDemand := e.MSHRs.RemoveMSHR(slot, reqpool.NoIndex, e.Cycle); hadDemand {
		e.Lateness.Add(lateness)
	}

	e.completed = append(e.completed, Completion{Idx: idx, MissType: reqpool.MissNone})
	for _, c := range coalesced {
		e.completed = append(e.completed, Completion{Idx: c, MissType: reqpool.MissCoal})
	}

	return true
}

// applyPendingCohe applies a coalesced coherence message to the
// now-filled line, unless the reply came back private (Category B:
// "when the reply later arrives private, ignore the stale coherence").
func (e *Engine) applyPendingCohe(addr uint64, cohe reqpool.ReqType) {
	_, meta, ok := e.Cache.Lookup(addr)
	if !ok {
		return
	}
	entry, ok := coherence.Lookup(e.Table, cohe, meta.State)
	if ok {
		meta.State = entry.NextState
	}
}

// dispatchCohe processes the COHE (or COHE_REPLY) at the head of the
// cohe tag pipe. L1 has no cache above it, so every COHE is turned
// around into a COHE_REPLY and sent back down to L2 (§4.6).
func (e *Engine) dispatchCohe(idx reqpool.Index) bool {
	req := e.Pool.Get(idx)

	block, meta, present := e.Cache.Lookup(req.Addr)
	if !present {
		// Line already gone (e.g. raced with a prior invalidation):
		// acknowledge positively with nothing to do.
		e.turnIntoCoheReply(req, reqpool.NackNone, false)
		e.OutBelow.Push(idx)
		return true
	}

	meta.CohePend = true

	if meta.State.IsPrivate() && req.Nack == reqpool.NackNOK {
		// Category A: demands copyback from a private line this cache
		// is mid-transaction on — NACK_PEND, directory reevaluates.
		e.turnIntoCoheReply(req, reqpool.NackNOK, false)
		req.Reply = reqpool.ReplyNACKPend
		meta.CohePend = false
		e.OutBelow.Push(idx)
		return true
	}

	entry, ok := coherence.Lookup(e.Table, req.Type, meta.State)
	if !ok {
		panic("l1: coherence protocol applied to a cohe_type with no table entry")
	}

	carriesData := meta.State.IsDirty()
	meta.State = entry.NextState
	if entry.NextState == coherence.INVALID {
		block.IsValid = false
	}
	meta.CohePend = false

	e.turnIntoCoheReply(req, req.Nack, carriesData)
	e.OutBelow.Push(idx)
	return true
}

func (e *Engine) turnIntoCoheReply(req *reqpool.Req, nack reqpool.NackConvention, withData bool) {
	req.Kind = reqpool.KindCoheReply
	req.Dir = reqpool.DirBackward
	req.Route = reqpool.RouteBelow
	req.HeaderOnly = !withData
	req.Nack = nack
}
