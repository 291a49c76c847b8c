// Package stats holds per-cache statistics counters, a supplemented
// feature (§1 places text-formatted reporting out of scope, but the
// counters themselves are not a "reporting" concern and the original
// simulator's CacheStat struct is reproduced field-for-field).
package stats

import "github.com/sarchlab/cohecache/timing/reqpool"

// Counters is one cache's running statistics.
type Counters struct {
	DemandRef  [3]uint64 // indexed by READ, WRITE, RMW
	DemandMiss [3]uint64

	PrefRef  [4]uint64 // indexed by the four prefetch ReqTypes, in enum order
	PrefMiss [4]uint64

	MissByType [8]uint64 // indexed by MissType

	PipeStallTag  uint64
	PipeStallData uint64

	CoheReceived      uint64
	CoheSentUp        uint64
	CoheReplyNACK     uint64
	CoheReplyNACKPend uint64

	WBSent    uint64
	ReplSent  uint64
	Victims   uint64
	PRVictims uint64
	SHVictims uint64

	CoheCacheToCacheSH   uint64
	CoheCacheToCacheExcl uint64

	PrefUnnecessary uint64
	PrefDropped     uint64
}

func demandSlot(t reqpool.ReqType) (int, bool) {
	switch t {
	case reqpool.READ:
		return 0, true
	case reqpool.WRITE:
		return 1, true
	case reqpool.RMW:
		return 2, true
	default:
		return 0, false
	}
}

func prefSlot(t reqpool.ReqType) (int, bool) {
	switch t {
	case reqpool.L1WRITE_PREFETCH:
		return 0, true
	case reqpool.L1READ_PREFETCH:
		return 1, true
	case reqpool.L2WRITE_PREFETCH:
		return 2, true
	case reqpool.L2READ_PREFETCH:
		return 3, true
	default:
		return 0, false
	}
}

// RecordRef records a reference of the given request type, bucketing it
// as demand or prefetch.
func (c *Counters) RecordRef(t reqpool.ReqType) {
	if slot, ok := demandSlot(t); ok {
		c.DemandRef[slot]++
		return
	}
	if slot, ok := prefSlot(t); ok {
		c.PrefRef[slot]++
	}
}

// RecordMiss records a miss of the given request type and classifies it
// by MissType.
func (c *Counters) RecordMiss(t reqpool.ReqType, mt reqpool.MissType) {
	if slot, ok := demandSlot(t); ok {
		c.DemandMiss[slot]++
	} else if slot, ok := prefSlot(t); ok {
		c.PrefMiss[slot]++
	}
	if int(mt) < len(c.MissByType) {
		c.MissByType[mt]++
	}
}

// RecordPrefUnnecessary records a coalesced prefetch that turned out to
// be unnecessary, following the !wasnack condition from §9's Open
// Question.
func (c *Counters) RecordPrefUnnecessary() { c.PrefUnnecessary++ }

// RecordPrefDropped records a prefetch dropped due to
// MSHR_USELESS_FETCH_IN_PROGRESS or a discriminate-prefetch policy
// decision.
func (c *Counters) RecordPrefDropped() { c.PrefDropped++ }

// Histogram is a running min/max/mean/count accumulator, used for
// prefetch lateness (in cycles) in place of the original's bucketed
// STATREC, since this module has no simulation-kernel clock to bucket
// against; callers supply the current cycle explicitly.
type Histogram struct {
	Count int
	Sum   uint64
	Min   uint64
	Max   uint64
}

// Add records one sample.
func (h *Histogram) Add(v uint64) {
	if h.Count == 0 || v < h.Min {
		h.Min = v
	}
	if v > h.Max {
		h.Max = v
	}
	h.Sum += v
	h.Count++
}

// Mean returns the running average, or 0 if no samples were recorded.
func (h *Histogram) Mean() float64 {
	if h.Count == 0 {
		return 0
	}
	return float64(h.Sum) / float64(h.Count)
}
