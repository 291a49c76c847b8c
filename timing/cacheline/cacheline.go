// Package cacheline wraps an Akita cache directory with the
// MESI-specific per-line metadata and replacement policy this module
// needs: line state, mshr_out/cohe_pend locks, and bucket-priority
// victim selection (§3, §4.9).
package cacheline

import (
	"math"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/cohecache/timing/coherence"
)

// LineMeta is the per-slot metadata the akita directory does not carry:
// MESI state plus the locks and prefetch bookkeeping from §3's cache
// line record.
type LineMeta struct {
	State LineStateOrInvalid

	DestNode  int
	CoheType  int
	AllocType int

	// MshrOut marks an upgrade in flight for this line: it must not be
	// victimized (§8 invariant 1), except at an L1-WT cache.
	MshrOut bool
	// CohePend marks a coherence message in flight to/through this
	// line: no new request may be serviced for it (§8 invariant 2).
	CohePend bool

	Age uint64

	PrefetchBrought  bool
	PrefetchFillTime uint64
	// PrefTagRepl records the tag a prefetch evicted, cleared on any
	// subsequent demand touch to either line (§9 Open Question 3).
	PrefTagRepl    uint64
	HasPrefTagRepl bool
}

// LineStateOrInvalid is an alias kept distinct from coherence.LineState
// only for documentation; a line with no block mapped reads as INVALID.
type LineStateOrInvalid = coherence.LineState

// Cache wraps one akita directory plus a parallel metadata array
// indexed the same way the teacher indexes its data store
// (SetID*Associativity+WayID).
type Cache struct {
	numSets       int
	associativity int
	blockSize     int
	isL1WT        bool

	directory *akitacache.DirectoryImpl
	meta      []LineMeta

	ageClock uint64
}

// New returns a Cache with the given geometry. isL1WT relaxes the
// mshr_out exclusion during victim selection, matching the one
// exception §4.9 calls out explicitly.
func New(numSets, associativity, blockSize int, isL1WT bool) *Cache {
	total := numSets * associativity
	meta := make([]LineMeta, total)
	for i := range meta {
		meta[i].State = coherence.INVALID
	}
	return &Cache{
		numSets:       numSets,
		associativity: associativity,
		blockSize:     blockSize,
		isL1WT:        isL1WT,
		directory:     akitacache.NewDirectory(numSets, associativity, blockSize, akitacache.NewLRUVictimFinder()),
		meta:          meta,
	}
}

func (c *Cache) blockIndex(b *akitacache.Block) int {
	return b.SetID*c.associativity + b.WayID
}

// BlockAddr truncates addr to its containing line's base address.
func (c *Cache) BlockAddr(addr uint64) uint64 {
	return (addr / uint64(c.blockSize)) * uint64(c.blockSize)
}

func (c *Cache) setIndex(blockAddr uint64) int {
	return int((blockAddr / uint64(c.blockSize)) % uint64(c.numSets))
}

// Lookup returns the block and metadata for addr's line, and whether it
// is present (valid). A present-but-INVALID-state line (e.g. after an
// invalidation left the akita block marked invalid too) reports ok=false.
func (c *Cache) Lookup(addr uint64) (*akitacache.Block, *LineMeta, bool) {
	blockAddr := c.BlockAddr(addr)
	block := c.directory.Lookup(0, blockAddr)
	if block == nil || !block.IsValid {
		return block, nil, false
	}
	m := &c.meta[c.blockIndex(block)]
	return block, m, m.State != coherence.INVALID
}

// Touch marks block as most-recently-used and bumps its age to the
// newest value. When isDemand is true, it also clears PrefTagRepl on
// this line, and on any line of the same set whose PrefTagRepl records
// this line's tag, per §9's resolution of the PrefTagRepl open question.
func (c *Cache) Touch(block *akitacache.Block, isDemand bool) {
	c.directory.Visit(block)
	c.ageClock++
	m := &c.meta[c.blockIndex(block)]
	m.Age = c.ageClock
	if isDemand {
		m.HasPrefTagRepl = false
		base := block.SetID * c.associativity
		for i := base; i < base+c.associativity; i++ {
			if c.meta[i].HasPrefTagRepl && c.meta[i].PrefTagRepl == block.Tag {
				c.meta[i].HasPrefTagRepl = false
			}
		}
	}
}

// bucketRank orders states by victim priority: INVALID first, then
// SH_CL, PR_CL, PR_DY, SH_DY, matching §4.9 exactly.
func bucketRank(s coherence.LineState) int {
	switch s {
	case coherence.INVALID:
		return 0
	case coherence.SH_CL:
		return 1
	case coherence.PR_CL:
		return 2
	case coherence.PR_DY:
		return 3
	case coherence.SH_DY:
		return 4
	default:
		return 5
	}
}

// SelectVictim classifies every line in addr's set by state and returns
// the highest-priority candidate (lowest bucketRank, oldest within the
// bucket), skipping any line with MshrOut set unless this is an L1-WT
// cache. ok is false (NO_REPLACE) if every candidate is locked.
func (c *Cache) SelectVictim(addr uint64) (block *akitacache.Block, meta *LineMeta, ok bool) {
	blockAddr := c.BlockAddr(addr)
	setID := c.setIndex(blockAddr)
	sets := c.directory.GetSets()
	if setID >= len(sets) {
		return nil, nil, false
	}

	var bestBlock *akitacache.Block
	var bestRank = 6
	var bestAge = uint64(math.MaxUint64)

	for _, b := range sets[setID].Blocks {
		m := &c.meta[c.blockIndex(b)]
		if m.MshrOut && !c.isL1WT {
			continue
		}
		rank := bucketRank(m.State)
		if !b.IsValid {
			rank = bucketRank(coherence.INVALID)
		}
		if rank < bestRank || (rank == bestRank && m.Age < bestAge) {
			bestBlock = b
			bestRank = rank
			bestAge = m.Age
		}
	}

	if bestBlock == nil {
		return nil, nil, false
	}
	return bestBlock, &c.meta[c.blockIndex(bestBlock)], true
}

// Install places addr's line into the victim slot found by
// SelectVictim, resetting its metadata to state and marking it the
// newest line. It returns NO_REPLACE (ok=false) if no victim is
// available.
func (c *Cache) Install(addr uint64, state coherence.LineState, destNode int) (*akitacache.Block, *LineMeta, bool) {
	block, meta, ok := c.SelectVictim(addr)
	if !ok {
		return nil, nil, false
	}
	block.Tag = c.BlockAddr(addr)
	block.IsValid = true
	block.IsDirty = state.IsDirty()
	c.ageClock++
	*meta = LineMeta{State: state, DestNode: destNode, Age: c.ageClock}
	c.directory.Visit(block)
	return block, meta, true
}

// Invalidate clears addr's line, if present.
func (c *Cache) Invalidate(addr uint64) {
	block, meta, ok := c.Lookup(addr)
	if !ok {
		return
	}
	block.IsValid = false
	block.IsDirty = false
	*meta = LineMeta{State: coherence.INVALID}
}

// Reset invalidates every line.
func (c *Cache) Reset() {
	c.directory.Reset()
	for i := range c.meta {
		c.meta[i] = LineMeta{State: coherence.INVALID}
	}
	c.ageClock = 0
}

// NumSets and Associativity expose the cache geometry.
func (c *Cache) NumSets() int       { return c.numSets }
func (c *Cache) Associativity() int { return c.associativity }
func (c *Cache) BlockSize() int     { return c.blockSize }
