// Package pipeline models a multi-ported, multi-stage tag or data bank:
// a width x depth array in which each entry advances at most one stage
// per cycle.
package pipeline

import "github.com/sarchlab/cohecache/timing/reqpool"

// Pipeline is a W-wide, D-deep array of in-flight request indices.
// Stage 0 is the head stage (dispatch candidates); stage Depth-1 is the
// input stage. Advance moves each non-empty entry toward the head by at
// most one stage per call, never past an occupied or blocked later
// stage, preserving the first-in order within a port's lane.
type Pipeline struct {
	width  int
	depth  int
	delay  int
	stages [][]reqpool.Index // stages[stage][port]
}

// New returns an empty pipeline with the given port count (width),
// stage count (depth), and a nominal per-element delay in cycles
// (informational; callers that want a fixed latency simply size depth
// to match it).
func New(width, depth, delay int) *Pipeline {
	if width <= 0 || depth <= 0 {
		panic("pipeline: width and depth must be > 0")
	}
	p := &Pipeline{width: width, depth: depth, delay: delay}
	p.stages = make([][]reqpool.Index, depth)
	for s := range p.stages {
		p.stages[s] = make([]reqpool.Index, width)
		for i := range p.stages[s] {
			p.stages[s][i] = reqpool.NoIndex
		}
	}
	return p
}

// Width returns the port count.
func (p *Pipeline) Width() int { return p.width }

// Depth returns the stage count.
func (p *Pipeline) Depth() int { return p.depth }

// IsInputFull reports whether the input (tail) stage of port is
// occupied, meaning Add would fail.
func (p *Pipeline) IsInputFull(port int) bool {
	return p.stages[p.depth-1][port] != reqpool.NoIndex
}

// Add inserts idx into the input stage of port. It returns false,
// leaving the pipeline unchanged, if the input stage of that port is
// already occupied.
func (p *Pipeline) Add(port int, idx reqpool.Index) bool {
	if p.IsInputFull(port) {
		return false
	}
	p.stages[p.depth-1][port] = idx
	return true
}

// Advance moves each non-empty entry forward by at most one stage. An
// entry cannot advance past a stage that is already occupied; this is
// the only mechanism by which head-of-line blocking occurs inside a
// bank.
func (p *Pipeline) Advance() {
	if p.depth < 2 {
		return
	}
	next := make([][]reqpool.Index, p.depth)
	for s := range p.stages {
		row := make([]reqpool.Index, p.width)
		copy(row, p.stages[s])
		next[s] = row
	}
	for s := 1; s < p.depth; s++ {
		for port := 0; port < p.width; port++ {
			if p.stages[s][port] != reqpool.NoIndex && p.stages[s-1][port] == reqpool.NoIndex {
				next[s-1][port] = p.stages[s][port]
				next[s][port] = reqpool.NoIndex
			}
		}
	}
	p.stages = next
}

// Peek returns the entry currently at the head stage of port, or
// NoIndex if empty.
func (p *Pipeline) Peek(port int) reqpool.Index {
	return p.stages[0][port]
}

// Clear removes the head-stage entry of port, signaling that the
// dispatcher successfully retired it.
func (p *Pipeline) Clear(port int) {
	p.stages[0][port] = reqpool.NoIndex
}

// Replace overwrites the head-stage entry of port with idx, used when a
// request is rewritten in place (e.g. a bounced REPLY turned back into
// a REQUEST) rather than cleared.
func (p *Pipeline) Replace(port int, idx reqpool.Index) {
	p.stages[0][port] = idx
}
