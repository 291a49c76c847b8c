// Package main provides a standalone demo driver for the cache core:
// it builds a single node's L1/L2 pair from a JSON system
// configuration, feeds it either a trace file or a small synthetic
// access pattern, and prints the resulting statistics.
//
// The directory, interconnect, and processor front end are out of
// scope for this module (spec §1); this command stands in for all
// three with a trivial always-present backing store so the cache core
// can be exercised end to end without them.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/l2"
	"github.com/sarchlab/cohecache/timing/node"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

var (
	configPath  = flag.String("config", "", "Path to a system configuration JSON file")
	tracePath   = flag.String("trace", "", `Path to a trace file of "R <hex addr>" / "W <hex addr>" lines; a small synthetic trace runs if omitted`)
	drainCycles = flag.Int("drain-cycles", 64, "Cycles to keep driving after the trace is exhausted, to let in-flight misses retire")
	verbose     = flag.Bool("v", false, "Print each completion as it retires")
)

func main() {
	flag.Parse()

	sys := config.DefaultSystem()
	if *configPath != "" {
		loaded, err := config.LoadSystem(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading system config: %v\n", err)
			os.Exit(1)
		}
		sys = loaded
	}
	if err := sys.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid system config: %v\n", err)
		os.Exit(1)
	}

	accesses, err := loadTrace(*tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trace: %v\n", err)
		os.Exit(1)
	}

	pool := reqpool.NewPool()
	mem := newBackingStore(pool)
	flavor := l2.L1FlavorWB
	if sys.L1.CacheLevelType == config.FIRSTLEVEL_WT {
		flavor = l2.L1FlavorWT
	}
	n := node.New(0, sys, pool, flavor, mem, mem)

	var issued, completed int
	for _, a := range accesses {
		idx := pool.Alloc()
		req := pool.Get(idx)
		req.Addr, req.Type, req.Kind = a.addr, a.reqType, reqpool.KindRequest
		req.ForwardTo = -1
		n.L1.InReq.Push(idx)
		issued++

		n.Tick()
		mem.tick(n)
		completed += drain(n, *verbose)
	}

	for i := 0; i < *drainCycles; i++ {
		n.Tick()
		mem.tick(n)
		completed += drain(n, *verbose)
	}

	report(n, issued, completed)
}

func drain(n *node.Node, verbose bool) int {
	done := n.DrainCompleted()
	for _, c := range done {
		if verbose {
			fmt.Printf("retired idx=%d missType=%s\n", c.Idx, c.MissType)
		}
		n.Pool.Free(c.Idx)
	}
	return len(done)
}

func report(n *node.Node, issued, completed int) {
	s1, s2 := n.L1.Stats, n.L2.Stats
	fmt.Printf("\ncohecache node 0 report\n")
	fmt.Printf("Issued:    %d\n", issued)
	fmt.Printf("Completed: %d\n", completed)
	fmt.Printf("\nL1 demand refs:  %v\n", s1.DemandRef)
	fmt.Printf("L1 demand miss:  %v\n", s1.DemandMiss)
	fmt.Printf("L2 demand refs:  %v\n", s2.DemandRef)
	fmt.Printf("L2 demand miss:  %v\n", s2.DemandMiss)
	fmt.Printf("L2 victims:      %d (private %d, shared %d)\n", s2.Victims, s2.PRVictims, s2.SHVictims)
	fmt.Printf("L1 fill lateness: mean %.2f cycles over %d demand fills\n", n.L1.Lateness.Mean(), n.L1.Lateness.Count)
}

type access struct {
	addr    uint64
	reqType reqpool.ReqType
}

func loadTrace(path string) ([]access, error) {
	if path == "" {
		return syntheticTrace(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []access
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed trace line %q", line)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed address in line %q: %w", line, err)
		}
		var rt reqpool.ReqType
		switch strings.ToUpper(fields[0]) {
		case "R":
			rt = reqpool.READ
		case "W":
			rt = reqpool.WRITE
		default:
			return nil, fmt.Errorf("unknown access kind %q in line %q", fields[0], line)
		}
		out = append(out, access{addr: addr, reqType: rt})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// syntheticTrace exercises both hits and a write upgrade against the
// default configuration: a small working set read twice (hits on the
// second pass), then a write to one of those lines.
func syntheticTrace() []access {
	var out []access
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < 8; i++ {
			out = append(out, access{addr: uint64(i * 64), reqType: reqpool.READ})
		}
	}
	out = append(out, access{addr: 0, reqType: reqpool.WRITE})
	return out
}

// backingStore is a single-node demo stand-in for the out-of-scope
// directory and network modules (node.Directory and node.Network): it
// always has data for every address, answering each REQUEST with a
// REPLY one cycle later, and drops COHE_REPLY acknowledgements since a
// single node never receives a COHE to answer.
type backingStore struct {
	pool    *reqpool.Pool
	pending []reqpool.Index
}

func newBackingStore(pool *reqpool.Pool) *backingStore {
	return &backingStore{pool: pool}
}

// Send implements both node.Directory and node.Network: in this
// single-node demo nothing is ever forwarded to another node's cache,
// so every message it receives is an ordinary REQUEST or a replacement/
// COHE_REPLY acknowledgement.
func (b *backingStore) Send(idx reqpool.Index) {
	req := b.pool.Get(idx)
	if req.Kind != reqpool.KindRequest {
		b.pool.Free(idx)
		return
	}
	b.pending = append(b.pending, idx)
}

// tick turns every REQUEST received since the last tick into a REPLY
// and delivers it to L2, modeling a fixed one-cycle memory latency.
// WRB and REPL requests get no reply and are freed.
func (b *backingStore) tick(n *node.Node) {
	pending := b.pending
	b.pending = nil
	for _, idx := range pending {
		req := b.pool.Get(idx)
		switch req.Type {
		case reqpool.READ_SH, reqpool.READ_DISC:
			req.Type = reqpool.REPLY_SH
		case reqpool.READ_OWN:
			req.Type = reqpool.REPLY_EXCL
		case reqpool.UPGRADE:
			req.Type = reqpool.REPLY_UPGRADE
		case reqpool.WRB, reqpool.REPL:
			b.pool.Free(idx)
			continue
		default:
			req.Type = reqpool.REPLY_SH
		}
		req.Kind = reqpool.KindReply
		n.L2.InReply.Push(idx)
	}
}
