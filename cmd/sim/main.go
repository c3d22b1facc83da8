// Command sim runs a whole cluster in-process over a lossy network and
// reports how long it takes to converge.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/pkg/broadcast"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/message"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
	"github.com/ryandielhenn/zephyrmesh/pkg/ring"
	"github.com/ryandielhenn/zephyrmesh/pkg/sim"
)

func main() {
	strategy := flag.String("strategy", "broadcast", "broadcast|gossip")
	nodes := flag.Int("nodes", 5, "cluster size")
	values := flag.Int("values", 100, "client broadcasts to inject")
	fanout := flag.Int("fanout", 0, "ring fan-out for neighbor sets; 0 means all members")
	drop := flag.Float64("drop", 0.1, "probability a node-to-node envelope is lost")
	dup := flag.Float64("dup", 0.05, "probability a node-to-node envelope is delivered twice")
	steps := flag.Int("steps-per-tick", 0, "deliver at most this many envelopes between ticks; 0 drains the network every tick")
	seed := flag.Int64("seed", 1, "random seed")
	maxTicks := flag.Int("max-ticks", 1000, "give up after this many ticks")
	verbose := flag.Bool("v", false, "debug logging to stderr")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	factory, request, err := strategyFor(*strategy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := sim.Config{
		Nodes:        *nodes,
		Strategy:     factory,
		DropRate:     *drop,
		DupRate:      *dup,
		StepsPerTick: *steps,
		Seed:         *seed,
		Logger:       log,
	}
	if *fanout > 0 {
		cfg.Layout = ring.Layout(*fanout)
	}
	nw, err := sim.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	start := time.Now()
	ids := nw.IDs()
	for i := 0; i < *values; i++ {
		v := message.Value(strconv.Itoa(i))
		if err := nw.Request(ids[i%len(ids)], request(v)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	ticks, err := nw.Settle(*maxTicks)
	dur := time.Since(start)
	st := nw.Stats()
	fmt.Printf("%s: %d values on %d nodes, %d ticks, delivered=%d dropped=%d duplicated=%d in %s\n",
		*strategy, len(nw.Union()), *nodes, ticks, st.Delivered, st.Dropped, st.Duplicated, dur)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func strategyFor(name string) (func() node.Strategy, func(message.Value) message.Payload, error) {
	switch name {
	case "broadcast":
		seq := 0
		ids := broadcast.WithCorrelationIDs(func() string {
			seq++
			return "m" + strconv.Itoa(seq)
		})
		return func() node.Strategy { return broadcast.New(ids) },
			func(v message.Value) message.Payload { return broadcast.Broadcast{Message: v} },
			nil
	case "gossip":
		return func() node.Strategy { return gossip.New() },
			func(v message.Value) message.Payload { return gossip.Broadcast{Message: v} },
			nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", name)
	}
}
