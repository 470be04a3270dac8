package merkletrie

import (
	"fmt"
	"sync/atomic"
)

// counters - метрики дерева (lock-free)
type counters struct {
	inserts        atomic.Uint64
	deletes        atomic.Uint64
	nodesCreated   atomic.Uint64
	splits         atomic.Uint64
	lostRaces      atomic.Uint64
	retired        atomic.Uint64
	reclaimed      atomic.Uint64
	reused         atomic.Uint64
	normalizations atomic.Uint64
	pruned         atomic.Uint64
	collapsed      atomic.Uint64
	rehashed       atomic.Uint64
	merges         atomic.Uint64
}

type Stats struct {
	Inserts        uint64
	Deletes        uint64
	NodesCreated   uint64
	Splits         uint64
	LostRaces      uint64
	RetiredNodes   uint64
	ReclaimedNodes uint64
	ReusedNodes    uint64
	Normalizations uint64
	PrunedNodes    uint64
	CollapsedNodes uint64
	RehashedNodes  uint64
	Merges         uint64
	Epoch          uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Inserts:        c.inserts.Load(),
		Deletes:        c.deletes.Load(),
		NodesCreated:   c.nodesCreated.Load(),
		Splits:         c.splits.Load(),
		LostRaces:      c.lostRaces.Load(),
		RetiredNodes:   c.retired.Load(),
		ReclaimedNodes: c.reclaimed.Load(),
		ReusedNodes:    c.reused.Load(),
		Normalizations: c.normalizations.Load(),
		PrunedNodes:    c.pruned.Load(),
		CollapsedNodes: c.collapsed.Load(),
		RehashedNodes:  c.rehashed.Load(),
		Merges:         c.merges.Load(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("inserts=%d deletes=%d created=%d splits=%d lost=%d retired=%d reclaimed=%d reused=%d normalize=%d pruned=%d collapsed=%d rehashed=%d epoch=%d",
		s.Inserts, s.Deletes, s.NodesCreated, s.Splits, s.LostRaces, s.RetiredNodes,
		s.ReclaimedNodes, s.ReusedNodes, s.Normalizations, s.PrunedNodes, s.CollapsedNodes,
		s.RehashedNodes, s.Epoch)
}
