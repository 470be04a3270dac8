package merkletrie

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource - все, что умеет отдать снимок статистики
type StatsSource interface {
	GetStats() Stats
}

type statDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(s Stats) float64
}

// Collector экспортирует Stats дерева в prometheus.
// Регистрируется хостом явно, глобального состояния нет.
type Collector struct {
	src   StatsSource
	descs []statDesc
}

func NewCollector(namespace, name string, src StatsSource) *Collector {
	labels := prometheus.Labels{"trie": name}
	counter := func(metric, help string, value func(s Stats) float64) statDesc {
		return statDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "trie", metric), help, nil, labels),
			valueType: prometheus.CounterValue,
			value:     value,
		}
	}

	c := &Collector{src: src}
	c.descs = []statDesc{
		counter("inserts_total", "Leaf inserts applied", func(s Stats) float64 { return float64(s.Inserts) }),
		counter("deletes_total", "Leaves removed", func(s Stats) float64 { return float64(s.Deletes) }),
		counter("nodes_created_total", "Nodes installed by get-or-create", func(s Stats) float64 { return float64(s.NodesCreated) }),
		counter("splits_total", "Compressed paths split", func(s Stats) float64 { return float64(s.Splits) }),
		counter("lost_races_total", "Candidate nodes that lost the install race", func(s Stats) float64 { return float64(s.LostRaces) }),
		counter("retired_nodes_total", "Nodes handed to the garbage collector", func(s Stats) float64 { return float64(s.RetiredNodes) }),
		counter("reclaimed_nodes_total", "Nodes returned to the allocation pool", func(s Stats) float64 { return float64(s.ReclaimedNodes) }),
		counter("reused_nodes_total", "Allocations served from the pool", func(s Stats) float64 { return float64(s.ReusedNodes) }),
		counter("normalizations_total", "Completed hash and normalize passes", func(s Stats) float64 { return float64(s.Normalizations) }),
		counter("pruned_nodes_total", "Empty nodes removed by normalize", func(s Stats) float64 { return float64(s.PrunedNodes) }),
		counter("collapsed_nodes_total", "Single-child nodes collapsed by normalize", func(s Stats) float64 { return float64(s.CollapsedNodes) }),
		counter("rehashed_nodes_total", "Node hashes recomputed", func(s Stats) float64 { return float64(s.RehashedNodes) }),
		counter("merges_total", "Serial tries merged in", func(s Stats) float64 { return float64(s.Merges) }),
		{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "trie", "gc_epoch"), "Current garbage collector epoch", nil, labels),
			valueType: prometheus.GaugeValue,
			value:     func(s Stats) float64 { return float64(s.Epoch) },
		},
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.GetStats()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, d.value(s))
	}
}
