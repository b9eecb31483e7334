// Package metrics holds the process-wide clustering counters. Counters are
// injected into every component that reports, reset at the start of a run and
// read at its end. They are exported to Prometheus through Counters' Collector
// implementation and optionally published via expvar.
package metrics

import (
	"expvar"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names a counter.
type Metric string

// Counters read by operational listeners.
const (
	ClusteredVariantsCreated         Metric = "clustered-variants-created"
	ClusteredVariantsUpdated         Metric = "clustered-variants-updated"
	ClusteredVariantsMergeOperations Metric = "clustered-variants-merge-operations"
	ClusteredVariantsSplit           Metric = "clustered-variants-split"
	ClusteredVariantsDeprecated      Metric = "clustered-variants-deprecated"
	SubmittedVariantsKeptUnclustered Metric = "submitted-variants-kept-unclustered"
	SubmittedVariantsClustered       Metric = "submitted-variants-clustered"
	SubmittedVariantsUpdatedRS       Metric = "submitted-variants-updated-rs"
	SubmittedVariantUpdateOperations Metric = "submitted-variant-update-operations"
	SubmittedVariantsDeprecated      Metric = "submitted-variants-deprecated"
)

// Known lists every counter registered by NewCounters.
var Known = []Metric{
	ClusteredVariantsCreated,
	ClusteredVariantsUpdated,
	ClusteredVariantsMergeOperations,
	ClusteredVariantsSplit,
	ClusteredVariantsDeprecated,
	SubmittedVariantsKeptUnclustered,
	SubmittedVariantsClustered,
	SubmittedVariantsUpdatedRS,
	SubmittedVariantUpdateOperations,
	SubmittedVariantsDeprecated,
}

var expvarSeq uint64

// Counters is a set of atomic tallies keyed by metric name.
type Counters struct {
	mu     sync.RWMutex
	values map[Metric]*atomic.Int64
	desc   *prometheus.Desc
}

var _ prometheus.Collector = (*Counters)(nil)

// NewCounters returns zeroed counters for every Known metric.
func NewCounters() *Counters {
	c := &Counters{
		values: make(map[Metric]*atomic.Int64, len(Known)),
		desc: prometheus.NewDesc(
			"variantcore_clustering_events_total",
			"Entities created, updated, merged or left unclustered during the current run.",
			[]string{"metric"}, nil,
		),
	}
	for _, m := range Known {
		c.values[m] = new(atomic.Int64)
	}
	return c
}

func (c *Counters) counter(m Metric) *atomic.Int64 {
	c.mu.RLock()
	v, ok := c.values[m]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok = c.values[m]; !ok {
		v = new(atomic.Int64)
		c.values[m] = v
	}
	return v
}

// Inc adds one to m.
func (c *Counters) Inc(m Metric) { c.Add(m, 1) }

// Add adds n to m. A nil receiver is a no-op so components may run without counters.
func (c *Counters) Add(m Metric, n int64) {
	if c == nil || n == 0 {
		return
	}
	c.counter(m).Add(n)
}

// Get returns the current value of m.
func (c *Counters) Get(m Metric) int64 {
	if c == nil {
		return 0
	}
	return c.counter(m).Load()
}

// Reset zeroes every counter. It is called at the start of a run.
func (c *Counters) Reset() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.values {
		v.Store(0)
	}
}

// Snapshot returns a copy of all counter values.
func (c *Counters) Snapshot() map[Metric]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Metric]int64, len(c.values))
	for m, v := range c.values {
		out[m] = v.Load()
	}
	return out
}

// Names returns the registered metric names in lexical order.
func (c *Counters) Names() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]Metric, 0, len(c.values))
	for m := range c.values {
		names = append(names, m)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Describe implements prometheus.Collector.
func (c *Counters) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Counters) Collect(ch chan<- prometheus.Metric) {
	for m, v := range c.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), string(m))
	}
}

// PublishExpvar exposes the snapshot under name in the expvar registry. An
// empty name generates a unique one. The published name is returned.
func (c *Counters) PublishExpvar(name string) string {
	if name == "" {
		name = fmt.Sprintf("variantcore_counters_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	expvar.Publish(name, expvar.Func(func() any {
		out := make(map[string]int64)
		for m, v := range c.Snapshot() {
			out[string(m)] = v
		}
		return out
	}))
	return name
}
