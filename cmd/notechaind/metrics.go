// metrics.go - Metrics collection for the notechain daemon.
package main

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MetricsCollector tracks counters, gauges and timing histograms.
type MetricsCollector struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string][]time.Duration
}

// NewMetricsCollector creates an empty metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string][]time.Duration),
	}
}

// IncrementCounter adds one to a counter metric.
func (mc *MetricsCollector) IncrementCounter(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[name]++
}

// SetGauge sets a gauge metric.
func (mc *MetricsCollector) SetGauge(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.gauges[name] = value
}

// RecordTiming appends a duration sample to a timing metric. Only the
// last 1000 samples are retained.
func (mc *MetricsCollector) RecordTiming(name string, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	samples := append(mc.timings[name], d)
	if len(samples) > 1000 {
		samples = samples[len(samples)-1000:]
	}
	mc.timings[name] = samples
}

// Counter returns a counter's current value.
func (mc *MetricsCollector) Counter(name string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[name]
}

// Summary renders all metrics as sorted "name value" lines.
func (mc *MetricsCollector) Summary() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	lines := make([]string, 0, len(mc.counters)+len(mc.gauges)+len(mc.timings))
	for name, value := range mc.counters {
		lines = append(lines, fmt.Sprintf("%s %d", name, value))
	}
	for name, value := range mc.gauges {
		lines = append(lines, fmt.Sprintf("%s %g", name, value))
	}
	for name, samples := range mc.timings {
		if len(samples) == 0 {
			continue
		}
		var total time.Duration
		min, max := samples[0], samples[0]
		for _, s := range samples {
			total += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		avg := total / time.Duration(len(samples))
		lines = append(lines, fmt.Sprintf("%s count=%d avg=%s min=%s max=%s",
			name, len(samples), avg, min, max))
	}
	sort.Strings(lines)
	return lines
}

// Metric names used by the daemon.
const (
	MetricTransactionsExecuted = "transactions_executed"
	MetricTransactionsFailed   = "transactions_failed"
	MetricBatchesProven        = "batches_proven"
	MetricBlocksCommitted      = "blocks_committed"
	MetricChainHeight          = "chain_height"
	MetricProverWorkers        = "prover_workers"
	MetricKeySetupTime         = "key_setup_time"
	MetricProofTime            = "proof_generation_time"
)
