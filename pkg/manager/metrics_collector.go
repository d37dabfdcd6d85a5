package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/record"
)

// MetricsCollector periodically republishes gauges that aren't
// naturally updated at the point of the event they describe: database
// record population by type code and current memory usage. Queue
// depth and worker counts are instead updated inline by pkg/scheduler
// as jobs and workers come and go.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a collector polling mgr.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a 15s interval.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	stats := c.manager.Database().Stats()
	metrics.DatabaseMemoryBytes.Set(float64(stats.MemoryBytes))
	for typeCode, count := range stats.ByType {
		metrics.RecordsTotal.WithLabelValues(typeCodeLabel(typeCode)).Set(float64(count))
	}
}

func typeCodeLabel(code record.TypeCode) string {
	return strconv.FormatUint(uint64(code), 10)
}
