package metrics

import (
	"context"
	"runtime"
	"time"
)

// Collector refreshes process gauges on a fixed interval
type Collector struct {
	metrics   *Metrics
	interval  time.Duration
	startTime time.Time
}

// NewCollector creates a collector for m
func NewCollector(m *Metrics, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		metrics:   m,
		interval:  interval,
		startTime: time.Now(),
	}
}

// Run updates the gauges until ctx is done
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
}
