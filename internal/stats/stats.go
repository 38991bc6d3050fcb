// Package stats implements statistics collection and an on-exit dump:
// peak resident bytes, page faults, bytes carved, and quarantined
// bytes, exposed both as a text dump and as Prometheus gauges an
// embedder can scrape instead.
package stats

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/sys/unix"
)

// Collector tracks the four on-exit statistics plus the internal-only
// leaked-capsules counter.
type Collector struct {
	registry *prometheus.Registry

	peakResidentBytes prometheus.Gauge
	pageFaults        prometheus.Gauge
	bytesCarved       prometheus.Gauge
	quarantinedBytes  prometheus.Gauge
	leakedCapsules    prometheus.Gauge
}

// New builds a Collector and registers its gauges against a private
// Registry (never the global default, so an embedding process can run
// more than one Sanitizer without metric name collisions).
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		peakResidentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rezzan_peak_resident_bytes",
			Help: "Peak resident set size observed at the last sample, in bytes.",
		}),
		pageFaults: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rezzan_page_faults_total",
			Help: "Minor plus major page faults observed at the last sample.",
		}),
		bytesCarved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rezzan_bytes_carved_total",
			Help: "Total bytes ever carved from the arena.",
		}),
		quarantinedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rezzan_quarantined_bytes",
			Help: "Bytes currently parked in quarantine.",
		}),
		leakedCapsules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rezzan_leaked_capsules",
			Help: "Capsules dropped silently because the free-node arena was exhausted.",
		}),
	}
	c.registry.MustRegister(
		c.peakResidentBytes,
		c.pageFaults,
		c.bytesCarved,
		c.quarantinedBytes,
		c.leakedCapsules,
	)
	return c
}

// Registry exposes the private Prometheus registry so an embedder can
// wire it into an HTTP scrape endpoint instead of, or alongside, the
// on-exit text dump.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Sample refreshes the resident-memory and page-fault gauges from
// getrusage(RUSAGE_SELF), and the arena/quarantine gauges from the
// caller-supplied running totals. It does not read /proc.
func (c *Collector) Sample(bytesCarved, quarantinedBytes, leakedCapsules uint64) error {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return fmt.Errorf("stats: getrusage: %w", err)
	}
	// ru.Maxrss is reported in KiB on Linux.
	c.peakResidentBytes.Set(float64(ru.Maxrss) * 1024)
	c.pageFaults.Set(float64(ru.Minflt + ru.Majflt))
	c.bytesCarved.Set(float64(bytesCarved))
	c.quarantinedBytes.Set(float64(quarantinedBytes))
	c.leakedCapsules.Set(float64(leakedCapsules))
	return nil
}

// Dump writes the four on-exit lines to w. leaked_capsules is
// deliberately not one of them — it stays visible only through the
// Prometheus registry. Callers gate this on REZZAN_STATS.
func (c *Collector) Dump(w io.Writer) {
	fmt.Fprintf(w, "peak_resident_bytes=%d\n", int64(readGauge(c.peakResidentBytes)))
	fmt.Fprintf(w, "page_faults=%d\n", int64(readGauge(c.pageFaults)))
	fmt.Fprintf(w, "bytes_carved=%d\n", int64(readGauge(c.bytesCarved)))
	fmt.Fprintf(w, "quarantined_bytes=%d\n", int64(readGauge(c.quarantinedBytes)))
}

// DumpOnExit samples the running totals and writes the four on-exit
// lines to w in one call, the hook a Sanitizer registers for its
// Close method when REZZAN_STATS is set.
func (c *Collector) DumpOnExit(w io.Writer, bytesCarved, quarantinedBytes, leakedCapsules uint64) error {
	if err := c.Sample(bytesCarved, quarantinedBytes, leakedCapsules); err != nil {
		return err
	}
	c.Dump(w)
	return nil
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}
