package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wazuh_puller"

var errPathRequired = errors.New("metrics file path must be provided")

// Run is the summary of one pull recorded by the collector.
type Run struct {
	// State is the terminal state name.
	State string
	// Encoding is the detected bundle encoding.
	Encoding string
	// Success reports whether the run succeeded.
	Success bool
	// Simulated is true for dry runs.
	Simulated bool
	// StartedAt and FinishedAt bound the run.
	StartedAt, FinishedAt time.Time
	// Rules and Decoders are the deployed file counts.
	Rules, Decoders int
	// BytesDownloaded is the bundle size.
	BytesDownloaded int64
	// BackupsKept is the number of snapshots left after pruning.
	BackupsKept int
}

// Collector holds the gauges of the last run in a private registry.
type Collector struct {
	registry *prometheus.Registry

	success     prometheus.Gauge
	simulated   prometheus.Gauge
	timestamp   prometheus.Gauge
	duration    prometheus.Gauge
	deployed    *prometheus.GaugeVec
	bytes       prometheus.Gauge
	backupsKept prometheus.Gauge
	state       *prometheus.GaugeVec
}

// NewCollector registers the gauges.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run succeeded (1) or failed (0).",
		}),
		simulated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_simulated",
			Help:      "Whether the last run was a dry run.",
		}),
		timestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		deployed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_files_deployed",
			Help:      "Files written by the last run by category.",
		}, []string{"category"}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_bundle_bytes",
			Help:      "Size of the bundle downloaded by the last run.",
		}),
		backupsKept: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backups_kept",
			Help:      "Backup snapshots retained after the last prune.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_info",
			Help:      "Terminal state and bundle encoding of the last run.",
		}, []string{"state", "encoding"}),
	}

	c.registry.MustRegister(
		c.success,
		c.simulated,
		c.timestamp,
		c.duration,
		c.deployed,
		c.bytes,
		c.backupsKept,
		c.state,
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe replaces the gauges with the values of run.
func (c *Collector) Observe(run *Run) {
	c.success.Set(boolToFloat(run.Success))
	c.simulated.Set(boolToFloat(run.Simulated))
	c.timestamp.Set(float64(run.FinishedAt.Unix()))
	c.duration.Set(run.FinishedAt.Sub(run.StartedAt).Seconds())
	c.deployed.WithLabelValues("rules").Set(float64(run.Rules))
	c.deployed.WithLabelValues("decoders").Set(float64(run.Decoders))
	c.bytes.Set(float64(run.BytesDownloaded))
	c.backupsKept.Set(float64(run.BackupsKept))

	c.state.Reset()
	c.state.WithLabelValues(run.State, run.Encoding).Set(1)
}

// WriteFile writes the gauges in the text exposition format.
// The write goes through a temporary file so the collector never reads a partial file.
func (c *Collector) WriteFile(path string) error {
	if path == "" {
		return errPathRequired
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}

	return nil
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}

	return 0
}
