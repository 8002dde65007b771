package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestCollector_Observe records a run and checks the gauges.
func TestCollector_Observe(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := NewCollector()

	collector.Observe(&Run{
		State:           "Done",
		Encoding:        "tar.gz",
		Success:         true,
		StartedAt:       started,
		FinishedAt:      started.Add(1500 * time.Millisecond),
		Rules:           4,
		Decoders:        2,
		BytesDownloaded: 1024,
		BackupsKept:     5,
	})

	require.InDelta(t, 1, testutil.ToFloat64(collector.success), 0)
	require.InDelta(t, 1.5, testutil.ToFloat64(collector.duration), 1e-9)
	require.InDelta(t, 4, testutil.ToFloat64(collector.deployed.WithLabelValues("rules")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(collector.deployed.WithLabelValues("decoders")), 0)
	require.InDelta(t, 1024, testutil.ToFloat64(collector.bytes), 0)

	// A later failed run replaces the info series.
	collector.Observe(&Run{State: "Failed", Encoding: "unknown", StartedAt: started, FinishedAt: started})
	require.InDelta(t, 0, testutil.ToFloat64(collector.success), 0)
	require.Equal(t, 1, testutil.CollectAndCount(collector.state))
}

// TestCollector_WriteFile writes the exposition format to disk.
func TestCollector_WriteFile(t *testing.T) {
	t.Parallel()

	collector := NewCollector()
	collector.Observe(&Run{State: "Done", Encoding: "json", Success: true, FinishedAt: time.Unix(100, 0)})

	path := filepath.Join(t.TempDir(), "textfile", "wazuh_puller.prom")
	require.NoError(t, collector.WriteFile(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "wazuh_puller_last_run_success 1")
	require.Contains(t, string(contents), `wazuh_puller_last_run_info{encoding="json",state="Done"} 1`)

	require.ErrorIs(t, collector.WriteFile(""), errPathRequired)
}
