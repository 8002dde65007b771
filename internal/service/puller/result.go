package puller

import (
	"time"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/metrics"
)

// Result describes one pipeline run.
type Result struct {
	// RunID identifies the run in logs and metrics.
	RunID string
	// State is the state the run stopped in.
	State State
	// Trace lists every state the run entered, in order, starting with StateInit.
	Trace []State
	// Simulated is true when the run halted after the backup on request.
	Simulated bool

	// RemoteVersion is reported by the health endpoint, when present.
	RemoteVersion string
	// RemoteCount is the catalog size, or -1 when the catalog was unavailable.
	RemoteCount int

	// Backup is the path of the snapshot taken by this run, empty when skipped.
	Backup string
	// BackupOutcome tells whether the backup succeeded.
	BackupOutcome bundle.Outcome
	// PruneOutcome tells whether retention succeeded.
	PruneOutcome bundle.Outcome
	// BackupsKept is the number of snapshots left after pruning.
	BackupsKept int

	// BytesDownloaded is the size of the fetched bundle.
	BytesDownloaded int64
	// Encoding is the format the bundle was decoded as.
	Encoding bundle.ContentEncoding
	// RulesWritten and DecodersWritten are the deployed file counts.
	RulesWritten, DecodersWritten int
	// DeployErrors joins per-file write failures; they do not fail the run.
	DeployErrors error

	// Err is the cause of a failed run.
	Err error

	// StartedAt and FinishedAt bound the run.
	StartedAt, FinishedAt time.Time
}

// Success reports whether the run completed, or halted after the backup in simulation mode.
func (r *Result) Success() bool {
	if r.State == StateDone {
		return true
	}

	return r.Simulated && r.State == StateBackedUp && r.Err == nil
}

// Metrics converts the result into the values published for monitoring.
func (r *Result) Metrics() *metrics.Run {
	return &metrics.Run{
		State:           r.State.String(),
		Encoding:        r.Encoding.String(),
		Success:         r.Success(),
		Simulated:       r.Simulated,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Rules:           r.RulesWritten,
		Decoders:        r.DecodersWritten,
		BytesDownloaded: r.BytesDownloaded,
		BackupsKept:     r.BackupsKept,
	}
}

// enter records a transition.
func (r *Result) enter(state State) {
	r.State = state
	r.Trace = append(r.Trace, state)
}
