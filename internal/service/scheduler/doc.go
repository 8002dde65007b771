// Package scheduler repeats a job on a cron schedule until its context is cancelled.
// Runs never overlap: a tick that fires while the previous run is active is skipped.
package scheduler
