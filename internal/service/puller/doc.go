// Package puller runs the pull pipeline: it checks the distribution endpoint, backs up the
// live directories, downloads and decodes the bundle, deploys it and prunes old backups.
//
// The pipeline is an explicit state machine. Every transition is recorded on the Result so
// callers can tell exactly how far a run got and why it stopped.
package puller
