// Package metrics publishes the outcome of a pull as a Prometheus text file
// for the node_exporter textfile collector.
package metrics
