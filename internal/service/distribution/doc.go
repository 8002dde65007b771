// Package distribution talks to the remote rules distribution endpoint.
//
// It performs the health check, the catalog listing and the bundle download,
// each with its own timeout, and reports every transport problem as a
// *TransportError. It never interprets the bundle beyond its first two bytes.
package distribution
