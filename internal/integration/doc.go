// Package integration runs the puller against the reference distribution server.
package integration
