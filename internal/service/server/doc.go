// Package server is a reference distribution API. It serves the rules and decoders of
// local directories in the format the puller consumes, for staging setups and tests.
package server
