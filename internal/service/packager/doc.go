// Package packager builds rule bundles in every format the puller understands.
//
// It collects the eligible files of a rules and a decoders directory, encodes them as
// tar.gz, tar or json, and writes a YAML description with SHA-512 checksums next to the
// bundle so operators can verify what they publish.
package packager
