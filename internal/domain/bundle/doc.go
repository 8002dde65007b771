// Package bundle contains core domain types of a configuration bundle.
//
// It defines the two categories a bundle is partitioned into (rules and
// decoders), the FileSet holding their contents, the content encodings a
// bundle may arrive in, and the Outcome type used by best-effort steps.
package bundle
