// Package decoder turns a fetched bundle payload into a bundle.FileSet.
//
// Payloads are tried against an ordered list of formats (gzip-compressed tar,
// JSON object, plain tar) and the first one that parses wins. Archive entries
// are extracted into a scratch directory owned by the Decoder for one run.
package decoder
