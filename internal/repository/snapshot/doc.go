// Package snapshot manages the backup root: timestamped, immutable copies of
// the live rules and decoders directories taken before every deployment,
// their YAML manifests with BLAKE3 digests, and retention pruning.
package snapshot
