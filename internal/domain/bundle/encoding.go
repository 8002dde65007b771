package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ContentEncoding identifies how a fetched bundle payload is encoded.
type ContentEncoding int

const (
	// EncodingUnknown means the payload has not been classified yet.
	EncodingUnknown ContentEncoding = iota
	// EncodingCompressedArchive is a gzip-compressed tar archive.
	EncodingCompressedArchive
	// EncodingRawArchive is an uncompressed tar archive.
	EncodingRawArchive
	// EncodingStructuredPayload is a JSON object with "rules" and "decoders" mappings.
	EncodingStructuredPayload
)

// errUnknownEncoding is returned when an encoding name cannot be parsed.
var errUnknownEncoding = errors.New("unknown content encoding")

// gzipMagic is the two-byte signature every gzip stream starts with.
//
//nolint:gochecknoglobals // Immutable protocol constant.
var gzipMagic = []byte{0x1f, 0x8b}

// String returns the short name of the encoding used in logs and CLI flags.
func (e ContentEncoding) String() string {
	switch e {
	case EncodingCompressedArchive:
		return "tar.gz"
	case EncodingRawArchive:
		return "tar"
	case EncodingStructuredPayload:
		return "json"
	default:
		return "unknown"
	}
}

// ParseEncoding converts a CLI-friendly name into a ContentEncoding.
func ParseEncoding(s string) (ContentEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tar.gz", "tgz", "gzip":
		return EncodingCompressedArchive, nil
	case "tar":
		return EncodingRawArchive, nil
	case "json":
		return EncodingStructuredPayload, nil
	default:
		return EncodingUnknown, fmt.Errorf("%q: %w", s, errUnknownEncoding)
	}
}

// DetectEncoding inspects the leading bytes of a payload.
// Only the gzip signature is recognized; everything else is left to the decoder.
func DetectEncoding(data []byte) ContentEncoding {
	if bytes.HasPrefix(data, gzipMagic) {
		return EncodingCompressedArchive
	}

	return EncodingUnknown
}
