package decoder

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
)

const (
	// DefaultMaxEntrySize caps a single archive entry.
	DefaultMaxEntrySize int64 = 64 << 20

	scratchDirMode  os.FileMode = 0o750
	scratchFileMode os.FileMode = 0o640
)

// Result is a successfully decoded bundle.
type Result struct {
	// Files is the decoded content.
	Files *bundle.FileSet
	// Encoding is the format that matched.
	Encoding bundle.ContentEncoding
	// ScratchDir holds the extracted archive, empty for JSON payloads.
	ScratchDir string
}

// Decoder decodes bundles using a fixed scratch directory.
type Decoder struct {
	// scratchDir is recreated on every archive attempt.
	scratchDir string
	// maxEntrySize caps a single archive entry.
	maxEntrySize int64
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxEntrySize overrides the per-entry size limit.
func WithMaxEntrySize(limit int64) Option {
	return func(d *Decoder) {
		if limit > 0 {
			d.maxEntrySize = limit
		}
	}
}

// New returns a Decoder extracting archives into scratchDir.
func New(scratchDir string, opts ...Option) *Decoder {
	d := &Decoder{
		scratchDir:   filepath.Clean(scratchDir),
		maxEntrySize: DefaultMaxEntrySize,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// attempt is one format the decoder may try.
type attempt struct {
	encoding bundle.ContentEncoding
	decode   func(ctx context.Context, data []byte) (*bundle.FileSet, error)
}

// Decode parses data, trying formats in an order derived from hint.
// Either a complete FileSet or a *DecodeError is returned, never a partial set.
func (d *Decoder) Decode(ctx context.Context, data []byte, hint bundle.ContentEncoding) (*Result, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Attempts: []AttemptError{{Encoding: hint, Err: errEmptyPayload}}}
	}

	if hint == bundle.EncodingUnknown {
		hint = bundle.DetectEncoding(data)
	}

	decodeErr := new(DecodeError)

	for _, a := range d.attempts(hint) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := a.decode(ctx, data)
		if err != nil {
			logger.DebugKV(ctx, "Bundle format did not match", "encoding", a.encoding, "error", err)
			decodeErr.Attempts = append(decodeErr.Attempts, AttemptError{Encoding: a.encoding, Err: err})

			continue
		}

		result := &Result{
			Files:    files,
			Encoding: a.encoding,
		}

		if a.encoding != bundle.EncodingStructuredPayload {
			result.ScratchDir = d.scratchDir
		}

		return result, nil
	}

	return nil, decodeErr
}

// Cleanup removes the scratch directory.
func (d *Decoder) Cleanup() error {
	if d.scratchDir == "." || d.scratchDir == string(filepath.Separator) {
		return fmt.Errorf("%q: %w", d.scratchDir, errUnsafeScratch)
	}

	if err := os.RemoveAll(d.scratchDir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}

	return nil
}

// ScratchDir returns the extraction directory.
func (d *Decoder) ScratchDir() string {
	return d.scratchDir
}

// attempts orders the formats. The hint decides what is tried first.
func (d *Decoder) attempts(hint bundle.ContentEncoding) []attempt {
	var (
		compressed = attempt{bundle.EncodingCompressedArchive, d.decodeCompressed}
		structured = attempt{bundle.EncodingStructuredPayload, d.decodeStructured}
		raw        = attempt{bundle.EncodingRawArchive, d.decodeRaw}
	)

	switch hint {
	case bundle.EncodingCompressedArchive:
		return []attempt{compressed, structured, raw}
	case bundle.EncodingRawArchive:
		return []attempt{raw, structured}
	default:
		return []attempt{structured, raw}
	}
}

// decodeCompressed gunzips the payload and extracts the tar stream inside.
func (d *Decoder) decodeCompressed(ctx context.Context, data []byte) (*bundle.FileSet, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	return d.extract(ctx, reader)
}

// decodeRaw extracts an uncompressed tar stream.
func (d *Decoder) decodeRaw(ctx context.Context, data []byte) (*bundle.FileSet, error) {
	return d.extract(ctx, bytes.NewReader(data))
}

// structuredPayload is the JSON shape of a bundle.
type structuredPayload struct {
	Rules    map[string]string `json:"rules"`
	Decoders map[string]string `json:"decoders"`
}

// decodeStructured parses a JSON object mapping file names to contents.
func (d *Decoder) decodeStructured(ctx context.Context, data []byte) (*bundle.FileSet, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotJSONObject
	}

	var payload structuredPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	files := bundle.NewFileSet()

	for category, entries := range map[bundle.Category]map[string]string{
		bundle.CategoryRules:    payload.Rules,
		bundle.CategoryDecoders: payload.Decoders,
	} {
		for name, contents := range entries {
			if err := files.Add(category, name, []byte(contents)); err != nil {
				logger.WarnKV(ctx, "Skipping unsafe bundle entry", "category", category, "name", name, "error", err)
			}
		}
	}

	return files, nil
}

// extract unpacks every regular tar entry into a fresh scratch directory and
// partitions the direct children of rules/ and decoders/ into a FileSet.
func (d *Decoder) extract(ctx context.Context, r io.Reader) (*bundle.FileSet, error) {
	if err := d.resetScratch(); err != nil {
		return nil, err
	}

	files := bundle.NewFileSet()
	archive := tar.NewReader(r)

	for {
		header, err := archive.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		if err = ctx.Err(); err != nil {
			return nil, err
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		name, ok := cleanEntryName(header.Name)
		if !ok {
			logger.WarnKV(ctx, "Skipping unsafe archive entry", "name", header.Name)
			continue
		}

		contents, err := d.readEntry(archive, header)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		if err = d.writeScratch(name, contents); err != nil {
			return nil, err
		}

		category, base, ok := partition(name)
		if !ok {
			continue
		}

		if err = files.Add(category, base, contents); err != nil {
			logger.WarnKV(ctx, "Skipping unsafe archive entry", "name", header.Name, "error", err)
		}
	}

	return files, nil
}

// readEntry reads the current entry, enforcing the size limit.
func (d *Decoder) readEntry(r io.Reader, header *tar.Header) ([]byte, error) {
	if header.Size > d.maxEntrySize {
		return nil, errEntryTooLarge
	}

	contents, err := io.ReadAll(io.LimitReader(r, d.maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	if int64(len(contents)) > d.maxEntrySize {
		return nil, errEntryTooLarge
	}

	return contents, nil
}

// writeScratch stores an entry below the scratch directory.
func (d *Decoder) writeScratch(name string, contents []byte) error {
	target := filepath.Join(d.scratchDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, d.scratchDir+string(filepath.Separator)) {
		return fmt.Errorf("%s: %w", name, errScratchEscape)
	}

	if err := os.MkdirAll(filepath.Dir(target), scratchDirMode); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	if err := os.WriteFile(target, contents, scratchFileMode); err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}

	return nil
}

// resetScratch removes and recreates the scratch directory.
func (d *Decoder) resetScratch() error {
	if d.scratchDir == "." || d.scratchDir == string(filepath.Separator) {
		return fmt.Errorf("%q: %w", d.scratchDir, errUnsafeScratch)
	}

	if err := os.RemoveAll(d.scratchDir); err != nil {
		return fmt.Errorf("reset scratch directory: %w", err)
	}

	if err := os.MkdirAll(d.scratchDir, scratchDirMode); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	return nil
}

// cleanEntryName normalizes an archive path and rejects absolute or traversing ones.
func cleanEntryName(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", false
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", false
	}

	return cleaned, true
}

// partition maps "rules/x.xml" and "decoders/x.xml" to their category.
// Nested paths and other top-level directories are not part of the bundle.
func partition(name string) (bundle.Category, string, bool) {
	top, rest, found := strings.Cut(name, "/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", "", false
	}

	category, ok := bundle.ParseCategory(top)
	if !ok {
		return "", "", false
	}

	return category, rest, true
}
