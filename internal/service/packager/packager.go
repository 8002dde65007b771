package packager

import (
	"archive/tar"
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/version"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// StdoutOutput writes the bundle to standard output.
	StdoutOutput = "-"
	// DescriptionSuffix is appended to the output path for the description file.
	DescriptionSuffix = ".yaml"

	// DefaultFileMode is used for the bundle and its description.
	DefaultFileMode os.FileMode = 0o644

	// checksumFunction is used for the description checksums.
	checksumFunction = crypto.SHA512

	// entryMode is recorded in tar headers.
	entryMode = 0o640
	// dirEntryMode is recorded for category directory headers.
	dirEntryMode = 0o755
)

var (
	errOutputRequired    = errors.New("output must be provided")
	errUnsupportedFormat = errors.New("unsupported bundle encoding")
	errNothingToPack     = errors.New("no eligible files found")
	errHashUnavailable   = errors.New("hash function unavailable")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// RulesPath is the directory holding rule files.
	RulesPath string
	// DecodersPath is the directory holding decoder files.
	DecodersPath string
	// Pattern selects eligible files; defaults to bundle.DefaultPattern.
	Pattern string
	// Encoding of the produced bundle; defaults to CompressedArchive.
	Encoding bundle.ContentEncoding
	// Output is the bundle path, or StdoutOutput.
	Output string
	// AllowEmpty permits a bundle without any files.
	AllowEmpty bool
	// Stdout receives the bundle when Output is StdoutOutput; defaults to os.Stdout.
	Stdout io.Writer
}

// Description documents a produced bundle.
type Description struct {
	// VersionNumber is the build of the packager that produced the bundle.
	VersionNumber string `yaml:"version"`
	// CreatedAt is when the bundle was produced.
	CreatedAt time.Time `yaml:"created_at"`
	// Encoding is the bundle format.
	Encoding string `yaml:"encoding"`
	// Files maps category/name to base64-encoded SHA-512 checksums.
	Files map[string]string `yaml:"files"`
}

// Run collects the files and writes the bundle, plus a description when writing to a file.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "packager")

	if opts.Output == "" {
		return errOutputRequired
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = bundle.DefaultPattern
	}

	encoding := opts.Encoding
	if encoding == bundle.EncodingUnknown {
		encoding = bundle.EncodingCompressedArchive
	}

	files, err := Collect(ctx, opts.RulesPath, opts.DecodersPath, pattern)
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}

	if files.IsEmpty() && !opts.AllowEmpty {
		return errNothingToPack
	}

	if opts.Output == StdoutOutput {
		stdout := opts.Stdout
		if stdout == nil {
			stdout = os.Stdout
		}

		return Encode(files, encoding, stdout)
	}

	if err = writeBundle(files, encoding, opts.Output); err != nil {
		return err
	}

	desc, err := Describe(files, encoding)
	if err != nil {
		return err
	}

	descriptionPath := opts.Output + DescriptionSuffix
	if err = saveDescription(descriptionPath, desc); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Bundle written",
		"path", opts.Output,
		"encoding", encoding,
		"rules", files.Len(bundle.CategoryRules),
		"decoders", files.Len(bundle.CategoryDecoders),
		"description", descriptionPath)

	return nil
}

// Collect reads the eligible direct children of both directories.
// A missing directory contributes no files.
func Collect(ctx context.Context, rulesDir, decodersDir, pattern string) (*bundle.FileSet, error) {
	if err := bundle.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	files := bundle.NewFileSet()
	sources := map[bundle.Category]string{
		bundle.CategoryRules:    rulesDir,
		bundle.CategoryDecoders: decodersDir,
	}

	for _, category := range bundle.Categories() {
		dir := sources[category]
		if dir == "" {
			continue
		}

		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			logger.WarnKV(ctx, "Directory does not exist, nothing collected", "category", category, "path", dir)
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || !bundle.MatchName(pattern, entry.Name()) {
				continue
			}

			contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
			}

			if err = files.Add(category, entry.Name(), contents); err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

// Encode writes files to w in the requested encoding.
func Encode(files *bundle.FileSet, encoding bundle.ContentEncoding, w io.Writer) error {
	switch encoding {
	case bundle.EncodingCompressedArchive:
		gz := gzip.NewWriter(w)
		if err := writeTar(files, gz); err != nil {
			_ = gz.Close()
			return err
		}

		return gz.Close()
	case bundle.EncodingRawArchive:
		return writeTar(files, w)
	case bundle.EncodingStructuredPayload:
		return writeJSON(files, w)
	default:
		return fmt.Errorf("%s: %w", encoding, errUnsupportedFormat)
	}
}

// Describe computes the description of a bundle.
func Describe(files *bundle.FileSet, encoding bundle.ContentEncoding) (*Description, error) {
	if !checksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	desc := &Description{
		VersionNumber: version.Short(),
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Encoding:      encoding.String(),
		Files:         make(map[string]string, files.Len(bundle.CategoryRules)+files.Len(bundle.CategoryDecoders)),
	}

	for _, category := range bundle.Categories() {
		for name, data := range files.Files(category) {
			hasher := checksumFunction.New()
			_, _ = hasher.Write(data)

			desc.Files[path.Join(string(category), name)] = base64.StdEncoding.EncodeToString(hasher.Sum(nil))
		}
	}

	return desc, nil
}

// Summary renders the description as human-readable text.
func (d *Description) Summary() string {
	names := make([]string, 0, len(d.Files))
	for name := range d.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	var builder strings.Builder

	builder.WriteString("Bundle ")
	builder.WriteString(d.Encoding)
	builder.WriteString(" built by version ")
	builder.WriteString(d.VersionNumber)
	builder.WriteString(" contains:")

	for _, name := range names {
		builder.WriteString("\n")
		builder.WriteString(name)
		builder.WriteString(" ")
		builder.WriteString(d.Files[name])
	}

	return builder.String()
}

// writeTar stores each category as a directory with its files as direct children.
func writeTar(files *bundle.FileSet, w io.Writer) error {
	tw := tar.NewWriter(w)
	modTime := time.Now().UTC().Truncate(time.Second)

	for _, category := range bundle.Categories() {
		names := files.Names(category)
		if len(names) == 0 {
			continue
		}

		header := &tar.Header{
			Typeflag: tar.TypeDir,
			Name:     string(category) + "/",
			Mode:     dirEntryMode,
			ModTime:  modTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}

		contents := files.Files(category)

		for _, name := range names {
			data := contents[name]

			header = &tar.Header{
				Typeflag: tar.TypeReg,
				Name:     path.Join(string(category), name),
				Mode:     entryMode,
				Size:     int64(len(data)),
				ModTime:  modTime,
			}
			if err := tw.WriteHeader(header); err != nil {
				return fmt.Errorf("write tar header: %w", err)
			}

			if _, err := tw.Write(data); err != nil {
				return fmt.Errorf("write tar entry %s: %w", header.Name, err)
			}
		}
	}

	return tw.Close()
}

// writeJSON stores the files as {"rules": {...}, "decoders": {...}}.
func writeJSON(files *bundle.FileSet, w io.Writer) error {
	payload := struct {
		Rules    map[string]string `json:"rules"`
		Decoders map[string]string `json:"decoders"`
	}{
		Rules:    toStrings(files.Files(bundle.CategoryRules)),
		Decoders: toStrings(files.Files(bundle.CategoryDecoders)),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

// toStrings converts file contents to strings for the json encoding.
func toStrings(files map[string][]byte) map[string]string {
	result := make(map[string]string, len(files))
	for name, data := range files {
		result[name] = string(data)
	}

	return result
}

// writeBundle writes the encoded bundle to path, removing it when encoding fails.
func writeBundle(files *bundle.FileSet, encoding bundle.ContentEncoding, output string) error {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(filepath.Clean(output), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}

	err = Encode(files, encoding, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("write bundle: %w", err)
	}

	return nil
}

// saveDescription writes the description YAML.
func saveDescription(path string, desc *Description) error {
	contents, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}

	return os.WriteFile(path, contents, DefaultFileMode)
}
