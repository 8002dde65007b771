package deployer

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is applied to every deployed file.
	DefaultFileMode os.FileMode = 0o640
	// DefaultDirMode is applied to live directories created by the deployer.
	DefaultDirMode os.FileMode = 0o755

	// checksumFunction verifies every file before it replaces the target.
	checksumFunction = crypto.SHA512
)

var (
	// errFileSetRequired is returned when Deploy is called without a FileSet.
	errFileSetRequired = errors.New("file set must be provided")
	// errHashUnavailable is returned when the checksum function is not linked in.
	errHashUnavailable = errors.New("hash function unavailable")
)

// Report describes what a deployment changed.
type Report struct {
	// Rules is the number of rule files written.
	Rules int
	// Decoders is the number of decoder files written.
	Decoders int
	// Removed is the number of previously deployed files deleted.
	Removed int
	// Skipped lists categories left untouched because the FileSet had no eligible entries.
	Skipped []bundle.Category
	// Errors joins every per-file failure. It never changes the deployment outcome.
	Errors error
}

// Written returns the number of files written for a category.
func (r *Report) Written(category bundle.Category) int {
	switch category {
	case bundle.CategoryRules:
		return r.Rules
	case bundle.CategoryDecoders:
		return r.Decoders
	default:
		return 0
	}
}

// Deployer writes FileSets into live directories.
type Deployer struct {
	// pattern selects the files owned by the deployer, both for deletion and writing.
	pattern string
	// fileMode is applied to written files.
	fileMode os.FileMode
	// dirMode is applied to created live directories.
	dirMode os.FileMode
	// apply moves verified contents over a target.
	apply func(update io.Reader, opts goupdate.Options) error
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithPattern replaces the eligibility pattern. Empty values are ignored.
func WithPattern(pattern string) Option {
	return func(d *Deployer) {
		if pattern != "" {
			d.pattern = pattern
		}
	}
}

// WithFileMode replaces the mode of written files.
func WithFileMode(mode os.FileMode) Option {
	return func(d *Deployer) {
		if mode != 0 {
			d.fileMode = mode
		}
	}
}

// New creates a deployer, validating the eligibility pattern.
func New(opts ...Option) (*Deployer, error) {
	d := &Deployer{
		pattern:  bundle.DefaultPattern,
		fileMode: DefaultFileMode,
		dirMode:  DefaultDirMode,
		apply:    goupdate.Apply,
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := bundle.ValidatePattern(d.pattern); err != nil {
		return nil, err
	}

	return d, nil
}

// Pattern returns the eligibility pattern.
func (d *Deployer) Pattern() string {
	return d.pattern
}

// Deploy replaces each category of the live directories with the eligible entries of files.
// A category without eligible entries is skipped and its directory is not touched.
// Per-file failures are logged and joined into Report.Errors; the returned error is
// reserved for invalid input.
func (d *Deployer) Deploy(ctx context.Context, files *bundle.FileSet, rulesDir, decodersDir string) (*Report, error) {
	if files == nil {
		return nil, errFileSetRequired
	}

	if !checksumFunction.Available() {
		return nil, errHashUnavailable
	}

	report := &Report{}
	targets := map[bundle.Category]string{
		bundle.CategoryRules:    rulesDir,
		bundle.CategoryDecoders: decodersDir,
	}

	var errs []error

	for _, category := range bundle.Categories() {
		entries := d.eligible(files, category)
		if len(entries) == 0 {
			logger.InfoKV(ctx, "No eligible files in bundle, leaving live directory untouched",
				"category", category, "path", targets[category])

			report.Skipped = append(report.Skipped, category)

			continue
		}

		written, removed, err := d.deployCategory(ctx, targets[category], files.Files(category), entries)
		report.Removed += removed

		switch category {
		case bundle.CategoryRules:
			report.Rules = written
		case bundle.CategoryDecoders:
			report.Decoders = written
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("deploy %s: %w", category, err))
		}

		logger.InfoKV(ctx, "Deployed files", "category", category,
			"path", targets[category], "written", written, "removed", removed)
	}

	report.Errors = errors.Join(errs...)

	return report, nil
}

// eligible returns the sorted names of a category that match the pattern.
func (d *Deployer) eligible(files *bundle.FileSet, category bundle.Category) []string {
	names := files.Names(category)
	result := make([]string, 0, len(names))

	for _, name := range names {
		if bundle.MatchName(d.pattern, name) {
			result = append(result, name)
		}
	}

	return result
}

// deployCategory deletes the eligible files in dir and writes the provided entries.
func (d *Deployer) deployCategory(
	ctx context.Context,
	dir string,
	contents map[string][]byte,
	names []string,
) (int, int, error) {
	if err := os.MkdirAll(dir, d.dirMode); err != nil {
		return 0, 0, fmt.Errorf("create %s: %w", dir, err)
	}

	removed, err := d.removeEligible(ctx, dir)

	errs := make([]error, 0, 1)
	if err != nil {
		errs = append(errs, err)
	}

	written := 0

	for _, name := range names {
		if err = ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err = d.writeFile(filepath.Join(dir, name), contents[name]); err != nil {
			logger.WarnKV(ctx, "Unable to write file", "path", filepath.Join(dir, name), "error", err)
			errs = append(errs, fmt.Errorf("write %s: %w", name, err))

			continue
		}

		written++
	}

	return written, removed, errors.Join(errs...)
}

// removeEligible deletes every regular file in dir that matches the pattern.
func (d *Deployer) removeEligible(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	var (
		removed int
		errs    []error
	)

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !bundle.MatchName(d.pattern, entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to remove file", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", entry.Name(), err))

			continue
		}

		removed++
	}

	return removed, errors.Join(errs...)
}

// writeFile replaces path with data through go-update, which writes a sibling file,
// verifies its checksum and renames it over the target.
// A placeholder created here is removed again when the write fails.
func (d *Deployer) writeFile(path string, data []byte) error {
	// go-update moves the old target aside first, so it has to exist.
	var created bool

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		placeholder, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, d.fileMode)
		if err != nil {
			return err
		}

		created = true

		if err = placeholder.Close(); err != nil {
			return errors.Join(err, os.Remove(path))
		}
	}

	hasher := checksumFunction.New()
	_, _ = hasher.Write(data)

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: d.fileMode,
		Checksum:   hasher.Sum(nil),
		Hash:       checksumFunction,
	}

	err := d.apply(bytes.NewReader(data), options)
	if err != nil && created {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			return errors.Join(err, fmt.Errorf("remove placeholder: %w", removeErr))
		}
	}

	return err
}
