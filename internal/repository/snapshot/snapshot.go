package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
)

const (
	// NamePrefix starts the name of every snapshot directory.
	NamePrefix = "backup_"
	// ManifestFilename is written into every snapshot.
	ManifestFilename = "snapshot.yaml"

	// timestampLayout is sortable with second granularity.
	timestampLayout = "20060102_150405"
	// manifestVersion is the current manifest format.
	manifestVersion = 1
	// maxCollisionSuffix bounds the search for a free name within one second.
	maxCollisionSuffix = 1000

	dirMode  os.FileMode = 0o750
	fileMode os.FileMode = 0o640
)

var (
	// ErrNotFound is returned when no snapshot exists or a name is unknown.
	ErrNotFound = errors.New("snapshot not found")
	// errDigestMismatch is returned by Verify when a file changed after the snapshot.
	errDigestMismatch = errors.New("digest mismatch")
	// errNameExhausted is returned when every collision suffix is taken.
	errNameExhausted = errors.New("no free snapshot name")
	// errNotDirectory is returned when a live path exists but is not a directory.
	errNotDirectory = errors.New("not a directory")
)

// Manifest describes the contents of a snapshot.
type Manifest struct {
	// Version of the manifest format.
	Version int `yaml:"version"`
	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `yaml:"created_at"`
	// Sources maps each captured category to the live directory it was copied from.
	Sources map[bundle.Category]string `yaml:"sources,omitempty"`
	// Files lists every copied file.
	Files []FileEntry `yaml:"files"`
}

// FileEntry is one file captured in a snapshot.
type FileEntry struct {
	// Path is relative to the snapshot directory, slash separated.
	Path string `yaml:"path"`
	// Size in bytes.
	Size int64 `yaml:"size"`
	// BLAKE3 is the hex encoded 256-bit digest of the contents.
	BLAKE3 string `yaml:"blake3"`
}

// Snapshot is one backup directory.
type Snapshot struct {
	// Name is the directory name, e.g. backup_20250102_150405.
	Name string
	// Path is the absolute location of the directory.
	Path string
	// CreatedAt is decoded from the name.
	CreatedAt time.Time
	// sequence breaks ties between snapshots taken within the same second.
	sequence int
}

// Repository owns the backup root directory.
type Repository struct {
	// root holds the snapshot directories.
	root string
	// now returns the current time; replaced in tests.
	now func() time.Time
	// removeAll deletes a snapshot tree.
	removeAll func(path string) error
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock replaces the time source used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository creates a repository rooted at the provided path.
func NewRepository(root string, opts ...Option) *Repository {
	r := &Repository{
		root:      filepath.Clean(root),
		now:       time.Now,
		removeAll: os.RemoveAll,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Root returns the backup root directory.
func (r *Repository) Root() string {
	return r.root
}

// Snapshot copies both live directories into a new snapshot.
// A missing live directory is omitted. On any I/O failure the partial snapshot
// is removed and a Skipped outcome is returned instead of an error.
func (r *Repository) Snapshot(ctx context.Context, rulesDir, decodersDir string) (*Snapshot, bundle.Outcome) {
	createdAt := r.now().UTC().Truncate(time.Second)

	snap, err := r.create(createdAt)
	if err != nil {
		logger.WarnKV(ctx, "Backup creation failed", "error", err)
		return nil, bundle.Skipped(err.Error())
	}

	logger.InfoKV(ctx, "Creating backup", "path", snap.Path)

	manifest := &Manifest{
		Version:   manifestVersion,
		CreatedAt: createdAt,
		Sources:   make(map[bundle.Category]string, len(bundle.Categories())),
	}

	sources := map[bundle.Category]string{
		bundle.CategoryRules:    rulesDir,
		bundle.CategoryDecoders: decodersDir,
	}

	for _, category := range bundle.Categories() {
		if err = r.captureDirectory(ctx, sources[category], snap.Path, category, manifest); err != nil {
			break
		}
	}

	if err == nil {
		err = writeManifest(snap.Path, manifest)
	}

	if err != nil {
		logger.WarnKV(ctx, "Backup creation failed", "path", snap.Path, "error", err)

		if removeErr := os.RemoveAll(snap.Path); removeErr != nil {
			logger.WarnKV(ctx, "Unable to remove partial backup", "path", snap.Path, "error", removeErr)
		}

		return nil, bundle.Skipped(err.Error())
	}

	return snap, bundle.Succeeded()
}

// create reserves a fresh snapshot directory, suffixing the name on collision.
func (r *Repository) create(createdAt time.Time) (*Snapshot, error) {
	if err := os.MkdirAll(r.root, dirMode); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}

	base := NamePrefix + createdAt.Format(timestampLayout)

	for sequence := 0; sequence < maxCollisionSuffix; sequence++ {
		name := base
		if sequence > 0 {
			name = base + "_" + strconv.Itoa(sequence)
		}

		path := filepath.Join(r.root, name)

		err := os.Mkdir(path, dirMode)
		if err == nil {
			return &Snapshot{
				Name:      name,
				Path:      path,
				CreatedAt: createdAt,
				sequence:  sequence,
			}, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
	}

	return nil, fmt.Errorf("%s: %w", base, errNameExhausted)
}

// captureDirectory copies the tree at source into snapshotDir/category.
func (r *Repository) captureDirectory(
	ctx context.Context,
	source string,
	snapshotDir string,
	category bundle.Category,
	manifest *Manifest,
) error {
	info, err := os.Stat(source)
	if errors.Is(err, fs.ErrNotExist) {
		logger.InfoKV(ctx, "Live directory does not exist, omitting it from backup", "path", source)
		return nil
	}

	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", source, errNotDirectory)
	}

	// The walk does not follow a symlinked root, so resolve it first.
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", source, err)
	}

	// The backup root may sit inside a live directory; never copy it into itself.
	backupRoot, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.root, err)
	}

	target := filepath.Join(snapshotDir, string(category))

	err = filepath.WalkDir(resolved, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relative, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}

		destination := filepath.Join(target, relative)

		switch {
		case entry.IsDir() && path == backupRoot:
			logger.WarnKV(ctx, "Backup root is inside a live directory, skipping it", "path", path)
			return fs.SkipDir
		case entry.IsDir():
			return os.MkdirAll(destination, dirMode)
		case entry.Type().IsRegular():
			digest, size, err := copyFile(path, destination)
			if err != nil {
				return err
			}

			manifest.Files = append(manifest.Files, FileEntry{
				Path:   filepath.ToSlash(filepath.Join(string(category), relative)),
				Size:   size,
				BLAKE3: digest,
			})

			return nil
		default:
			logger.DebugKV(ctx, "Skipping non-regular file in backup", "path", path)
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", source, err)
	}

	manifest.Sources[category] = source

	return nil
}

// List returns all snapshots ordered from oldest to newest.
// Directories that do not follow the naming scheme are ignored.
func (r *Repository) List(_ context.Context) ([]*Snapshot, error) {
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	snapshots := make([]*Snapshot, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if snap, ok := parseName(entry.Name()); ok {
			snap.Path = filepath.Join(r.root, snap.Name)
			snapshots = append(snapshots, snap)
		}
	}

	sortSnapshots(snapshots)

	return snapshots, nil
}

// Latest returns the most recent snapshot.
func (r *Repository) Latest(ctx context.Context) (*Snapshot, error) {
	snapshots, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	if len(snapshots) == 0 {
		return nil, ErrNotFound
	}

	return snapshots[len(snapshots)-1], nil
}

// Find returns the snapshot with the given directory name.
func (r *Repository) Find(ctx context.Context, name string) (*Snapshot, error) {
	snapshots, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, snap := range snapshots {
		if snap.Name == name {
			return snap, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Manifest reads the manifest stored in a snapshot.
func (r *Repository) Manifest(snap *Snapshot) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Join(snap.Path, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err = yaml.Unmarshal(contents, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &manifest, nil
}

// Verify recomputes every digest listed in the manifest.
func (r *Repository) Verify(snap *Snapshot) error {
	manifest, err := r.Manifest(snap)
	if err != nil {
		return err
	}

	for _, file := range manifest.Files {
		digest, _, err := digestFile(filepath.Join(snap.Path, filepath.FromSlash(file.Path)))
		if err != nil {
			return fmt.Errorf("verify %s: %w", file.Path, err)
		}

		if digest != file.BLAKE3 {
			return fmt.Errorf("%s: %w", file.Path, errDigestMismatch)
		}
	}

	return nil
}

// Load reads the files of a snapshot back into a FileSet, suitable for
// redeploying it. Only direct children of each category directory are loaded.
func (r *Repository) Load(_ context.Context, snap *Snapshot) (*bundle.FileSet, error) {
	files := bundle.NewFileSet()

	for _, category := range bundle.Categories() {
		dir := filepath.Join(snap.Path, string(category))

		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() {
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

// writeManifest stores the manifest as the last step of a snapshot.
func writeManifest(snapshotDir string, manifest *Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Join(snapshotDir, ManifestFilename), data, fileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// copyFile copies a regular file and returns its BLAKE3 digest and size.
func copyFile(source, destination string) (string, int64, error) {
	in, err := os.Open(filepath.Clean(source))
	if err != nil {
		return "", 0, err
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return "", 0, err
	}

	if err = os.MkdirAll(filepath.Dir(destination), dirMode); err != nil {
		return "", 0, err
	}

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return "", 0, err
	}

	hasher := blake3.New()

	size, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		_ = out.Close()
		return "", 0, err
	}

	if err = out.Close(); err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// digestFile returns the BLAKE3 digest and size of a file.
func digestFile(path string) (string, int64, error) {
	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", 0, err
	}

	defer func() {
		_ = in.Close()
	}()

	hasher := blake3.New()

	size, err := io.Copy(hasher, in)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// parseName decodes backup_<timestamp>[_<n>] directory names.
func parseName(name string) (*Snapshot, bool) {
	rest, ok := strings.CutPrefix(name, NamePrefix)
	if !ok || len(rest) < len(timestampLayout) {
		return nil, false
	}

	createdAt, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
	if err != nil {
		return nil, false
	}

	sequence := 0

	if suffix := rest[len(timestampLayout):]; suffix != "" {
		digits, found := strings.CutPrefix(suffix, "_")
		if !found {
			return nil, false
		}

		sequence, err = strconv.Atoi(digits)
		if err != nil || sequence < 1 {
			return nil, false
		}
	}

	return &Snapshot{
		Name:      name,
		CreatedAt: createdAt,
		sequence:  sequence,
	}, true
}
