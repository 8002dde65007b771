package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
)

// steppingClock returns a clock advancing by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	current := start.Add(-step)

	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

// liveDirs creates populated rules and decoders directories.
func liveDirs(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	rules := filepath.Join(root, "rules")
	decoders := filepath.Join(root, "decoders")

	require.NoError(t, os.MkdirAll(filepath.Join(rules, "nested"), 0o750))
	require.NoError(t, os.MkdirAll(decoders, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(rules, "local_rules.xml"), []byte("<group/>"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(rules, "nested", "extra.txt"), []byte("extra"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(decoders, "local_decoder.xml"), []byte("<decoder/>"), 0o640))

	return rules, decoders
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestSnapshot_CopiesTrees checks both halves, the manifest and Verify.
func TestSnapshot_CopiesTrees(t *testing.T) {
	t.Parallel()

	rules, decoders := liveDirs(t)
	repo := NewRepository(filepath.Join(t.TempDir(), "backups"), WithClock(steppingClock(start, time.Second)))

	snap, outcome := repo.Snapshot(context.Background(), rules, decoders)
	require.False(t, outcome.IsSkipped(), outcome.Reason)
	require.Equal(t, "backup_20260301_120000", snap.Name)

	contents, err := os.ReadFile(filepath.Join(snap.Path, "rules", "nested", "extra.txt"))
	require.NoError(t, err)
	require.Equal(t, "extra", string(contents))

	contents, err = os.ReadFile(filepath.Join(snap.Path, "decoders", "local_decoder.xml"))
	require.NoError(t, err)
	require.Equal(t, "<decoder/>", string(contents))

	manifest, err := repo.Manifest(snap)
	require.NoError(t, err)
	require.Equal(t, start, manifest.CreatedAt.UTC())
	require.Len(t, manifest.Files, 3)
	require.Equal(t, rules, manifest.Sources[bundle.CategoryRules])
	require.NoError(t, repo.Verify(snap))

	// Tampering is detected.
	require.NoError(t, os.WriteFile(filepath.Join(snap.Path, "rules", "local_rules.xml"), []byte("changed"), 0o640))
	require.ErrorIs(t, repo.Verify(snap), errDigestMismatch)
}

// TestSnapshot_MissingLiveDirectory omits the missing half without failing.
func TestSnapshot_MissingLiveDirectory(t *testing.T) {
	t.Parallel()

	rules, _ := liveDirs(t)
	repo := NewRepository(t.TempDir())

	snap, outcome := repo.Snapshot(context.Background(), rules, filepath.Join(t.TempDir(), "absent"))
	require.False(t, outcome.IsSkipped())

	_, err := os.Stat(filepath.Join(snap.Path, "decoders"))
	require.True(t, os.IsNotExist(err))

	manifest, err := repo.Manifest(snap)
	require.NoError(t, err)
	require.NotContains(t, manifest.Sources, bundle.CategoryDecoders)
}

// TestSnapshot_FailureIsSkipped returns a Skipped outcome and leaves no partial snapshot.
func TestSnapshot_FailureIsSkipped(t *testing.T) {
	t.Parallel()

	rules, _ := liveDirs(t)

	notADir := filepath.Join(t.TempDir(), "decoders")
	require.NoError(t, os.WriteFile(notADir, []byte("file"), 0o640))

	root := t.TempDir()
	repo := NewRepository(root)

	snap, outcome := repo.Snapshot(context.Background(), rules, notADir)
	require.Nil(t, snap)
	require.True(t, outcome.IsSkipped())
	require.Contains(t, outcome.Reason, "not a directory")

	snapshots, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, snapshots)

	// An unusable backup root is also a skipped backup.
	blocked := filepath.Join(t.TempDir(), "root-is-a-file")
	require.NoError(t, os.WriteFile(blocked, nil, 0o640))

	snap, outcome = NewRepository(blocked).Snapshot(context.Background(), rules, notADir)
	require.Nil(t, snap)
	require.True(t, outcome.IsSkipped())
}

// TestSnapshot_NameCollision suffixes names taken within the same second.
func TestSnapshot_NameCollision(t *testing.T) {
	t.Parallel()

	rules, decoders := liveDirs(t)
	repo := NewRepository(t.TempDir(), WithClock(func() time.Time { return start }))

	names := make([]string, 0, 3)

	for range 3 {
		snap, outcome := repo.Snapshot(context.Background(), rules, decoders)
		require.False(t, outcome.IsSkipped())

		names = append(names, snap.Name)
	}

	require.Equal(t, []string{
		"backup_20260301_120000",
		"backup_20260301_120000_1",
		"backup_20260301_120000_2",
	}, names)

	latest, err := repo.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "backup_20260301_120000_2", latest.Name)
}

// TestPrune_KeepsMostRecent checks retention after more than keep runs.
func TestPrune_KeepsMostRecent(t *testing.T) {
	t.Parallel()

	rules, decoders := liveDirs(t)
	repo := NewRepository(t.TempDir(), WithClock(steppingClock(start, time.Minute)))

	var created []string

	for range 8 {
		snap, outcome := repo.Snapshot(context.Background(), rules, decoders)
		require.False(t, outcome.IsSkipped())

		created = append(created, snap.Name)

		repo.Prune(context.Background(), 5)
	}

	snapshots, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 5)

	names := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		names = append(names, snap.Name)
	}

	require.Equal(t, created[3:], names)
}

// TestPrune_Report lists removed snapshots and ignores foreign directories.
func TestPrune_Report(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{
		"backup_20260101_000000",
		"backup_20260101_000000_10",
		"backup_20260101_000000_2",
		"backup_20260102_000000",
		"backup_garbage",
		"unrelated",
	} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o750))
	}

	repo := NewRepository(root)

	report := repo.Prune(context.Background(), 2)
	require.False(t, report.Outcome.IsSkipped())
	require.Equal(t, 2, report.Kept)
	require.Equal(t, []string{"backup_20260101_000000", "backup_20260101_000000_2"}, report.Removed)

	for _, name := range []string{"backup_garbage", "unrelated", "backup_20260101_000000_10", "backup_20260102_000000"} {
		_, err := os.Stat(filepath.Join(root, name))
		require.NoError(t, err, name)
	}

	// Nothing to do.
	report = repo.Prune(context.Background(), 5)
	require.Empty(t, report.Removed)
	require.Equal(t, 2, report.Kept)

	// Missing root is an empty list, not an error.
	report = NewRepository(filepath.Join(root, "absent")).Prune(context.Background(), 5)
	require.False(t, report.Outcome.IsSkipped())
}

// TestPrune_RemovalFailureIsSkipped keeps going past a snapshot that cannot be removed.
func TestPrune_RemovalFailureIsSkipped(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{
		"backup_20260101_000000",
		"backup_20260102_000000",
		"backup_20260103_000000",
		"backup_20260104_000000",
	} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o750))
	}

	errBusy := errors.New("device or resource busy")
	stuck := filepath.Join(root, "backup_20260102_000000")

	repo := NewRepository(root)
	repo.removeAll = func(path string) error {
		if path == stuck {
			return errBusy
		}

		return os.RemoveAll(path)
	}

	report := repo.Prune(context.Background(), 1)
	require.True(t, report.Outcome.IsSkipped())
	require.Equal(t, []string{"backup_20260101_000000", "backup_20260103_000000"}, report.Removed)
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed["backup_20260102_000000"], errBusy)
	require.Equal(t, 2, report.Kept)

	snapshots, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
}

// TestSnapshot_BackupRootInsideLiveDirectory does not copy the backups into themselves.
func TestSnapshot_BackupRootInsideLiveDirectory(t *testing.T) {
	t.Parallel()

	rules, decoders := liveDirs(t)
	repo := NewRepository(filepath.Join(rules, "backups"), WithClock(steppingClock(start, time.Second)))

	first, outcome := repo.Snapshot(context.Background(), rules, decoders)
	require.False(t, outcome.IsSkipped(), outcome.Reason)

	second, outcome := repo.Snapshot(context.Background(), rules, decoders)
	require.False(t, outcome.IsSkipped(), outcome.Reason)

	for _, snap := range []*Snapshot{first, second} {
		_, err := os.Stat(filepath.Join(snap.Path, "rules", "backups"))
		require.True(t, os.IsNotExist(err), snap.Name)

		manifest, err := repo.Manifest(snap)
		require.NoError(t, err)
		require.Len(t, manifest.Files, 3)
		require.NoError(t, repo.Verify(snap))
	}
}

// TestLoad_ReadsCategoryFiles turns a snapshot back into a FileSet.
func TestLoad_ReadsCategoryFiles(t *testing.T) {
	t.Parallel()

	rules, decoders := liveDirs(t)
	repo := NewRepository(t.TempDir())

	snap, outcome := repo.Snapshot(context.Background(), rules, decoders)
	require.False(t, outcome.IsSkipped())

	files, err := repo.Load(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, []string{"local_rules.xml"}, files.Names(bundle.CategoryRules))
	require.Equal(t, []byte("<decoder/>"), files.Decoders["local_decoder.xml"])

	found, err := repo.Find(context.Background(), snap.Name)
	require.NoError(t, err)
	require.Equal(t, snap.Path, found.Path)

	_, err = repo.Find(context.Background(), "backup_19990101_000000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewRepository(t.TempDir()).Latest(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

// TestParseName covers valid and invalid snapshot names.
func TestParseName(t *testing.T) {
	t.Parallel()

	snap, ok := parseName("backup_20260301_120000_3")
	require.True(t, ok)
	require.Equal(t, 3, snap.sequence)
	require.Equal(t, start, snap.CreatedAt)

	for _, name := range []string{"backup_", "backup_2026", "backup_20260301_120000x", "backup_20260301_120000_0", "snap_20260301_120000"} {
		_, ok = parseName(name)
		require.False(t, ok, name)
	}
}
