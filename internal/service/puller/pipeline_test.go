package puller

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/repository/snapshot"
	"github.com/oshokin/wazuh-puller/internal/service/decoder"
	"github.com/oshokin/wazuh-puller/internal/service/deployer"
	"github.com/oshokin/wazuh-puller/internal/service/distribution"
	"github.com/oshokin/wazuh-puller/internal/service/packager"
)

var errUnreachable = &distribution.TransportError{Op: "health", URL: "http://test/health", Err: errors.New("refused")}

// fakeRemote is an in-memory distribution endpoint.
type fakeRemote struct {
	healthErr   error
	catalogErr  error
	bundleErr   error
	data        []byte
	bundleCalls int
}

func (f *fakeRemote) Health(context.Context) (*distribution.HealthStatus, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}

	return &distribution.HealthStatus{Status: "healthy", Version: "test"}, nil
}

func (f *fakeRemote) Catalog(context.Context) (*distribution.Catalog, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}

	return &distribution.Catalog{Count: 2}, nil
}

func (f *fakeRemote) Bundle(context.Context) (*distribution.Bundle, error) {
	f.bundleCalls++

	if f.bundleErr != nil {
		return nil, f.bundleErr
	}

	return &distribution.Bundle{Data: f.data, Encoding: bundle.DetectEncoding(f.data)}, nil
}

// layout holds the directories of one test run.
type layout struct {
	rules, decoders, backups, scratch string
}

func newLayout(t *testing.T) layout {
	t.Helper()

	root := t.TempDir()

	return layout{
		rules:    filepath.Join(root, "rules"),
		decoders: filepath.Join(root, "decoders"),
		backups:  filepath.Join(root, "backups"),
		scratch:  filepath.Join(root, "scratch"),
	}
}

// encodeBundle builds a bundle with the provided files.
func encodeBundle(t *testing.T, encoding bundle.ContentEncoding, rules, decoders map[string]string) []byte {
	t.Helper()

	files := bundle.NewFileSet()

	for name, data := range rules {
		require.NoError(t, files.Add(bundle.CategoryRules, name, []byte(data)))
	}

	for name, data := range decoders {
		require.NoError(t, files.Add(bundle.CategoryDecoders, name, []byte(data)))
	}

	var buffer bytes.Buffer
	require.NoError(t, packager.Encode(files, encoding, &buffer))

	return buffer.Bytes()
}

// newTestPipeline wires real components around a fake remote.
func newTestPipeline(t *testing.T, l layout, remote Remote, opts ...snapshot.Option) *Pipeline {
	t.Helper()

	dep, err := deployer.New()
	require.NoError(t, err)

	p, err := NewPipeline(
		remote,
		decoder.New(l.scratch),
		snapshot.NewRepository(l.backups, opts...),
		dep,
		WithDirectories(l.rules, l.decoders),
	)
	require.NoError(t, err)

	return p
}

// TestPipeline_DeploysCompressedBundle covers a full run into empty live directories.
func TestPipeline_DeploysCompressedBundle(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	remote := &fakeRemote{data: encodeBundle(t, bundle.EncodingCompressedArchive,
		map[string]string{"rule1.xml": "<rule/>"},
		map[string]string{"decoder1.xml": "<decoder/>"})}

	result := newTestPipeline(t, l, remote).Run(context.Background(), false)

	require.NoError(t, result.Err)
	require.True(t, result.Success())
	require.Equal(t, StateDone, result.State)
	require.Equal(t, []State{
		StateInit, StateHealthChecked, StateListed, StateBackedUp, StateDownloaded,
		StateDecoded, StateDeployed, StatePruned, StateDone,
	}, result.Trace)
	require.Equal(t, 1, result.RulesWritten)
	require.Equal(t, 1, result.DecodersWritten)
	require.Equal(t, bundle.EncodingCompressedArchive, result.Encoding)
	require.Equal(t, 2, result.RemoteCount)
	require.NotEmpty(t, result.Backup)
	require.Equal(t, 1, result.BackupsKept)

	contents, err := os.ReadFile(filepath.Join(l.rules, "rule1.xml"))
	require.NoError(t, err)
	require.Equal(t, "<rule/>", string(contents))

	contents, err = os.ReadFile(filepath.Join(l.decoders, "decoder1.xml"))
	require.NoError(t, err)
	require.Equal(t, "<decoder/>", string(contents))

	_, err = os.Stat(l.scratch)
	require.True(t, os.IsNotExist(err), "scratch directory must be removed")
}

// TestPipeline_HealthFailure stops before any directory is touched.
func TestPipeline_HealthFailure(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	remote := &fakeRemote{healthErr: errUnreachable}

	result := newTestPipeline(t, l, remote).Run(context.Background(), false)

	require.False(t, result.Success())
	require.Equal(t, []State{StateInit, StateFailed}, result.Trace)
	require.ErrorIs(t, result.Err, distribution.ErrTransport)
	require.Zero(t, remote.bundleCalls)

	for _, dir := range []string{l.rules, l.decoders, l.backups, l.scratch} {
		_, err := os.Stat(dir)
		require.True(t, os.IsNotExist(err), dir)
	}
}

// TestPipeline_Simulation halts after the backup without downloading.
func TestPipeline_Simulation(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	require.NoError(t, os.MkdirAll(l.rules, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(l.rules, "live.xml"), []byte("live"), 0o640))

	remote := &fakeRemote{data: []byte("unused")}

	result := newTestPipeline(t, l, remote).Run(context.Background(), true)

	require.True(t, result.Success())
	require.True(t, result.Simulated)
	require.Equal(t, StateBackedUp, result.State)
	require.Equal(t, []State{StateInit, StateHealthChecked, StateListed, StateBackedUp}, result.Trace)
	require.Zero(t, remote.bundleCalls)
	require.False(t, result.BackupOutcome.IsSkipped())

	_, err := os.Stat(filepath.Join(result.Backup, "rules", "live.xml"))
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(l.rules, "live.xml"))
	require.NoError(t, err)
	require.Equal(t, "live", string(contents))
}

// TestPipeline_UndecodableBundle fails without changing the live directories.
func TestPipeline_UndecodableBundle(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	require.NoError(t, os.MkdirAll(l.rules, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(l.rules, "live.xml"), []byte("live"), 0o640))

	remote := &fakeRemote{data: []byte("this is neither an archive nor a json document")}

	result := newTestPipeline(t, l, remote).Run(context.Background(), false)

	require.False(t, result.Success())
	require.Equal(t, StateFailed, result.State)
	require.Equal(t, StateDownloaded, result.Trace[len(result.Trace)-2])
	require.ErrorIs(t, result.Err, decoder.ErrDecode)

	contents, err := os.ReadFile(filepath.Join(l.rules, "live.xml"))
	require.NoError(t, err)
	require.Equal(t, "live", string(contents))

	_, err = os.Stat(l.scratch)
	require.True(t, os.IsNotExist(err), "scratch directory must be removed")
}

// TestPipeline_BundleFailure is fatal after the backup.
func TestPipeline_BundleFailure(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	remote := &fakeRemote{bundleErr: &distribution.TransportError{Op: "bundle", StatusCode: 500, Err: errors.New("boom")}}

	result := newTestPipeline(t, l, remote).Run(context.Background(), false)

	require.False(t, result.Success())
	require.Equal(t, []State{StateInit, StateHealthChecked, StateListed, StateBackedUp, StateFailed}, result.Trace)
	require.ErrorIs(t, result.Err, distribution.ErrTransport)
}

// TestPipeline_RecoverableFailures continues past catalog and backup problems.
func TestPipeline_RecoverableFailures(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.backups), 0o750))
	require.NoError(t, os.WriteFile(l.backups, []byte("not a directory"), 0o640))

	remote := &fakeRemote{
		catalogErr: errors.New("catalog unavailable"),
		data: encodeBundle(t, bundle.EncodingStructuredPayload,
			map[string]string{"rule1.xml": "<rule/>", "ignored.txt": "x"}, nil),
	}

	result := newTestPipeline(t, l, remote).Run(context.Background(), false)

	require.True(t, result.Success(), result.Err)
	require.Equal(t, -1, result.RemoteCount)
	require.True(t, result.BackupOutcome.IsSkipped())
	require.Empty(t, result.Backup)
	require.True(t, result.PruneOutcome.IsSkipped())
	require.Equal(t, 1, result.RulesWritten)
	require.Zero(t, result.DecodersWritten)
	require.Equal(t, bundle.EncodingStructuredPayload, result.Encoding)

	_, err := os.Stat(filepath.Join(l.rules, "ignored.txt"))
	require.True(t, os.IsNotExist(err))
}

// TestPipeline_IdempotentWithRetention runs repeatedly against the same bundle.
func TestPipeline_IdempotentWithRetention(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	remote := &fakeRemote{data: encodeBundle(t, bundle.EncodingRawArchive,
		map[string]string{"a.xml": "a", "b.xml": "b"},
		map[string]string{"c.xml": "c"})}

	current := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		current = current.Add(time.Minute)
		return current
	}

	p := newTestPipeline(t, l, remote, snapshot.WithClock(clock))

	for range 7 {
		result := p.Run(context.Background(), false)
		require.True(t, result.Success(), result.Err)
		require.Equal(t, 2, result.RulesWritten)
		require.Equal(t, 1, result.DecodersWritten)
		require.LessOrEqual(t, result.BackupsKept, DefaultBackupKeep)
	}

	entries, err := os.ReadDir(l.rules)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	snapshots, err := snapshot.NewRepository(l.backups).List(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, DefaultBackupKeep)
}

// TestNewPipeline_RequiresComponents rejects missing components.
func TestNewPipeline_RequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(nil, nil, nil, nil)
	require.ErrorIs(t, err, errIncompletePipeline)
}

// TestState_String covers names and terminal states.
func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "HealthChecked", StateHealthChecked.String())
	require.Equal(t, "Unknown", State(42).String())
	require.True(t, StateDone.IsTerminal())
	require.True(t, StateFailed.IsTerminal())
	require.False(t, StateBackedUp.IsTerminal())
}
