package decoder

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
)

// tarEntry is a file to place into a test archive.
type tarEntry struct {
	name     string
	body     string
	typeflag byte
}

// buildTar writes entries into an uncompressed tar stream.
func buildTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := tar.NewWriter(&buf)

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}

		header := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
		}

		if typeflag != tar.TypeReg {
			header.Size = 0
		}

		if typeflag == tar.TypeSymlink {
			header.Linkname = "/etc/passwd"
		}

		require.NoError(t, w.WriteHeader(header))

		if typeflag == tar.TypeReg {
			_, err := w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

// compress gzips data.
func compress(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// newDecoder returns a Decoder with a private scratch directory.
func newDecoder(t *testing.T, opts ...Option) *Decoder {
	t.Helper()

	return New(filepath.Join(t.TempDir(), "extract"), opts...)
}

// TestDecode_CompressedArchive partitions entries by top-level directory.
func TestDecode_CompressedArchive(t *testing.T) {
	t.Parallel()

	data := compress(t, buildTar(t,
		tarEntry{name: "rules/rule1.xml", body: "<group/>"},
		tarEntry{name: "./decoders/decoder1.xml", body: "<decoder/>"},
		tarEntry{name: "lists/blocked", body: "x"},
		tarEntry{name: "rules/nested/deep.xml", body: "deep"},
		tarEntry{name: "rules/", typeflag: tar.TypeDir},
	))

	d := newDecoder(t)

	result, err := d.Decode(context.Background(), data, bundle.EncodingCompressedArchive)
	require.NoError(t, err)
	require.Equal(t, bundle.EncodingCompressedArchive, result.Encoding)
	require.Equal(t, d.ScratchDir(), result.ScratchDir)

	require.Equal(t, []string{"rule1.xml"}, result.Files.Names(bundle.CategoryRules))
	require.Equal(t, []string{"decoder1.xml"}, result.Files.Names(bundle.CategoryDecoders))
	require.Equal(t, []byte("<group/>"), result.Files.Rules["rule1.xml"])

	// Every safe entry is extracted into the scratch directory.
	extracted, err := os.ReadFile(filepath.Join(d.ScratchDir(), "lists", "blocked"))
	require.NoError(t, err)
	require.Equal(t, "x", string(extracted))

	require.NoError(t, d.Cleanup())

	_, err = os.Stat(d.ScratchDir())
	require.True(t, os.IsNotExist(err))
}

// TestDecode_StructuredPayload materializes the JSON mappings directly.
func TestDecode_StructuredPayload(t *testing.T) {
	t.Parallel()

	payload := []byte(` {"rules": {"r.xml": "<rule/>", "../x.xml": "evil"}, "decoders": {"d.xml": "<decoder/>"}}`)

	result, err := newDecoder(t).Decode(context.Background(), payload, bundle.EncodingUnknown)
	require.NoError(t, err)
	require.Equal(t, bundle.EncodingStructuredPayload, result.Encoding)
	require.Empty(t, result.ScratchDir)
	require.Equal(t, []string{"r.xml"}, result.Files.Names(bundle.CategoryRules))
	require.Equal(t, []byte("<decoder/>"), result.Files.Decoders["d.xml"])
}

// TestDecode_RawArchiveFallback falls back to a plain tar when JSON does not parse.
func TestDecode_RawArchiveFallback(t *testing.T) {
	t.Parallel()

	data := buildTar(t,
		tarEntry{name: "rules/a.xml", body: "a"},
		tarEntry{name: "decoders/b.xml", body: "b"},
	)

	result, err := newDecoder(t).Decode(context.Background(), data, bundle.EncodingUnknown)
	require.NoError(t, err)
	require.Equal(t, bundle.EncodingRawArchive, result.Encoding)
	require.Equal(t, 1, result.Files.Len(bundle.CategoryRules))
	require.Equal(t, 1, result.Files.Len(bundle.CategoryDecoders))
}

// TestDecode_EmptyBundle treats an archive without entries as an empty FileSet.
func TestDecode_EmptyBundle(t *testing.T) {
	t.Parallel()

	result, err := newDecoder(t).Decode(context.Background(), compress(t, buildTar(t)), bundle.EncodingCompressedArchive)
	require.NoError(t, err)
	require.True(t, result.Files.IsEmpty())

	result, err = newDecoder(t).Decode(context.Background(), []byte(`{}`), bundle.EncodingUnknown)
	require.NoError(t, err)
	require.True(t, result.Files.IsEmpty())
}

// TestDecode_SkipsUnsafeEntries never writes traversing, absolute or link entries.
func TestDecode_SkipsUnsafeEntries(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d := New(filepath.Join(root, "extract"))

	data := compress(t, buildTar(t,
		tarEntry{name: "../escape.xml", body: "x"},
		tarEntry{name: "rules/../../escape2.xml", body: "x"},
		tarEntry{name: "/abs/rules/abs.xml", body: "x"},
		tarEntry{name: "rules/link.xml", typeflag: tar.TypeSymlink},
		tarEntry{name: "rules/ok.xml", body: "ok"},
	))

	result, err := d.Decode(context.Background(), data, bundle.EncodingCompressedArchive)
	require.NoError(t, err)
	require.Equal(t, []string{"ok.xml"}, result.Files.Names(bundle.CategoryRules))

	for _, name := range []string{"escape.xml", "escape2.xml"} {
		_, err = os.Stat(filepath.Join(root, name))
		require.True(t, os.IsNotExist(err), name)
	}
}

// TestDecode_AllAttemptsFail returns a DecodeError listing every attempt.
func TestDecode_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	d := newDecoder(t)

	_, err := d.Decode(context.Background(), []byte("this is neither an archive nor json"), bundle.EncodingUnknown)
	require.ErrorIs(t, err, ErrDecode)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Len(t, decodeErr.Attempts, 2)
	require.Equal(t, bundle.EncodingStructuredPayload, decodeErr.Attempts[0].Encoding)
	require.Equal(t, bundle.EncodingRawArchive, decodeErr.Attempts[1].Encoding)
	require.ErrorIs(t, err, errNotJSONObject)

	// Corrupt gzip falls through to the other formats before failing.
	_, err = d.Decode(context.Background(), []byte{0x1f, 0x8b, 0x00, 0x01, 0x02}, bundle.EncodingCompressedArchive)
	require.ErrorAs(t, err, &decodeErr)
	require.Len(t, decodeErr.Attempts, 3)

	_, err = d.Decode(context.Background(), nil, bundle.EncodingUnknown)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, errEmptyPayload)

	// Malformed JSON object.
	_, err = d.Decode(context.Background(), []byte(`{"rules": {"a.xml": 1}}`), bundle.EncodingUnknown)
	require.ErrorIs(t, err, ErrDecode)
}

// TestDecode_EntryTooLarge rejects archives whose entries exceed the limit.
func TestDecode_EntryTooLarge(t *testing.T) {
	t.Parallel()

	data := buildTar(t, tarEntry{name: "rules/big.xml", body: "0123456789"})

	_, err := newDecoder(t, WithMaxEntrySize(4)).Decode(context.Background(), data, bundle.EncodingRawArchive)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, errEntryTooLarge)
}

// TestDecode_HintUnknownDetectsGzip re-detects the gzip signature when no hint is given.
func TestDecode_HintUnknownDetectsGzip(t *testing.T) {
	t.Parallel()

	data := compress(t, buildTar(t, tarEntry{name: "rules/a.xml", body: "a"}))

	result, err := newDecoder(t).Decode(context.Background(), data, bundle.EncodingUnknown)
	require.NoError(t, err)
	require.Equal(t, bundle.EncodingCompressedArchive, result.Encoding)
}

// TestDecode_RefusesUnsafeScratch never wipes the working directory.
func TestDecode_RefusesUnsafeScratch(t *testing.T) {
	t.Parallel()

	d := New("")

	_, err := d.Decode(context.Background(), buildTar(t), bundle.EncodingRawArchive)
	require.ErrorIs(t, err, errUnsafeScratch)
	require.ErrorIs(t, d.Cleanup(), errUnsafeScratch)
}

// TestCleanEntryName covers normalization and rejection of archive paths.
func TestCleanEntryName(t *testing.T) {
	t.Parallel()

	accepted := map[string]string{
		"rules/a.xml":      "rules/a.xml",
		"./rules/a.xml":    "rules/a.xml",
		"rules//a.xml":     "rules/a.xml",
		`decoders\b.xml`:   "decoders/b.xml",
		"rules/./a.xml":    "rules/a.xml",
		"top-level-file.x": "top-level-file.x",
	}
	for in, want := range accepted {
		got, ok := cleanEntryName(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}

	for _, in := range []string{"", ".", "./", "/etc/passwd", "../a", "rules/../../a", `..\a`} {
		_, ok := cleanEntryName(in)
		require.False(t, ok, in)
	}
}
