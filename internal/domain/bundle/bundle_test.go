package bundle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectEncoding verifies that only the gzip signature is classified.
func TestDetectEncoding(t *testing.T) {
	t.Parallel()

	require.Equal(t, EncodingCompressedArchive, DetectEncoding([]byte{0x1f, 0x8b, 0x08}))
	require.Equal(t, EncodingUnknown, DetectEncoding([]byte(`{"rules":{}}`)))
	require.Equal(t, EncodingUnknown, DetectEncoding([]byte{0x1f}))
	require.Equal(t, EncodingUnknown, DetectEncoding(nil))
}

// TestParseEncoding checks CLI names and the error for unknown ones.
func TestParseEncoding(t *testing.T) {
	t.Parallel()

	cases := map[string]ContentEncoding{
		"tar.gz": EncodingCompressedArchive,
		"TGZ":    EncodingCompressedArchive,
		"tar":    EncodingRawArchive,
		" json ": EncodingStructuredPayload,
	}
	for s, want := range cases {
		got, err := ParseEncoding(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.NotEqual(t, "unknown", got.String())
	}

	_, err := ParseEncoding("zip")
	require.ErrorIs(t, err, errUnknownEncoding)
}

// TestValidateName rejects traversal, separators and absolute paths.
func TestValidateName(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateName("local_rules.xml"))
	require.NoError(t, ValidateName(".hidden.xml"))

	for _, name := range []string{"", ".", "..", "../x.xml", "a/b.xml", `a\b.xml`, "/etc/passwd", "x\x00.xml"} {
		require.ErrorIs(t, ValidateName(name), ErrUnsafeName, name)
	}
}

// TestFileSet_AddAndNames covers Add, Len, Names and IsEmpty.
func TestFileSet_AddAndNames(t *testing.T) {
	t.Parallel()

	fs := NewFileSet()
	require.True(t, fs.IsEmpty())

	require.NoError(t, fs.Add(CategoryRules, "b.xml", []byte("b")))
	require.NoError(t, fs.Add(CategoryRules, "a.xml", []byte("a")))
	require.NoError(t, fs.Add(CategoryRules, "a.xml", []byte("a2")))
	require.NoError(t, fs.Add(CategoryDecoders, "d.xml", []byte("d")))

	require.ErrorIs(t, fs.Add(CategoryRules, "../evil.xml", nil), ErrUnsafeName)
	require.ErrorIs(t, fs.Add(Category("lists"), "x.xml", nil), ErrUnknownCategory)

	require.False(t, fs.IsEmpty())
	require.Equal(t, 2, fs.Len(CategoryRules))
	require.Equal(t, 1, fs.Len(CategoryDecoders))
	require.Equal(t, []string{"a.xml", "b.xml"}, fs.Names(CategoryRules))
	require.Equal(t, []byte("a2"), fs.Rules["a.xml"])

	// Zero value is usable.
	var zero FileSet
	require.NoError(t, zero.Add(CategoryDecoders, "z.xml", []byte("z")))
	require.Equal(t, 1, zero.Len(CategoryDecoders))
}

// TestParseCategory maps directory names to categories.
func TestParseCategory(t *testing.T) {
	t.Parallel()

	c, ok := ParseCategory("rules")
	require.True(t, ok)
	require.Equal(t, CategoryRules, c)

	c, ok = ParseCategory("decoders")
	require.True(t, ok)
	require.Equal(t, CategoryDecoders, c)

	_, ok = ParseCategory("lists")
	require.False(t, ok)
	require.Equal(t, []Category{CategoryRules, CategoryDecoders}, Categories())
}

// TestMatchName checks the default eligibility pattern.
func TestMatchName(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidatePattern(DefaultPattern))
	require.Error(t, ValidatePattern(""))
	require.Error(t, ValidatePattern("[a-"))

	require.True(t, MatchName(DefaultPattern, "0010-rules_config.xml"))
	require.False(t, MatchName(DefaultPattern, "README.md"))
	require.False(t, MatchName(DefaultPattern, "rules.xml.bak"))
	require.False(t, MatchName("[a-", "a.xml"))
}

// TestOutcome verifies the Skipped and Succeeded distinction.
func TestOutcome(t *testing.T) {
	t.Parallel()

	require.False(t, Succeeded().IsSkipped())
	require.Equal(t, "succeeded", Succeeded().String())

	o := Skipped("disk full")
	require.True(t, o.IsSkipped())
	require.Equal(t, "disk full", o.Reason)
	require.Equal(t, "skipped: disk full", o.String())
}
