package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Category is one of the two independent partitions of a bundle.
type Category string

const (
	// CategoryRules holds detection rule files.
	CategoryRules Category = "rules"
	// CategoryDecoders holds log decoder files.
	CategoryDecoders Category = "decoders"
)

// DefaultPattern selects the files eligible for deployment.
const DefaultPattern = "*.xml"

var (
	// ErrUnsafeName is returned for names that are not a plain filename.
	ErrUnsafeName = errors.New("unsafe file name")
	// ErrUnknownCategory is returned for categories other than rules and decoders.
	ErrUnknownCategory = errors.New("unknown category")
	// errInvalidPattern is returned for malformed eligibility patterns.
	errInvalidPattern = errors.New("invalid file pattern")
)

// Categories returns both categories in deployment order.
func Categories() []Category {
	return []Category{CategoryRules, CategoryDecoders}
}

// ParseCategory maps a top-level archive directory name to a category.
func ParseCategory(segment string) (Category, bool) {
	switch Category(segment) {
	case CategoryRules:
		return CategoryRules, true
	case CategoryDecoders:
		return CategoryDecoders, true
	default:
		return "", false
	}
}

// FileSet is the logical content of a bundle: named blobs per category.
type FileSet struct {
	// Rules maps a rule file name to its contents.
	Rules map[string][]byte
	// Decoders maps a decoder file name to its contents.
	Decoders map[string][]byte
}

// NewFileSet returns an empty FileSet ready for Add.
func NewFileSet() *FileSet {
	return &FileSet{
		Rules:    make(map[string][]byte),
		Decoders: make(map[string][]byte),
	}
}

// Add stores data under name in the given category, replacing an existing entry.
func (fs *FileSet) Add(category Category, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	switch category {
	case CategoryRules:
		if fs.Rules == nil {
			fs.Rules = make(map[string][]byte)
		}

		fs.Rules[name] = data
	case CategoryDecoders:
		if fs.Decoders == nil {
			fs.Decoders = make(map[string][]byte)
		}

		fs.Decoders[name] = data
	default:
		return fmt.Errorf("%q: %w", category, ErrUnknownCategory)
	}

	return nil
}

// Files returns the mapping of the given category. The map must not be modified.
func (fs *FileSet) Files(category Category) map[string][]byte {
	if fs == nil {
		return nil
	}

	switch category {
	case CategoryRules:
		return fs.Rules
	case CategoryDecoders:
		return fs.Decoders
	default:
		return nil
	}
}

// Len returns the number of entries in the given category.
func (fs *FileSet) Len(category Category) int {
	return len(fs.Files(category))
}

// Names returns the sorted entry names of the given category.
func (fs *FileSet) Names(category Category) []string {
	files := fs.Files(category)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// IsEmpty reports whether neither category has entries.
func (fs *FileSet) IsEmpty() bool {
	return fs.Len(CategoryRules) == 0 && fs.Len(CategoryDecoders) == 0
}

// ValidateName checks that name is a plain filename that cannot escape its directory.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%q: %w", name, ErrUnsafeName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%q contains a path separator: %w", name, ErrUnsafeName)
	case filepath.IsAbs(name), filepath.VolumeName(name) != "":
		return fmt.Errorf("%q is absolute: %w", name, ErrUnsafeName)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%q contains NUL: %w", name, ErrUnsafeName)
	}

	return nil
}

// ValidatePattern checks that pattern is a well-formed doublestar pattern.
func ValidatePattern(pattern string) error {
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%q: %w", pattern, errInvalidPattern)
	}

	return nil
}

// MatchName reports whether a file name is eligible under pattern.
// A malformed pattern matches nothing.
func MatchName(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)

	return err == nil && matched
}
