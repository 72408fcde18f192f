package ioadapters

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Matcher resolves an input_filepattern glob to a deterministic, sorted
// list of shard paths. Grounded directly on stdlib path/filepath.Glob —
// original_source's filepattern.cc does nothing beyond glob expansion
// that the standard library doesn't already provide, and no pack example
// reaches for a third-party globbing library.
type Matcher struct{}

// Match returns the sorted list of files matching pattern.
func (Matcher) Match(pattern string) ([]string, error) {
	names, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "ioadapters: glob %q", pattern)
	}
	sort.Strings(names)
	return names, nil
}
