package bakonf

import (
	"fmt"
	"regexp"
)

// storeSideSuffixes are the files SQLite and the run lock keep next to a store.
var storeSideSuffixes = []string{"", "-journal", "-wal", "-shm", ".lock"}

// ExcludeMatcher tests absolute paths against a list of exclusion patterns.
// Each pattern must match at the beginning of the path, so "/etc/ssl" also
// excludes "/etc/ssl/certs" and "/etc/sslkeys".
type ExcludeMatcher struct {
	patterns []*regexp.Regexp
}

// NewExcludeMatcher compiles the given regular expressions. An invalid
// pattern is returned as a ConfigError.
func NewExcludeMatcher(patterns []string) (*ExcludeMatcher, error) {
	m := &ExcludeMatcher{}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, NewConfigError("exclude", fmt.Errorf("invalid pattern %q: %w", p, err))
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether path is excluded.
func (m *ExcludeMatcher) Match(path string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// isStoreFile reports whether path is the store itself or one of its side files.
func isStoreFile(storePath, path string) bool {
	if storePath == "" {
		return false
	}
	for _, suffix := range storeSideSuffixes {
		if path == storePath+suffix {
			return true
		}
	}
	return false
}
