package bakonf

import "path/filepath"

// selection is an insertion-ordered set of paths in which every selected
// file is preceded by all of its ancestor directories below "/".
type selection struct {
	order []string
	seen  map[string]struct{}
}

func newSelection() *selection {
	return &selection{seen: make(map[string]struct{})}
}

// add inserts path after any of its missing ancestors.
func (s *selection) add(path string) {
	var chain []string
	for p := path; p != "/" && p != "."; {
		if _, ok := s.seen[p]; ok {
			break
		}
		chain = append(chain, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		s.seen[chain[i]] = struct{}{}
		s.order = append(s.order, chain[i])
	}
}

func (s *selection) paths() []string {
	return append([]string(nil), s.order...)
}
