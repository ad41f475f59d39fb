package graph

import "strings"

// ResolvePath walks a dot-separated accessor into nested map values, e.g.
// "result.metrics.accuracy". An empty path returns the value unchanged.
// The second return is false when any segment is missing or a non-map is
// traversed before the path ends.
func ResolvePath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	current := value
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// MergeAt writes value into dst at the dot-separated path, creating
// intermediate maps as needed. An empty path is invalid for a merge target
// and is reported as false; disjointness is checked at validation time so
// an engine-side conflict is a bug, also reported as false.
func MergeAt(dst map[string]any, path string, value any) bool {
	if path == "" {
		return false
	}
	segs := strings.Split(path, ".")
	current := dst
	for _, seg := range segs[:len(segs)-1] {
		next, ok := current[seg]
		if !ok {
			child := make(map[string]any)
			current[seg] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = child
	}
	leaf := segs[len(segs)-1]
	if _, exists := current[leaf]; exists {
		return false
	}
	current[leaf] = value
	return true
}

// PathsDisjoint reports whether two projection paths can never write the
// same leaf. Equal paths collide, and so does a path that is a segment
// prefix of the other ("a.b" vs "a.b.c"). The empty path covers the whole
// value and collides with everything.
func PathsDisjoint(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return true
		}
	}
	return false
}
