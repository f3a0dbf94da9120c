package jsonpath

import (
	"strconv"

	"github.com/nrjais/reposql/internal/apperr"
)

// Get walks doc along p. It reports false when any step is missing or the
// value at that step is not a container. A key made only of digits addresses
// an array element, matching PostgreSQL's #> operator.
func Get(doc any, p Path) (any, bool) {
	current := doc
	for _, seg := range p {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[seg.String()]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			idx, ok := arrayIndex(seg)
			if !ok || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set returns a copy of doc with value stored at p. doc is never modified:
// containers along the path are copied, everything else is shared. Missing or
// scalar intermediates are replaced by a new object (or array when the next
// segment is an index). Writing past the end of an array appends.
func Set(doc any, p Path, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	seg := p[0]
	switch node := doc.(type) {
	case map[string]any:
		key := seg.String()
		child, err := Set(node[key], p[1:], value)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(node)+1)
		for k, v := range node {
			out[k] = v
		}
		out[key] = child
		return out, nil
	case []any:
		idx, ok := arrayIndex(seg)
		if !ok {
			return nil, apperr.InvalidPath(p.String(), "cannot address an array element by key "+strconv.Quote(seg.Key))
		}
		out := make([]any, len(node), len(node)+1)
		copy(out, node)
		if idx >= len(node) {
			child, err := Set(nil, p[1:], value)
			if err != nil {
				return nil, err
			}
			return append(out, child), nil
		}
		child, err := Set(node[idx], p[1:], value)
		if err != nil {
			return nil, err
		}
		out[idx] = child
		return out, nil
	default:
		if seg.IsIndex {
			return Set([]any{}, p, value)
		}
		return Set(map[string]any{}, p, value)
	}
}

func arrayIndex(seg Segment) (int, bool) {
	if seg.IsIndex {
		return seg.Index, true
	}
	idx, err := strconv.Atoi(seg.Key)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
