// Package jsonpath parses and applies the dot/bracket paths used to address
// values inside JSON columns, e.g. "meta.dimensions.width" or "meta.sizes[2]".
//
// Every segment is validated against a fixed grammar before it is used, so a
// path can be handed to a storage engine as data and never as SQL text.
package jsonpath

import (
	"strconv"
	"strings"

	"github.com/nrjais/reposql/internal/apperr"
)

// Segment is one step of a Path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path is a validated sequence of segments.
type Path []Segment

const maxIndex = 1 << 20

func isIdentByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ValidIdentifier reports whether s is a non-empty run of letters, digits and underscores.
func ValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// Parse validates raw and returns its segments. The grammar is
//
//	path    = key { "." key | "[" index "]" }
//	key     = 1*( ALPHA / DIGIT / "_" )
//	index   = 1*DIGIT
//
// Anything else is rejected with an InvalidPath error.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return nil, apperr.InvalidPath(raw, "path is empty")
	}
	var path Path
	i := 0
	expectKey := true
	for i < len(raw) {
		switch {
		case expectKey:
			start := i
			for i < len(raw) && isIdentByte(raw[i]) {
				i++
			}
			if i == start {
				return nil, apperr.InvalidPath(raw, "expected identifier at offset "+strconv.Itoa(start))
			}
			path = append(path, Segment{Key: raw[start:i]})
			expectKey = false
		case raw[i] == '.':
			i++
			if i == len(raw) {
				return nil, apperr.InvalidPath(raw, "trailing '.'")
			}
			expectKey = true
		case raw[i] == '[':
			i++
			start := i
			for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
				i++
			}
			if i == start || i == len(raw) || raw[i] != ']' {
				return nil, apperr.InvalidPath(raw, "array index must be a non-negative integer in brackets")
			}
			idx, err := strconv.Atoi(raw[start:i])
			if err != nil || idx > maxIndex {
				return nil, apperr.InvalidPath(raw, "array index out of range")
			}
			path = append(path, Segment{Index: idx, IsIndex: true})
			i++
		default:
			return nil, apperr.InvalidPath(raw, "unexpected character "+strconv.QuoteRune(rune(raw[i])))
		}
	}
	return path, nil
}

// SplitKey splits a filter or payload key such as "meta.a[0]" into the column
// name and the path inside it. Keys without '.' or '[' are returned unchanged
// with an empty path; resolving them is the caller's allow-list lookup.
func SplitKey(key string) (string, Path, error) {
	if !strings.ContainsAny(key, ".[") {
		return key, nil, nil
	}
	path, err := Parse(key)
	if err != nil {
		return "", nil, err
	}
	if path[0].IsIndex {
		return "", nil, apperr.InvalidPath(key, "path must start with a column name")
	}
	return path[0].Key, path[1:], nil
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			b.WriteString("[" + strconv.Itoa(seg.Index) + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Text returns the path as a text array, the form PostgreSQL's #>, #>> and
// jsonb_set expect.
func (p Path) Text() []string {
	out := make([]string, len(p))
	for i, seg := range p {
		out[i] = seg.String()
	}
	return out
}
