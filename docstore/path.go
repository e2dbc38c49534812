package docstore

import (
	"strings"

	"github.com/choreoflow/choreoctl/cperrors"
)

// Path is a sequence of object keys identifying a location inside a JSON
// document. It replaces the teacher's original string-based JSON-path
// manipulation (see original_source/tools/redis_json/json_merge.py, which
// accepts only "$", "$.a.b", or "a.b" — no bracket selectors, no array
// indices) with the typed redesign spec.md §9 calls for: Path is built once
// by ParsePath and then walked with plain map[string]any indexing, so
// callers can never construct a path this store cannot apply.
type Path []string

// ParsePath accepts the root form ("" or "$") and the dotted forms ("$.a.b",
// "a.b"), rejecting bracketed array-index selectors exactly as the original
// json_merge/json_set tools did. An empty Path denotes the document root.
func ParsePath(raw string) (Path, error) {
	p := strings.TrimSpace(raw)
	if p == "" || p == "$" {
		return nil, nil
	}
	if strings.HasPrefix(p, "$.") {
		p = p[2:]
	} else if strings.HasPrefix(p, "$") {
		p = p[1:]
	}
	if strings.ContainsAny(p, "[]") || p == "" || strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".") || strings.Contains(p, "..") {
		return nil, cperrors.New(cperrors.KindInvalidInput, "invalid path %q: use \"$\" or dotted keys like \"a.b\" (no brackets/indices)", raw)
	}
	return Path(strings.Split(p, ".")), nil
}

// String renders the path back to its "$.a.b" form.
func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	return "$." + strings.Join(p, ".")
}

// Get walks doc (expected to decode to map[string]any at each level) and
// returns the value at p, or (nil, false) if any segment is missing.
func (p Path) Get(doc map[string]any) (any, bool) {
	cur := any(doc)
	for _, seg := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set walks doc, creating intermediate objects as needed, and assigns value
// at p. Set on an empty Path overwrites doc's entries with value's (value
// must be a map[string]any) — callers that want a root replace should not
// go through Set at all.
func (p Path) Set(doc map[string]any, value any) error {
	if len(p) == 0 {
		m, ok := value.(map[string]any)
		if !ok {
			return cperrors.New(cperrors.KindInvalidInput, "root set requires an object value")
		}
		for k, v := range m {
			doc[k] = v
		}
		return nil
	}
	cur := doc
	for _, seg := range p[:len(p)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[p[len(p)-1]] = value
	return nil
}

// MergePatch deep-merges patch into doc at p using RFC 7386 semantics: null
// values delete the target key, objects merge recursively, everything else
// overwrites. Mirrors original_source/tools/redis_json/json_merge.py.
func (p Path) MergePatch(doc map[string]any, patch map[string]any) error {
	target := doc
	if len(p) > 0 {
		cur := doc
		for _, seg := range p {
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[seg] = next
			}
			cur = next
		}
		target = cur
	}
	mergeInto(target, patch)
	return nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if srcObj, ok := v.(map[string]any); ok {
			dstObj, ok := dst[k].(map[string]any)
			if !ok {
				dstObj = map[string]any{}
			}
			mergeInto(dstObj, srcObj)
			dst[k] = dstObj
			continue
		}
		dst[k] = v
	}
}
