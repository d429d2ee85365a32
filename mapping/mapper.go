// Package mapping projects values between hierarchical documents via
// declarative path pairs. Pure functions, no state, no I/O.
package mapping

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/oliveagle/jsonpath"
	"github.com/weftlabs/weft/model"
)

// Get resolves a path from doc. Paths are dot separated ("state.raw"),
// a "$" prefix switches to jsonpath syntax for expressions the plain
// walker cannot express. A declared path absent from the document is a
// MappingError.
func Get(doc map[string]any, path string) (any, error) {
	if strings.HasPrefix(path, "$") {
		value, err := jsonpath.JsonPathLookup(doc, path)
		if err != nil {
			return nil, model.MappingError{Path: path, Message: err.Error()}
		}
		return value, nil
	}
	current := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, model.MappingError{Path: path, Message: fmt.Sprintf("segment %q is not an object", seg)}
		}
		current, ok = m[seg]
		if !ok {
			return nil, model.MappingError{Path: path, Message: fmt.Sprintf("segment %q not found", seg)}
		}
	}
	return current, nil
}

// Lookup is Get without the error, for callers probing optional paths.
func Lookup(doc map[string]any, path string) (any, bool) {
	v, err := Get(doc, path)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set writes value at a dot path, creating intermediate objects. When
// both the existing and the new value are objects they are merged deep,
// new keys winning; scalars and lists replace.
func Set(doc map[string]any, path string, value any) error {
	segs := strings.Split(path, ".")
	current := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := current[seg]
		if !ok {
			child := map[string]any{}
			current[seg] = child
			current = child
			continue
		}
		childMap, ok := next.(map[string]any)
		if !ok {
			return model.MappingError{Path: path, Message: fmt.Sprintf("segment %q is not an object", seg)}
		}
		current = childMap
	}
	leaf := segs[len(segs)-1]
	newMap, newIsMap := value.(map[string]any)
	oldMap, oldIsMap := current[leaf].(map[string]any)
	if newIsMap && oldIsMap {
		if err := mergo.Merge(&oldMap, newMap, mergo.WithOverride); err != nil {
			return model.MappingError{Path: path, Message: err.Error()}
		}
		current[leaf] = oldMap
		return nil
	}
	current[leaf] = value
	return nil
}

// Apply projects each (source, target) pair from src into a fresh
// document.
func Apply(mappings []model.Mapping, src map[string]any) (map[string]any, error) {
	dst := map[string]any{}
	if err := MergeInto(mappings, src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// MergeInto projects each (source, target) pair from src into dst.
func MergeInto(mappings []model.Mapping, src map[string]any, dst map[string]any) error {
	for _, m := range mappings {
		value, err := Get(src, m.Source)
		if err != nil {
			return err
		}
		if err := Set(dst, m.Target, value); err != nil {
			return err
		}
	}
	return nil
}
