package cache

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
)

// WriteQuery merges an operation result into the cache. Fields absent from
// data are left untouched.
func (c *Cache) WriteQuery(op Operation, data map[string]any) error {
	def, err := op.definition()
	if err != nil {
		return err
	}
	key, typename := rootKey(def.Operation)

	c.mu.Lock()
	w := writer{c: c, doc: op.Document, vars: op.Variables, changes: changeSet{}}
	err = w.selectionSet(key, typename, def.SelectionSet, data)
	deliveries := c.commitLocked(w.changes)
	c.mu.Unlock()

	c.metrics.CacheWrite()
	c.deliver(deliveries)
	return errors.Wrap(err, "write query")
}

// WriteFragment merges data into the entry named by f.ID.
func (c *Cache) WriteFragment(f Fragment, data map[string]any) error {
	def, err := f.definition()
	if err != nil {
		return err
	}
	typename, _ := data["__typename"].(string)
	if typename == "" {
		typename = def.TypeCondition
	}

	c.mu.Lock()
	w := writer{c: c, doc: f.Document, vars: f.Variables, changes: changeSet{}}
	err = w.selectionSet(f.ID, typename, def.SelectionSet, data)
	deliveries := c.commitLocked(w.changes)
	c.mu.Unlock()

	c.metrics.CacheWrite()
	c.deliver(deliveries)
	return errors.Wrap(err, "write fragment")
}

// writer walks a selection set alongside result data. Callers hold c.mu.
type writer struct {
	c       *Cache
	doc     *ast.QueryDocument
	vars    map[string]any
	changes changeSet
}

func (w *writer) selectionSet(key, typename string, set ast.SelectionSet, data map[string]any) error {
	if t, ok := data["__typename"].(string); ok && t != "" {
		typename = t
	}

	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if skipped(s.Directives, w.vars) {
				continue
			}
			value, present := data[responseKey(s)]
			if !present {
				continue
			}
			field, err := storeFieldName(s, w.vars)
			if err != nil {
				return err
			}
			normalized, err := w.value(key+"."+field, s, value)
			if err != nil {
				return err
			}
			w.set(key, field, normalized)

		case *ast.FragmentSpread:
			if skipped(s.Directives, w.vars) {
				continue
			}
			frag := w.doc.Fragments.ForName(s.Name)
			if frag == nil {
				return errors.Errorf("unknown fragment %q", s.Name)
			}
			if !w.c.typeMatches(frag.TypeCondition, typename) {
				continue
			}
			if err := w.selectionSet(key, typename, frag.SelectionSet, data); err != nil {
				return err
			}

		case *ast.InlineFragment:
			if skipped(s.Directives, w.vars) || !w.c.typeMatches(s.TypeCondition, typename) {
				continue
			}
			if err := w.selectionSet(key, typename, s.SelectionSet, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// value normalizes one field value. Identifiable objects become Refs to their
// own entry; other objects are stored under path, a key derived from the
// parent entry and field.
func (w *writer) value(path string, f *ast.Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]any, len(t))
		for i := range t {
			item, err := w.value(path+"."+strconv.Itoa(i), f, t[i])
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case map[string]any:
		if len(f.SelectionSet) == 0 {
			// Custom scalar with an object representation.
			return t, nil
		}
		typename, _ := t["__typename"].(string)
		key, ok := w.c.keyFunc(typename, t)
		if !ok {
			key = path
		}
		if err := w.selectionSet(key, typename, f.SelectionSet, t); err != nil {
			return nil, err
		}
		return Ref{Key: key}, nil
	default:
		return v, nil
	}
}

func (w *writer) set(key, field string, value any) {
	entry, ok := w.c.entries[key]
	if !ok {
		entry = make(map[string]any)
		w.c.entries[key] = entry
	}
	if old, exists := entry[field]; exists && reflect.DeepEqual(old, value) {
		return
	}
	entry[field] = value
	w.changes.add(key, field)
}
