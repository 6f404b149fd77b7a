package cache

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
)

// ReadQuery assembles an operation result from the cache. When some fields
// are missing the partial data is returned with a *MissingFieldError.
func (c *Cache) ReadQuery(op Operation) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _, err := c.readQueryLocked(op, false)
	return data, err
}

// ReadFragment assembles a fragment from the entry named by f.ID.
func (c *Cache) ReadFragment(f Fragment) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _, err := c.readFragmentLocked(f, false)
	return data, err
}

func (c *Cache) readQueryLocked(op Operation, track bool) (map[string]any, changeSet, error) {
	def, err := op.definition()
	if err != nil {
		return nil, nil, err
	}
	key, typename := rootKey(def.Operation)
	r := c.newReader(op.Document, op.Variables, track)
	r.rootTypename = typename
	data := r.selectionSet(key, def.SelectionSet, track, "")
	return data, r.deps, r.result()
}

func (c *Cache) readFragmentLocked(f Fragment, track bool) (map[string]any, changeSet, error) {
	def, err := f.definition()
	if err != nil {
		return nil, nil, err
	}
	r := c.newReader(f.Document, f.Variables, track)
	if track {
		// Depend on the entry's identity so a fragment watch notices the
		// entry being created or evicted.
		r.deps.add(f.ID, "__typename")
	}
	if _, ok := c.entries[f.ID]; !ok {
		return nil, r.deps, &MissingFieldError{Paths: []string{f.ID}}
	}
	data := r.selectionSet(f.ID, def.SelectionSet, track, "")
	return data, r.deps, r.result()
}

type reader struct {
	c            *Cache
	doc          *ast.QueryDocument
	vars         map[string]any
	deps         changeSet
	missing      []string
	rootTypename string
	err          error
}

func (c *Cache) newReader(doc *ast.QueryDocument, vars map[string]any, track bool) *reader {
	r := &reader{c: c, doc: doc, vars: vars}
	if track {
		r.deps = changeSet{}
	}
	return r
}

func (r *reader) result() error {
	if r.err != nil {
		return r.err
	}
	if len(r.missing) > 0 {
		return &MissingFieldError{Paths: r.missing}
	}
	return nil
}

func (r *reader) selectionSet(key string, set ast.SelectionSet, track bool, path string) map[string]any {
	entry := r.c.entries[key]
	typename, _ := entry["__typename"].(string)
	if typename == "" && (key == RootQuery || key == RootMutation || key == RootSubscription) {
		typename = r.rootTypename
	}

	out := make(map[string]any)
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if skipped(s.Directives, r.vars) {
				continue
			}
			name := responseKey(s)
			fieldPath := joinPath(path, name)
			field, err := storeFieldName(s, r.vars)
			if err != nil {
				r.err = err
				continue
			}
			if track {
				r.deps.add(key, field)
			}
			stored, ok := entry[field]
			if !ok {
				if s.Name == "__typename" && typename != "" {
					out[name] = typename
					continue
				}
				r.missing = append(r.missing, fieldPath)
				continue
			}
			out[name] = r.value(s, stored, track, fieldPath)

		case *ast.FragmentSpread:
			if skipped(s.Directives, r.vars) {
				continue
			}
			frag := r.doc.Fragments.ForName(s.Name)
			if frag == nil {
				r.err = errors.Errorf("unknown fragment %q", s.Name)
				continue
			}
			if !r.c.typeMatches(frag.TypeCondition, typename) {
				continue
			}
			merge(out, r.selectionSet(key, frag.SelectionSet, track && !nonReactive(s.Directives), path))

		case *ast.InlineFragment:
			if skipped(s.Directives, r.vars) || !r.c.typeMatches(s.TypeCondition, typename) {
				continue
			}
			merge(out, r.selectionSet(key, s.SelectionSet, track && !nonReactive(s.Directives), path))
		}
	}
	return out
}

func (r *reader) value(f *ast.Field, stored any, track bool, path string) any {
	switch t := stored.(type) {
	case nil:
		return nil
	case Ref:
		if _, ok := r.c.entries[t.Key]; !ok {
			r.missing = append(r.missing, path)
			return nil
		}
		return r.selectionSet(t.Key, f.SelectionSet, track, path)
	case []any:
		out := make([]any, 0, len(t))
		for i, item := range t {
			if ref, ok := item.(Ref); ok {
				if _, exists := r.c.entries[ref.Key]; !exists {
					// Dangling references are dropped from lists.
					continue
				}
			}
			out = append(out, r.value(f, item, track, path+"."+strconv.Itoa(i)))
		}
		return out
	default:
		return stored
	}
}

// merge folds src into dst, combining nested objects selected by more than
// one fragment.
func merge(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		dm, dok := existing.(map[string]any)
		sm, sok := v.(map[string]any)
		if dok && sok {
			merge(dm, sm)
			continue
		}
		dl, dok := existing.([]any)
		sl, sok := v.([]any)
		if dok && sok && len(dl) == len(sl) {
			for i := range dl {
				a, aok := dl[i].(map[string]any)
				b, bok := sl[i].(map[string]any)
				if aok && bok {
					merge(a, b)
				}
			}
			continue
		}
		dst[k] = v
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
