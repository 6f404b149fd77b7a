package gqldoc

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

const typenameField = "__typename"

// addTypename makes every object selection request __typename, which the
// cache needs to identify entries. The operation root is left alone.
func addTypename(set ast.SelectionSet, self bool) ast.SelectionSet {
	has := false
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == typenameField && (s.Alias == "" || s.Alias == s.Name) {
				has = true
			}
			if len(s.SelectionSet) > 0 {
				s.SelectionSet = addTypename(s.SelectionSet, true)
			}
		case *ast.InlineFragment:
			s.SelectionSet = addTypename(s.SelectionSet, false)
		}
	}
	if self && !has {
		set = append(ast.SelectionSet{&ast.Field{Alias: typenameField, Name: typenameField}}, set...)
	}
	return set
}

// stripDirective removes a client-only directive from every selection.
func stripDirective(set ast.SelectionSet, name string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			s.Directives = without(s.Directives, name)
			stripDirective(s.SelectionSet, name)
		case *ast.FragmentSpread:
			s.Directives = without(s.Directives, name)
		case *ast.InlineFragment:
			s.Directives = without(s.Directives, name)
			stripDirective(s.SelectionSet, name)
		}
	}
}

func without(dirs ast.DirectiveList, name string) ast.DirectiveList {
	if dirs.ForName(name) == nil {
		return dirs
	}
	out := make(ast.DirectiveList, 0, len(dirs)-1)
	for _, d := range dirs {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

// spreads collects the fragment names spread anywhere in set.
func spreads(set ast.SelectionSet, into map[string]struct{}) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			spreads(s.SelectionSet, into)
		case *ast.FragmentSpread:
			into[s.Name] = struct{}{}
		case *ast.InlineFragment:
			spreads(s.SelectionSet, into)
		}
	}
}

// resolveFragments appends the registered fragments that doc spreads but
// does not define, following spreads inside the appended fragments too.
func resolveFragments(doc *ast.QueryDocument, reg *Registry) error {
	needed := make(map[string]struct{})
	for _, op := range doc.Operations {
		spreads(op.SelectionSet, needed)
	}
	for _, frag := range doc.Fragments {
		spreads(frag.SelectionSet, needed)
	}

	for len(needed) > 0 {
		next := make(map[string]struct{})
		names := make([]string, 0, len(needed))
		for name := range needed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if doc.Fragments.ForName(name) != nil {
				continue
			}
			var frag *ast.FragmentDefinition
			if reg != nil {
				frag, _ = reg.Lookup(name)
			}
			if frag == nil {
				return errors.Errorf("unknown fragment %q", name)
			}
			doc.Fragments = append(doc.Fragments, frag)
			spreads(frag.SelectionSet, next)
		}
		needed = next
	}
	return nil
}

func format(doc *ast.QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}
