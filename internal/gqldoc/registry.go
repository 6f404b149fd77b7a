package gqldoc

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Registry holds named fragments that documents may spread without
// defining them.
type Registry struct {
	mu        sync.RWMutex
	fragments map[string]*ast.FragmentDefinition
	gen       uint64
}

func NewRegistry() *Registry {
	return &Registry{fragments: make(map[string]*ast.FragmentDefinition)}
}

// Register parses src, which must contain only fragment definitions, and
// adds them. Registering a name again replaces the previous definition.
func (r *Registry) Register(src string) error {
	doc, err := parser.ParseQuery(&ast.Source{Name: "fragments", Input: src})
	if err != nil {
		return errors.Wrap(err, "parse fragments")
	}
	if len(doc.Operations) > 0 {
		return errors.New("fragment registry accepts fragment definitions only")
	}
	if len(doc.Fragments) == 0 {
		return errors.New("no fragment definitions")
	}
	for _, frag := range doc.Fragments {
		frag.SelectionSet = addTypename(frag.SelectionSet, true)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, frag := range doc.Fragments {
		r.fragments[frag.Name] = frag
	}
	r.gen++
	return nil
}

// Lookup returns a registered fragment. The definition is shared and must
// not be modified.
func (r *Registry) Lookup(name string) (*ast.FragmentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	frag, ok := r.fragments[name]
	return frag, ok
}

// Generation changes every time the registry changes.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Names lists the registered fragment names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fragments))
	for name := range r.fragments {
		names = append(names, name)
	}
	return names
}
