// Package gqldoc prepares GraphQL documents for the client.
//
// A parsed Document keeps two renditions of the same source. AST is what the
// cache walks: __typename is requested on every object and client-only
// directives such as @nonreactive are kept. Printed is what goes over the
// wire, with client-only directives removed. Fragments from a Registry are
// appended to both when the source spreads them without defining them.
package gqldoc

import (
	"strconv"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/zhouzirui/user-table/backend/internal/metrics"
)

// ClientDirectives are understood by the cache and never sent to the server.
var ClientDirectives = []string{"nonreactive"}

// Document is a parsed, client-ready GraphQL document.
type Document struct {
	AST     *ast.QueryDocument
	Printed string
	Source  string
}

// Operation returns the named operation, or the only one when name is empty.
func (d *Document) Operation(name string) *ast.OperationDefinition {
	return d.AST.Operations.ForName(name)
}

// Fragment returns the named fragment, or the only one when name is empty.
func (d *Document) Fragment(name string) *ast.FragmentDefinition {
	if name == "" {
		if len(d.AST.Fragments) == 1 {
			return d.AST.Fragments[0]
		}
		return nil
	}
	return d.AST.Fragments.ForName(name)
}

// Parse builds a Document without caching.
func Parse(src string, reg *Registry) (*Document, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "document", Input: src})
	if err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	if len(doc.Operations) == 0 && len(doc.Fragments) == 0 {
		return nil, errors.New("empty document")
	}
	for _, op := range doc.Operations {
		op.SelectionSet = addTypename(op.SelectionSet, false)
	}
	for _, frag := range doc.Fragments {
		frag.SelectionSet = addTypename(frag.SelectionSet, true)
	}
	if err := resolveFragments(doc, reg); err != nil {
		return nil, err
	}

	client := format(doc)
	wire, err := parser.ParseQuery(&ast.Source{Name: "document", Input: client})
	if err != nil {
		return nil, errors.Wrap(err, "reparse document")
	}
	for _, name := range ClientDirectives {
		for _, op := range wire.Operations {
			stripDirective(op.SelectionSet, name)
		}
		for _, frag := range wire.Fragments {
			stripDirective(frag.SelectionSet, name)
		}
	}
	return &Document{AST: doc, Printed: format(wire), Source: src}, nil
}

// ParserConfig sizes the parsed-document cache.
type ParserConfig struct {
	// MaxDocuments bounds the number of cached documents.
	MaxDocuments int64
}

// Parser parses documents against a Registry and caches the results. A
// registry change invalidates every cached document.
type Parser struct {
	registry *Registry
	cache    *ristretto.Cache[string, *Document]
	metrics  *metrics.Metrics
}

func NewParser(reg *Registry, cfg ParserConfig, m *metrics.Metrics) (*Parser, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Document]{
		NumCounters: cfg.MaxDocuments * 10,
		MaxCost:     cfg.MaxDocuments,
		BufferItems: 64,
		// Cost counts documents, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create document cache")
	}
	return &Parser{registry: reg, cache: cache, metrics: m}, nil
}

// Registry returns the fragment registry documents are resolved against.
func (p *Parser) Registry() *Registry { return p.registry }

// Parse returns the cached Document for src, parsing it on a miss.
func (p *Parser) Parse(src string) (*Document, error) {
	key := strconv.FormatUint(p.registry.Generation(), 10) + ":" + src
	if doc, ok := p.cache.Get(key); ok {
		p.metrics.DocumentLookup(true)
		return doc, nil
	}
	p.metrics.DocumentLookup(false)

	doc, err := Parse(src, p.registry)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, doc, 1)
	p.cache.Wait()
	return doc, nil
}

// Close releases the document cache.
func (p *Parser) Close() {
	p.cache.Close()
}
