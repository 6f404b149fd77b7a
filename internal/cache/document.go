package cache

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
)

// Operation names a query, mutation or subscription inside a parsed document.
type Operation struct {
	Document  *ast.QueryDocument
	Name      string
	Variables map[string]any
}

func (op Operation) definition() (*ast.OperationDefinition, error) {
	if op.Document == nil {
		return nil, errors.New("operation has no document")
	}
	def := op.Document.Operations.ForName(op.Name)
	if def == nil {
		if op.Name == "" {
			return nil, errors.Errorf("document defines %d operations, an operation name is required", len(op.Document.Operations))
		}
		return nil, errors.Errorf("operation %q not found", op.Name)
	}
	return def, nil
}

// Fragment names a fragment inside a parsed document and the entry it is
// read from or written to.
type Fragment struct {
	Document  *ast.QueryDocument
	Name      string
	ID        string
	Variables map[string]any
}

func (f Fragment) definition() (*ast.FragmentDefinition, error) {
	if f.Document == nil {
		return nil, errors.New("fragment has no document")
	}
	if f.ID == "" {
		return nil, errors.New("fragment has no entry id")
	}
	if f.Name == "" {
		if len(f.Document.Fragments) != 1 {
			return nil, errors.Errorf("document defines %d fragments, a fragment name is required", len(f.Document.Fragments))
		}
		return f.Document.Fragments[0], nil
	}
	def := f.Document.Fragments.ForName(f.Name)
	if def == nil {
		return nil, errors.Errorf("fragment %q not found", f.Name)
	}
	return def, nil
}

func rootKey(op ast.Operation) (key, typename string) {
	switch op {
	case ast.Mutation:
		return RootMutation, "Mutation"
	case ast.Subscription:
		return RootSubscription, "Subscription"
	default:
		return RootQuery, "Query"
	}
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// storeFieldName is the field name plus its resolved arguments, so
// user(id: "u1") and user(id: "u2") occupy different slots of one entry.
func storeFieldName(f *ast.Field, vars map[string]any) (string, error) {
	if len(f.Arguments) == 0 {
		return f.Name, nil
	}
	args := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			return "", errors.Wrapf(err, "argument %s.%s", f.Name, arg.Name)
		}
		args[arg.Name] = v
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrapf(err, "encode arguments of %s", f.Name)
	}
	return f.Name + "(" + string(raw) + ")", nil
}

// skipped evaluates @skip and @include.
func skipped(dirs ast.DirectiveList, vars map[string]any) bool {
	if d := dirs.ForName("skip"); d != nil && directiveIf(d, vars) {
		return true
	}
	if d := dirs.ForName("include"); d != nil && !directiveIf(d, vars) {
		return true
	}
	return false
}

func directiveIf(d *ast.Directive, vars map[string]any) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	v, err := arg.Value.Value(vars)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// NonReactive is the client-only directive that keeps a fragment spread's
// fields out of the enclosing watch's dependencies.
const NonReactive = "nonreactive"

func nonReactive(dirs ast.DirectiveList) bool {
	return dirs.ForName(NonReactive) != nil
}
