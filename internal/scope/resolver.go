// Package scope resolves the enclosing function of a source line with
// tree-sitter, so findings can be grouped by function when the detector did
// not report one.
package scope

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Span is a function-like definition in a source file. Lines are 1-based
// and inclusive.
type Span struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
}

func (s Span) contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// Resolver extracts function spans from source files.
type Resolver struct {
	registry *Registry
}

func NewResolver(r *Registry) *Resolver {
	return &Resolver{registry: r}
}

// Supports reports whether a grammar is registered for path.
func (r *Resolver) Supports(path string) bool {
	spec, _ := r.registry.Lookup(path)
	return spec != nil
}

// Spans parses src and returns every function-like definition. It returns
// nil for files without a registered grammar.
func (r *Resolver) Spans(ctx context.Context, path string, src []byte) ([]Span, error) {
	spec, lang := r.registry.Lookup(path)
	if spec == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var spans []Span
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "scope":
				node = c.Node
			case "name":
				name = c.Node.Content(src)
			}
		}
		if node == nil || name == "" {
			continue
		}
		spans = append(spans, Span{
			Name:      name,
			Kind:      node.Type(),
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
		})
	}
	return spans, nil
}

// Enclosing returns the name of the innermost span containing line, or ""
// when the line is outside every function.
func Enclosing(spans []Span, line int) string {
	best := -1
	for i, s := range spans {
		if !s.contains(line) {
			continue
		}
		if best < 0 || s.EndLine-s.StartLine < spans[best].EndLine-spans[best].StartLine {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return spans[best].Name
}
