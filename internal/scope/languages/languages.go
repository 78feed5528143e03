// Package languages registers the tree-sitter grammars used for scope
// resolution.
package languages

import "patternmem/internal/scope"

// Registry returns a registry with every supported language.
func Registry() *scope.Registry {
	r := scope.NewRegistry()
	RegisterGo(r)
	RegisterPython(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	return r
}
