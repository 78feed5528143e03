package languages

import (
	"patternmem/internal/scope"

	"github.com/smacker/go-tree-sitter/javascript"
)

func RegisterJavaScript(r *scope.Registry) {
	r.Register("javascript", &scope.LanguageSpec{
		Language: javascript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @scope
			(method_definition name: (property_identifier) @name) @scope
			(variable_declarator name: (identifier) @name value: (arrow_function)) @scope
			(variable_declarator name: (identifier) @name value: (function_expression)) @scope
		`,
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
	})
}
