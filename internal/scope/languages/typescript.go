package languages

import (
	"patternmem/internal/scope"

	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func RegisterTypeScript(r *scope.Registry) {
	r.Register("typescript", &scope.LanguageSpec{
		Language: typescript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @scope
			(method_definition name: (property_identifier) @name) @scope
			(variable_declarator name: (identifier) @name value: (arrow_function)) @scope
		`,
		Extensions: []string{"ts", "tsx"},
	})
}
