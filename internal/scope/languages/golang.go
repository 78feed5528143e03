package languages

import (
	"patternmem/internal/scope"

	"github.com/smacker/go-tree-sitter/golang"
)

func RegisterGo(r *scope.Registry) {
	r.Register("go", &scope.LanguageSpec{
		Language: golang.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @scope
			(method_declaration name: (field_identifier) @name) @scope
		`,
		Extensions: []string{"go"},
	})
}
