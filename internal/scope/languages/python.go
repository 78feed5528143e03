package languages

import (
	"patternmem/internal/scope"

	"github.com/smacker/go-tree-sitter/python"
)

func RegisterPython(r *scope.Registry) {
	r.Register("python", &scope.LanguageSpec{
		Language:   python.GetLanguage(),
		Query:      `(function_definition name: (identifier) @name) @scope`,
		Extensions: []string{"py", "pyi"},
	})
}
