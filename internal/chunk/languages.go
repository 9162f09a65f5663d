package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps language names and extensions to tree-sitter
// grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the supported grammars.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.register("python", []string{".py"}, python.GetLanguage())
	r.register("javascript", []string{".js", ".jsx", ".mjs"}, javascript.GetLanguage())
	r.register("typescript", []string{".ts"}, typescript.GetLanguage())
	r.register("tsx", []string{".tsx"}, tsx.GetLanguage())
	r.register("go", []string{".go"}, golang.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(name string, exts []string, lang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tsLanguages[name] = lang
	for _, ext := range exts {
		r.extToLang[ext] = name
	}
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// LanguageByExtension returns the language name for a file extension.
func (r *LanguageRegistry) LanguageByExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	return name, ok
}

// defaultRegistry is the shared language registry.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
