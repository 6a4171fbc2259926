package plugin

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/codescope/codescope/internal/storage"
)

// NewGoPlugin returns the specialized Go adapter: it reuses the generic
// Go grammar's symbol pass but additionally resolves a method's receiver
// type into Symbol.Container, walks import_declaration nodes into
// ExtractedImports, and matches call_expression nodes against symbols
// defined in the same file to emit ExtractedReferences — the cross-file
// case a plugin cannot resolve locally is left to the caller, per
// symbols.go's ReplaceSymbols, which drops unresolvable reference names
// rather than failing the write.
func NewGoPlugin() Plugin {
	grammar := goGrammar()

	parse := func(ctx context.Context, filePath string, content []byte) (ParseResult, error) {
		root, err := parseSource(ctx, golang.GetLanguage(), content)
		if err != nil {
			return ParseResult{}, err
		}

		symbols := extractSymbolsGeneric(grammar, root, content)
		attachReceivers(root, content, symbols)

		return ParseResult{
			Symbols:    symbols,
			Imports:    extractGoImports(root, content),
			References: extractGoCallReferences(root, content, symbols),
		}, nil
	}

	return Plugin{
		Extensions: grammar.Extensions,
		Language:   grammar.Language,
		Parse:      parse,
	}
}

// attachReceivers fills in Container for every method symbol by finding
// its method_declaration's receiver parameter and reading the (possibly
// pointer) type name out of it, mutating symbols in place.
func attachReceivers(root *sitter.Node, content []byte, symbols []storage.ExtractedSymbol) {
	byLine := make(map[int]*storage.ExtractedSymbol, len(symbols))
	for i := range symbols {
		if symbols[i].Kind == storage.KindMethod {
			byLine[symbols[i].StartLine] = &symbols[i]
		}
	}
	if len(byLine) == 0 {
		return
	}

	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "method_declaration" {
			return true
		}
		sym, ok := byLine[int(n.StartPoint().Row)+1]
		if !ok {
			return true
		}
		if recv := receiverTypeName(n, content); recv != "" {
			sym.Container = recv
		}
		return true
	})
}

// receiverTypeName extracts the receiver's type identifier from a
// method_declaration's parameter_list, stripping a leading pointer "*".
func receiverTypeName(method *sitter.Node, content []byte) string {
	for i := 0; i < int(method.ChildCount()); i++ {
		child := method.Child(i)
		if child.Type() != "parameter_list" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			param := child.Child(j)
			if param.Type() != "parameter_declaration" {
				continue
			}
			for k := 0; k < int(param.ChildCount()); k++ {
				grand := param.Child(k)
				switch grand.Type() {
				case "type_identifier":
					return nodeText(grand, content)
				case "pointer_type":
					return strings.TrimPrefix(nodeText(grand, content), "*")
				}
			}
		}
		// Only the first parameter_list belongs to the receiver.
		break
	}
	return ""
}

// extractGoImports walks import_declaration nodes, handling both the
// single-spec (import "fmt") and grouped (import ( ... )) forms.
func extractGoImports(root *sitter.Node, content []byte) []storage.ExtractedImport {
	var imports []storage.ExtractedImport
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "import_declaration" {
			return true
		}
		walk(n, func(spec *sitter.Node) bool {
			if spec.Type() != "import_spec" {
				return true
			}
			imports = append(imports, importFromSpec(spec, content))
			return true
		})
		return false
	})
	return imports
}

func importFromSpec(spec *sitter.Node, content []byte) storage.ExtractedImport {
	imp := storage.ExtractedImport{Line: int(spec.StartPoint().Row) + 1}
	for i := 0; i < int(spec.ChildCount()); i++ {
		child := spec.Child(i)
		switch child.Type() {
		case "interpreted_string_literal":
			imp.ModulePath = strings.Trim(nodeText(child, content), `"`)
		case "package_identifier":
			imp.Alias = nodeText(child, content)
		case "dot":
			imp.Alias = "."
		case "blank_identifier":
			imp.Alias = "_"
		}
	}
	imp.ImportedName = lastPathSegment(imp.ModulePath)
	imp.IsRelative = strings.HasPrefix(imp.ModulePath, ".")
	return imp
}

func lastPathSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// extractGoCallReferences matches call_expression nodes whose callee is a
// bare identifier (not a selector like pkg.Func or recv.Method, which
// would require cross-file or cross-package resolution this extractor
// does not attempt) against the file's own defined symbol names.
func extractGoCallReferences(root *sitter.Node, content []byte, symbols []storage.ExtractedSymbol) []storage.ExtractedReference {
	known := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		known[sym.Name] = struct{}{}
	}

	var refs []storage.ExtractedReference
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		callee := n.Child(0)
		if callee == nil || callee.Type() != "identifier" {
			return true
		}
		name := nodeText(callee, content)
		if _, ok := known[name]; !ok {
			return true
		}
		refs = append(refs, storage.ExtractedReference{
			SymbolName: name,
			Line:       int(callee.StartPoint().Row) + 1,
			Column:     int(callee.StartPoint().Column),
			Kind:       storage.RefCall,
		})
		return true
	})
	return refs
}
