package plugin

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/storage"
)

// Grammar parameterizes the generic tree extractor for one language: a
// tree-sitter grammar plus a small mapping from symbol kind to the
// grammar's node type names, and the node types that carry a symbol's
// name so the generic name lookup (first matching descendant) can work
// without per-language special-casing.
type Grammar struct {
	Language   string
	Extensions []string
	TSLanguage *sitter.Language
	// NodeTypes maps a symbol kind to the grammar node types that define
	// it, e.g. {KindFunction: {"function_declaration"}}.
	NodeTypes map[storage.SymbolKind][]string
	// NameNodeTypes lists node types that hold a symbol's identifier,
	// searched in the matched node's direct children, then its
	// descendants, in order.
	NameNodeTypes []string
}

// StandardGrammars returns the four grammars registered for generic
// extraction: Go, Python, JavaScript, and TypeScript, using the bindings
// already vendored for the parser.
func StandardGrammars() []Grammar {
	return []Grammar{goGrammar(), pythonGrammar(), javascriptGrammar(), typescriptGrammar()}
}

func goGrammar() Grammar {
	return Grammar{
		Language:   "go",
		Extensions: []string{".go"},
		TSLanguage: golang.GetLanguage(),
		NodeTypes: map[storage.SymbolKind][]string{
			storage.KindFunction: {"function_declaration"},
			storage.KindMethod:   {"method_declaration"},
			storage.KindType:     {"type_declaration"},
			storage.KindConstant: {"const_declaration"},
			storage.KindVariable: {"var_declaration"},
		},
		NameNodeTypes: []string{"identifier", "field_identifier", "type_identifier"},
	}
}

func pythonGrammar() Grammar {
	return Grammar{
		Language:   "python",
		Extensions: []string{".py"},
		TSLanguage: python.GetLanguage(),
		NodeTypes: map[storage.SymbolKind][]string{
			storage.KindFunction: {"function_definition"},
			storage.KindClass:    {"class_definition"},
		},
		NameNodeTypes: []string{"identifier"},
	}
}

func javascriptGrammar() Grammar {
	return Grammar{
		Language:   "javascript",
		Extensions: []string{".js", ".mjs", ".jsx"},
		TSLanguage: javascript.GetLanguage(),
		NodeTypes: map[storage.SymbolKind][]string{
			storage.KindFunction: {"function_declaration", "function"},
			storage.KindMethod:   {"method_definition"},
			storage.KindClass:    {"class_declaration"},
			storage.KindVariable: {"lexical_declaration", "variable_declaration"},
		},
		NameNodeTypes: []string{"identifier", "property_identifier"},
	}
}

func typescriptGrammar() Grammar {
	return Grammar{
		Language:   "typescript",
		Extensions: []string{".ts", ".tsx"},
		TSLanguage: typescript.GetLanguage(),
		NodeTypes: map[storage.SymbolKind][]string{
			storage.KindFunction:  {"function_declaration"},
			storage.KindMethod:    {"method_definition"},
			storage.KindClass:     {"class_declaration"},
			storage.KindInterface: {"interface_declaration"},
			storage.KindType:      {"type_alias_declaration"},
			storage.KindVariable:  {"lexical_declaration", "variable_declaration"},
		},
		NameNodeTypes: []string{"identifier", "property_identifier", "type_identifier"},
	}
}

// tsxLanguage is used only for the .tsx extension's parse, since tsx is a
// distinct tree-sitter grammar from typescript despite sharing a Grammar
// value above for symbol-kind mapping purposes.
func tsxLanguage() *sitter.Language { return tsx.GetLanguage() }

// NewTreeExtractorPlugin builds a Plugin from a Grammar: Parse walks the
// tree-sitter AST and, for every node whose type appears in
// grammar.NodeTypes, emits an ExtractedSymbol using the first matching
// name node found among its children. This is the default for any
// language with a registered grammar; it yields names, line ranges, and a
// one-line signature, but not cross-file references (use a specialized
// extractor for those).
func NewTreeExtractorPlugin(g Grammar) Plugin {
	parse := func(ctx context.Context, filePath string, content []byte) (ParseResult, error) {
		root, err := parseSource(ctx, treeSitterLanguageFor(g, filePath), content)
		if err != nil {
			return ParseResult{}, err
		}
		return ParseResult{Symbols: extractSymbolsGeneric(g, root, content)}, nil
	}

	return Plugin{
		Extensions: g.Extensions,
		Language:   g.Language,
		Parse:      parse,
	}
}

// treeSitterLanguageFor resolves the tree-sitter language for one file,
// special-casing a .tsx file since tsx is a distinct grammar from
// "typescript" despite sharing the typescriptGrammar()'s symbol-kind mapping.
func treeSitterLanguageFor(g Grammar, filePath string) *sitter.Language {
	if strings.HasSuffix(filePath, ".tsx") {
		return tsxLanguage()
	}
	return g.TSLanguage
}

// parseSource runs a fresh tree-sitter parser over content and returns
// its root node. A fresh *sitter.Parser per call keeps plugins safe for
// concurrent use by the indexing worker without a shared-state lock.
func parseSource(ctx context.Context, language *sitter.Language, content []byte) (*sitter.Node, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, errors.Wrap(errors.KindPluginFailure, "tree-sitter parse failed", err)
	}
	if tree == nil {
		return nil, errors.New(errors.KindPluginFailure, "tree-sitter returned a nil tree")
	}
	return tree.RootNode(), nil
}

// extractSymbolsGeneric walks root matching node types against
// grammar.NodeTypes, the shared implementation behind both the generic
// tree extractor and any specialized extractor that wants the same
// symbol pass plus its own reference/import resolution on top.
func extractSymbolsGeneric(g Grammar, root *sitter.Node, content []byte) []storage.ExtractedSymbol {
	kindByNodeType := make(map[string]storage.SymbolKind)
	for kind, nodeTypes := range g.NodeTypes {
		for _, nt := range nodeTypes {
			kindByNodeType[nt] = kind
		}
	}
	nameTypes := make(map[string]struct{}, len(g.NameNodeTypes))
	for _, nt := range g.NameNodeTypes {
		nameTypes[nt] = struct{}{}
	}

	var symbols []storage.ExtractedSymbol
	walk(root, func(n *sitter.Node) bool {
		kind, ok := kindByNodeType[n.Type()]
		if !ok {
			return true
		}
		name := firstNameDescendant(n, nameTypes, content)
		if name == "" {
			return true
		}
		symbols = append(symbols, storage.ExtractedSymbol{
			Name:      name,
			Kind:      kind,
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine:   int(n.EndPoint().Row) + 1,
			StartCol:  int(n.StartPoint().Column),
			EndCol:    int(n.EndPoint().Column),
			Signature: firstLine(nodeText(n, content)),
		})
		return true
	})
	return symbols
}

// walk traverses the tree-sitter AST depth-first, calling fn for every
// node; fn returning false stops descent into that node's children.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// firstNameDescendant does a breadth-first search of n's descendants for
// the first node whose type is in nameTypes, preferring direct children
// before grandchildren so e.g. a Go method_declaration's field_identifier
// (its own name) is found before a field_identifier nested in its
// receiver or body.
func firstNameDescendant(n *sitter.Node, nameTypes map[string]struct{}, source []byte) string {
	queue := []*sitter.Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i := 0; i < int(cur.ChildCount()); i++ {
			child := cur.Child(i)
			if _, ok := nameTypes[child.Type()]; ok {
				return nodeText(child, source)
			}
		}
		for i := 0; i < int(cur.ChildCount()); i++ {
			queue = append(queue, cur.Child(i))
		}
	}
	return ""
}

// nodeText returns n's source text by byte range, mirroring the teacher's
// Node.GetContent rather than assuming the tree-sitter binding exposes a
// direct content accessor.
func nodeText(n *sitter.Node, source []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
