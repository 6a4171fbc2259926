package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/storage"
)

// TestGoPlugin_MethodSymbol_GetsReceiverContainer
func TestGoPlugin_MethodSymbol_GetsReceiverContainer(t *testing.T) {
	// Given: a Go file with a pointer-receiver method
	source := []byte(`package sample

type Counter struct {
	n int
}

func (c *Counter) Increment() {
	c.n++
}
`)

	p := NewGoPlugin()

	// When: parsing the file
	result, err := p.Parse(context.Background(), "counter.go", source)
	require.NoError(t, err)

	// Then: the method symbol's Container names the receiver type, with the
	// pointer sigil stripped
	method := findSymbol(t, result.Symbols, "Increment")
	assert.Equal(t, storage.KindMethod, method.Kind)
	assert.Equal(t, "Counter", method.Container)
}

// TestGoPlugin_ImportDeclaration_ExtractsGroupedImports
func TestGoPlugin_ImportDeclaration_ExtractsGroupedImports(t *testing.T) {
	// Given: a Go file with a grouped import block including an alias
	source := []byte(`package sample

import (
	"fmt"
	str "strings"
)

func use() {
	fmt.Println(str.ToUpper("x"))
}
`)

	p := NewGoPlugin()

	// When: parsing the file
	result, err := p.Parse(context.Background(), "sample.go", source)
	require.NoError(t, err)

	// Then: both import specs are captured, with the alias on the second
	require.Len(t, result.Imports, 2)
	byPath := make(map[string]storage.ExtractedImport, len(result.Imports))
	for _, imp := range result.Imports {
		byPath[imp.ModulePath] = imp
	}
	require.Contains(t, byPath, "fmt")
	require.Contains(t, byPath, "strings")
	assert.Equal(t, "str", byPath["strings"].Alias)
}

// TestGoPlugin_CallExpression_ResolvesReferenceToLocalSymbol
func TestGoPlugin_CallExpression_ResolvesReferenceToLocalSymbol(t *testing.T) {
	// Given: a Go file where one top-level function calls another defined
	// in the same file
	source := []byte(`package sample

func helper() int {
	return 1
}

func caller() int {
	return helper() + helper()
}
`)

	p := NewGoPlugin()

	// When: parsing the file
	result, err := p.Parse(context.Background(), "sample.go", source)
	require.NoError(t, err)

	// Then: two call references to "helper" are recorded
	var callRefs int
	for _, ref := range result.References {
		if ref.SymbolName == "helper" && ref.Kind == storage.RefCall {
			callRefs++
		}
	}
	assert.Equal(t, 2, callRefs)
}

// TestGoPlugin_SelectorCall_IsNotResolvedAsLocalReference
func TestGoPlugin_SelectorCall_IsNotResolvedAsLocalReference(t *testing.T) {
	// Given: a call through a package selector, which this extractor does
	// not attempt to resolve
	source := []byte(`package sample

import "fmt"

func run() {
	fmt.Println("hi")
}
`)

	p := NewGoPlugin()

	// When: parsing the file
	result, err := p.Parse(context.Background(), "sample.go", source)
	require.NoError(t, err)

	// Then: no reference is emitted for the fmt.Println selector call
	for _, ref := range result.References {
		assert.NotEqual(t, "Println", ref.SymbolName)
	}
}

func findSymbol(t *testing.T, symbols []storage.ExtractedSymbol, name string) storage.ExtractedSymbol {
	t.Helper()
	for _, s := range symbols {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("symbol %q not found among %d symbols", name, len(symbols))
	return storage.ExtractedSymbol{}
}
