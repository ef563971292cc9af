// Package artifact defines the compiled executable units replicated to every
// worker: content-addressed JavaScript programs and the linear memory
// instances that can be shared between them.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
)

// Hash is the content address of a module: the SHA-256 of its source.
type Hash [sha256.Size]byte

// HashOf returns the content address of source.
func HashOf(source string) Hash {
	return Hash(sha256.Sum256([]byte(source)))
}

// ParseHash decodes a hex-encoded hash as produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for logs.
func (h Hash) Short() string {
	return h.String()[:12]
}

// Compare orders hashes bytewise. It returns -1, 0 or +1.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Module is a compiled program. A Module is immutable after Compile and may
// be run concurrently in any number of runtimes.
//
// The source is compiled inside its own function scope: running Program
// yields a function that evaluates the module body once and returns an
// object holding its top-level declarations, listed in Exports. Those
// declarations stay local to the module; only assignments to undeclared
// names or globalThis reach the global scope.
type Module struct {
	Hash    Hash
	Name    string
	Source  string
	Exports []string
	Program *goja.Program
}

// Compile compiles source into a Module addressed by the hash of source.
func Compile(name, source string) (*Module, error) {
	parsed, err := goja.Parse(name, source)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	exports := declarations(parsed)

	prog, err := goja.Compile(name, wrap(source, exports), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Module{
		Hash:    HashOf(source),
		Name:    name,
		Source:  source,
		Exports: exports,
		Program: prog,
	}, nil
}

// wrap encloses source in a function returning its exports. The opening
// shares the first line with source so reported line numbers still match.
func wrap(source string, exports []string) string {
	var b strings.Builder
	b.WriteString("(function () { ")
	b.WriteString(source)
	b.WriteString("\n;return {")
	for i, name := range exports {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", strconv.Quote(name), name)
	}
	b.WriteString("};\n})")
	return b.String()
}

// declarations lists the names bound at the top level of prog, in source
// order. Destructuring patterns are not exported.
func declarations(prog *ast.Program) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	bindings := func(list []*ast.Binding) {
		for _, b := range list {
			if id, ok := b.Target.(*ast.Identifier); ok {
				add(id.Name.String())
			}
		}
	}

	for _, stmt := range prog.Body {
		switch st := stmt.(type) {
		case *ast.FunctionDeclaration:
			if st.Function.Name != nil {
				add(st.Function.Name.Name.String())
			}
		case *ast.ClassDeclaration:
			if st.Class.Name != nil {
				add(st.Class.Name.Name.String())
			}
		case *ast.VariableStatement:
			bindings(st.List)
		case *ast.LexicalDeclaration:
			bindings(st.List)
		}
	}
	return names
}
