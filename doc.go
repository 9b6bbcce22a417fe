// Package capwire resolves capability wiring for Go packages at build time
// and generates the code that makes each wired capability callable on its
// context with no run-time lookup.
//
// # Model
//
// A capability is an interface annotated //capwire:capability. A provider
// is a zero-sized generic struct annotated //capwire:provider whose first
// type parameter is the context; its constraint states what the context
// must offer. A context is a concrete type annotated //capwire:context that
// maps capability keys to providers with //capwire:delegate lines, directly
// or through //capwire:bundle types adopted with //capwire:use.
//
// # Pipeline
//
// capwire operates in three phases:
//
//  1. Index: each Go file is parsed with tree-sitter and its declarations,
//     directives and methods are written to SQLite. Unchanged files are
//     skipped by content hash.
//
//  2. Resolve: every context's delegation table, getters and type slots are
//     computed from the indexed facts. Problems are reported as build-time
//     diagnostics (see the error types in this package) and persisted for
//     [QueryBuilder.Diagnostics].
//
//  3. Generate: when resolution succeeded everywhere, capwire_gen.go is
//     written into each package with the adapter methods, getters, slot
//     aliases and compile-time assertions.
//
// # Usage
//
//	e, err := capwire.New(".capwire/index.db", ".capwire/scripts")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.IndexDirectory(ctx, "path/to/module")
//	out, err := e.Generate(ctx)
//
//	q := e.Query()
//	entry, err := q.ProviderFor("Rectangle", "AreaCalculatorComponent")
package capwire
