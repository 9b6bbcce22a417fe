package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Env is the view of a context that a provider predicate is evaluated
// against. Types are rendered as Go source expressions after slot
// substitution.
type Env interface {
	ContextName() string
	PackageName() string
	HasField(name string) bool
	FieldType(name string) (string, bool)
	HasMethod(name string) bool
	Slot(name string) (string, bool)
	Wired(key string) bool
}

// Runtime embeds a Risor VM and evaluates //capwire:where predicates with
// host functions that inspect the candidate context.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load predicate scripts from an
// fs.FS instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// NewRuntime creates a Runtime. scriptsDir is the base directory for
// predicates written as "@path/to/script.risor"; it may be empty when only
// inline predicates are used.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{scriptsDir: scriptsDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Eval evaluates a predicate against env and reports whether it holds.
// An expression starting with "@" names a script file whose final
// expression is the result.
func (r *Runtime) Eval(ctx context.Context, expr string, env Env) (bool, error) {
	expr = strings.TrimSpace(expr)
	label := "<where>"
	if path, ok := strings.CutPrefix(expr, "@"); ok {
		src, err := r.LoadScript(path)
		if err != nil {
			return false, err
		}
		expr, label = src, path
	}
	return r.eval(ctx, expr, label, env)
}

func (r *Runtime) eval(ctx context.Context, source, label string, env Env) (bool, error) {
	globals := buildGlobals(env)

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	var opts []risor.Option
	for _, name := range names {
		opts = append(opts, risor.WithGlobal(name, globals[name]))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(names); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return false, fmt.Errorf("runtime: predicate %s: %w", label, err)
	}
	if result == nil {
		return false, nil
	}
	return result.IsTruthy(), nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globalNames []string) importer.Importer {
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on that filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to predicates.
func buildGlobals(env Env) map[string]any {
	return map[string]any{
		"context_name": object.NewString(env.ContextName()),
		"package_name": object.NewString(env.PackageName()),
		"has_field":    makeHasFieldFn(env),
		"field_type":   makeFieldTypeFn(env),
		"has_method":   makeHasMethodFn(env),
		"slot":         makeSlotFn(env),
		"wired":        makeWiredFn(env),
		"log":          makeLogFn(env),
	}
}
