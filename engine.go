package capwire

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/jward/capwire/internal/config"
	"github.com/jward/capwire/internal/extract"
	"github.com/jward/capwire/internal/gen"
	"github.com/jward/capwire/internal/logging"
	"github.com/jward/capwire/internal/resolve"
	"github.com/jward/capwire/internal/runtime"
	"github.com/jward/capwire/internal/store"
)

// Engine orchestrates the capwire pipeline: file discovery, change
// detection, extraction, resolution, generation and query access.
type Engine struct {
	store      *store.Store
	runtime    *runtime.Runtime
	resolver   *resolve.Resolver
	scriptsDir string
	scriptsFS  fs.FS
	predicate  resolve.Predicate
	exclude    func(name string) bool

	// workers bounds the extraction pool; 0 means one per CPU.
	workers int
	// useParallel enables the parallel extraction pipeline.
	useParallel bool

	// modules caches the go.mod found for a directory.
	modules map[string]module
}

type module struct {
	dir  string
	path string
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallel controls parallel extraction. When true (default), IndexFiles
// parses files in a worker pool, with a single writer committing facts to
// SQLite. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithWorkers sets the size of the extraction pool.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithScriptsFS configures the Engine to load @file predicate scripts from
// the given filesystem instead of from scriptsDir on disk.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithPredicate replaces the Risor evaluator for //capwire:where lines.
func WithPredicate(p resolve.Predicate) Option {
	return func(e *Engine) {
		e.predicate = p
	}
}

// WithExclude sets the directory names skipped by IndexDirectory. The
// default skips hidden and underscore directories, vendor, testdata and
// node_modules.
func WithExclude(fn func(name string) bool) Option {
	return func(e *Engine) {
		e.exclude = fn
	}
}

// WithConfig applies the index and resolve settings of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.workers = cfg.Index.Workers
		e.exclude = cfg.Excluded
		e.scriptsDir = cfg.ScriptsDir()
	}
}

// New creates an Engine backed by a SQLite database at dbPath. scriptsDir
// is where predicates written as "@name.risor" are loaded from; it may be
// empty when WithScriptsFS is used or only inline predicates exist.
func New(dbPath string, scriptsDir string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("capwire: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("capwire: migrate: %w", err)
	}

	e := &Engine{
		store:       s,
		scriptsDir:  scriptsDir,
		exclude:     config.Defaults().Excluded,
		useParallel: true,
		modules:     make(map[string]module),
	}
	for _, opt := range opts {
		opt(e)
	}

	var rtOpts []runtime.RuntimeOption
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)
	if e.predicate == nil {
		e.predicate = e.runtime
	}
	e.resolver = resolve.New(resolve.WithPredicate(e.predicate))

	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a new QueryBuilder wrapping the Store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

const versionKey = "capwire_version"

// Stale reports whether the index was built by a different capwire
// version, or never built. Extraction output changes between versions, so
// the caller should delete the database and reindex from scratch.
func (e *Engine) Stale() bool {
	stored, err := e.store.GetMetadata(versionKey)
	if err != nil || stored == "" {
		return true
	}
	return stored != Version
}

func (e *Engine) storeVersion() {
	_ = e.store.SetMetadata(versionKey, Version)
}

// IndexFiles indexes the given file paths. When WithParallel is enabled,
// files are parsed in a worker pool and committed by a single writer.
//
// For each file:
//  1. Skip non-Go, test and generated files
//  2. Skip unchanged files (same content hash)
//  3. Extract declarations, directives and methods
//  4. Attach the import path from the enclosing go.mod
//  5. Replace the file's facts in one transaction
//
// Errors on individual files are collected; processing continues.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	defer e.storeVersion()
	if e.useParallel {
		return e.IndexFilesParallel(ctx, paths)
	}
	return e.indexFilesSerial(ctx, paths)
}

func (e *Engine) indexFilesSerial(ctx context.Context, paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := e.indexFile(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("index %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

func (e *Engine) indexFile(ctx context.Context, path string) error {
	src, skip, err := e.readChanged(path)
	if err != nil || skip {
		return err
	}
	facts, err := extract.Extract(ctx, path, src)
	if err != nil {
		return err
	}
	return e.commit(facts)
}

// indexable reports whether path is a Go file capwire reads.
func indexable(path string) bool {
	if _, ok := runtime.LanguageForFile(path); !ok {
		return false
	}
	return !strings.HasSuffix(path, "_test.go") &&
		!gen.IsGenerated(path)
}

// readChanged reads path and reports skip when it is not indexable or its
// content hash matches what is stored.
func (e *Engine) readChanged(path string) ([]byte, bool, error) {
	if !indexable(path) {
		return nil, true, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	existing, err := e.store.FileByPath(path)
	if err != nil {
		return nil, false, fmt.Errorf("lookup file: %w", err)
	}
	if existing != nil && existing.Hash == extract.Hash(src) {
		return nil, true, nil
	}
	return src, false, nil
}

func (e *Engine) commit(facts *store.FileFacts) error {
	facts.File.ImportPath = e.importPath(facts.File.Dir)
	if _, err := e.store.CommitFacts(facts); err != nil {
		return err
	}
	logging.Logger.Debugw("indexed file",
		"path", facts.File.Path,
		"package", facts.File.Package,
		"declarations", len(facts.Declarations),
		"methods", len(facts.Methods))
	return nil
}

// importPath derives the import path of dir from the nearest go.mod. It
// returns "" outside a module, which limits dir to same-package wiring.
func (e *Engine) importPath(dir string) string {
	mod, ok := e.findModule(dir)
	if !ok {
		return ""
	}
	rel, err := filepath.Rel(mod.dir, dir)
	if err != nil {
		return ""
	}
	if rel == "." {
		return mod.path
	}
	return mod.path + "/" + filepath.ToSlash(rel)
}

func (e *Engine) findModule(dir string) (module, bool) {
	if mod, ok := e.modules[dir]; ok {
		return mod, mod.path != ""
	}
	var mod module
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err == nil {
		if p := modfile.ModulePath(data); p != "" {
			mod = module{dir: dir, path: p}
		}
	} else if parent := filepath.Dir(dir); parent != dir {
		mod, _ = e.findModule(parent)
	}
	e.modules[dir] = mod
	return mod, mod.path != ""
}

// IndexDirectory walks root and indexes every Go file that is not a test or
// generated file. If root is inside a git repository, git ls-files is used
// so that .gitignore is respected; otherwise the filesystem is walked.
// Facts of files under root that no longer exist are removed.
func (e *Engine) IndexDirectory(ctx context.Context, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	paths, err := e.gitListFiles(root)
	if err != nil {
		paths, err = e.walkListFiles(root)
		if err != nil {
			return err
		}
	}
	if err := e.prune(root, paths); err != nil {
		return err
	}
	return e.IndexFiles(ctx, paths)
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) Go files under root.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard", "--", "*.go")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || e.excludedRel(filepath.Dir(line)) {
			continue
		}
		abs := filepath.Join(root, line)
		if !indexable(abs) {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue // deleted but still tracked
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

// excludedRel reports whether any directory of a root-relative path is
// excluded.
func (e *Engine) excludedRel(dir string) bool {
	if dir == "." {
		return false
	}
	for _, name := range strings.Split(filepath.ToSlash(dir), "/") {
		if e.exclude(name) {
			return true
		}
	}
	return false
}

// walkListFiles discovers files by walking the filesystem, used when git is
// not available.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && e.exclude(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if indexable(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// prune deletes the facts of indexed files under root that are not in
// keep.
func (e *Engine) prune(root string, keep []string) error {
	files, err := e.store.AllFiles()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	live := make(map[string]bool, len(keep))
	for _, p := range keep {
		live[p] = true
	}
	prefix := root + string(filepath.Separator)
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) || live[f.Path] {
			continue
		}
		if err := e.store.DeleteFileData(f.ID); err != nil {
			return fmt.Errorf("delete %s: %w", f.Path, err)
		}
		logging.Logger.Debugw("removed file from index", "path", f.Path)
	}
	return nil
}

// Resolve computes the delegation tables, getters, slots and diagnostics
// of every indexed context and persists them for the query API. The
// returned result carries the diagnostics; a non-nil error means the
// pipeline itself failed.
func (e *Engine) Resolve(ctx context.Context) (*Result, error) {
	_, res, err := e.resolve(ctx)
	return res, err
}

func (e *Engine) resolve(ctx context.Context) (*resolve.Universe, *Result, error) {
	facts, err := e.store.LoadFacts()
	if err != nil {
		return nil, nil, fmt.Errorf("capwire: %w", err)
	}
	u := resolve.NewUniverse(facts)
	res := e.resolver.Resolve(ctx, u)
	if err := e.store.ReplaceResolution(res.Rows()); err != nil {
		return nil, nil, fmt.Errorf("capwire: %w", err)
	}
	return u, res, nil
}

// Check resolves and returns the diagnostics as an error, nil when every
// context resolves.
func (e *Engine) Check(ctx context.Context) error {
	res, err := e.Resolve(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// GenerateResult lists what Generate changed on disk.
type GenerateResult struct {
	Result    *Result
	Written   []string
	Removed   []string
	Unchanged []string
}

// Generate resolves and, when there are no diagnostics, writes
// capwire_gen.go into every indexed package that needs one and removes
// stale generated files from packages that no longer do. With diagnostics
// nothing is written and the diagnostics are returned as the error.
func (e *Engine) Generate(ctx context.Context) (*GenerateResult, error) {
	u, res, err := e.resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := &GenerateResult{Result: res}
	if err := res.Err(); err != nil {
		return out, err
	}

	byPkg := make(map[*resolve.Package]*resolve.PackageResult, len(res.Packages))
	for _, pr := range res.Packages {
		byPkg[pr.Package] = pr
	}
	for _, pkg := range u.Packages {
		src, err := gen.File(pkg, byPkg[pkg])
		if err != nil {
			return out, fmt.Errorf("capwire: generate %s: %w", pkg.Dir, err)
		}
		changed, err := gen.Write(pkg.Dir, src)
		if err != nil {
			return out, fmt.Errorf("capwire: %w", err)
		}
		target := filepath.Join(pkg.Dir, gen.FileName)
		switch {
		case !changed && src != nil:
			out.Unchanged = append(out.Unchanged, target)
		case changed && src == nil:
			out.Removed = append(out.Removed, target)
		case changed:
			out.Written = append(out.Written, target)
		}
	}
	sort.Strings(out.Written)
	sort.Strings(out.Removed)
	sort.Strings(out.Unchanged)
	return out, nil
}
