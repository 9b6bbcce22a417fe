package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jward/capwire"
	"github.com/jward/capwire/internal/config"
	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/gen"
	"github.com/jward/capwire/internal/logging"
	"github.com/jward/capwire/internal/watch"
)

var flagForce bool

var generateCmd = &cobra.Command{
	Use:   "generate [path]",
	Short: "Resolve wiring and write capwire_gen.go files",
	Long: "Indexes the Go packages under path, resolves every context's delegation table and, " +
		"when no diagnostics are reported, writes capwire_gen.go into each package that needs one.",
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Resolve wiring and report diagnostics without writing files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

var flagExplainPath string

var explainCmd = &cobra.Command{
	Use:   "explain [context]",
	Short: "Show the delegation table, getters, slots and diagnostics of a context",
	Long: "Without an argument, lists every resolved context. Context names may be qualified " +
		"by package name (shapes.Rectangle).",
	Args: cobra.MaximumNArgs(1),
	RunE: runExplain,
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Regenerate whenever Go source under path changes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a capwire.toml with default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	generateCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	checkCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	explainCmd.Flags().StringVar(&flagExplainPath, "path", ".", "directory to index before explaining")
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing capwire.toml")
}

// openEngine loads the configuration for targetDir and opens its index.
// An index written by another capwire version is rebuilt.
func openEngine(targetDir string) (*capwire.Engine, *config.Config, error) {
	cfg, err := loadConfig(targetDir)
	if err != nil {
		return nil, nil, err
	}
	if err := initLogging(cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.CheckVersion(capwire.Version); err != nil {
		return nil, nil, err
	}

	dbPath := resolveDBPath(cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("removing database for --force: %w", err)
		}
		logging.Logger.Infow("cleared database", "path", dbPath)
	}
	_, statErr := os.Stat(dbPath)
	existed := statErr == nil

	engine, err := capwire.New(dbPath, cfg.ScriptsDir(), capwire.WithConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	if existed && engine.Stale() {
		logging.Logger.Infow("index built by another capwire version, rebuilding", "path", dbPath)
		engine.Close()
		if err := os.Remove(dbPath); err != nil {
			return nil, nil, fmt.Errorf("removing stale database: %w", err)
		}
		if engine, err = capwire.New(dbPath, cfg.ScriptsDir(), capwire.WithConfig(cfg)); err != nil {
			return nil, nil, fmt.Errorf("creating engine: %w", err)
		}
	}
	return engine, cfg, nil
}

func countContexts(res *capwire.Result) (contexts, failed int) {
	for _, pr := range res.Packages {
		for _, cr := range pr.Contexts {
			contexts++
			if cr.Failed {
				failed++
			}
		}
	}
	return contexts, failed
}

func runGenerate(cmd *cobra.Command, args []string) error {
	start := time.Now()
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("generate", err)
	}
	engine, _, err := openEngine(targetDir)
	if err != nil {
		return outputError("generate", err)
	}
	defer engine.Close()

	out, err := generate(cmd.Context(), engine, targetDir)
	if err != nil {
		if out != nil && out.Result.Err() != nil {
			return outputDiagnostics("generate", out.Result.Diagnostics.Reports(), err)
		}
		return outputError("generate", err)
	}
	logging.Logger.Infow("generate finished", "dir", targetDir, "elapsed", time.Since(start).Round(time.Millisecond))
	return outputResult(CLIResult{Command: "generate", Results: generateToCLI(out)})
}

func generate(ctx context.Context, engine *capwire.Engine, targetDir string) (*capwire.GenerateResult, error) {
	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		return nil, fmt.Errorf("indexing: %w", err)
	}
	return engine.Generate(ctx)
}

func generateToCLI(out *capwire.GenerateResult) CLIGenerate {
	contexts, _ := countContexts(out.Result)
	return CLIGenerate{
		Written:   out.Written,
		Removed:   out.Removed,
		Unchanged: len(out.Unchanged),
		Contexts:  contexts,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("check", err)
	}
	engine, _, err := openEngine(targetDir)
	if err != nil {
		return outputError("check", err)
	}
	defer engine.Close()

	ctx := cmd.Context()
	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		return outputError("check", fmt.Errorf("indexing: %w", err))
	}
	res, err := engine.Resolve(ctx)
	if err != nil {
		return outputError("check", err)
	}
	if err := res.Err(); err != nil {
		return outputDiagnostics("check", res.Diagnostics.Reports(), err)
	}

	contexts, _ := countContexts(res)
	entries, err := engine.Store().AllEntries()
	if err != nil {
		return outputError("check", err)
	}
	return outputResult(CLIResult{Command: "check", Results: CLICheck{
		Packages: len(res.Packages),
		Contexts: contexts,
		Entries:  len(entries),
	}})
}

func runExplain(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir([]string{flagExplainPath})
	if err != nil {
		return outputError("explain", err)
	}
	engine, _, err := openEngine(targetDir)
	if err != nil {
		return outputError("explain", err)
	}
	defer engine.Close()

	ctx := cmd.Context()
	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		return outputError("explain", fmt.Errorf("indexing: %w", err))
	}
	if _, err := engine.Resolve(ctx); err != nil {
		return outputError("explain", err)
	}

	q := engine.Query()
	if len(args) == 0 {
		names, err := q.Contexts()
		if err != nil {
			return outputError("explain", err)
		}
		return outputResult(CLIResult{Command: "explain", Results: names})
	}

	x, err := explain(q, args[0])
	if err != nil {
		return outputError("explain", err)
	}
	return outputResult(CLIResult{Command: "explain", Results: x})
}

func explain(q *capwire.QueryBuilder, name string) (CLIExplain, error) {
	x := CLIExplain{
		Context: name,
		Entries: []CLIEntry{},
		Getters: []CLIGetter{},
		Slots:   []CLISlot{},
	}
	entries, err := q.DelegationTable(name)
	if err != nil {
		return x, err
	}
	for _, e := range entries {
		x.Entries = append(x.Entries, entryToCLI(e))
	}
	getters, err := q.Getters(name)
	if err != nil {
		return x, err
	}
	for _, g := range getters {
		x.Getters = append(x.Getters, getterToCLI(g))
	}
	slots, err := q.Slots(name)
	if err != nil {
		return x, err
	}
	for _, s := range slots {
		x.Slots = append(x.Slots, slotToCLI(s))
	}
	diags, err := q.Diagnostics(name)
	if err != nil {
		return x, err
	}
	for _, d := range diags {
		x.Diagnostics = append(x.Diagnostics, diagnosticToReport(d))
	}
	if len(x.Entries) == 0 && len(x.Diagnostics) == 0 && len(x.Getters) == 0 {
		return x, fmt.Errorf("unknown context %q", name)
	}
	return x, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("watch", err)
	}
	engine, cfg, err := openEngine(targetDir)
	if err != nil {
		return outputError("watch", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Callbacks may overlap when a burst outlasts a regeneration.
	var mu sync.Mutex
	regenerate := func(ctx context.Context, paths []string) error {
		mu.Lock()
		defer mu.Unlock()
		out, err := generate(ctx, engine, targetDir)
		if err != nil {
			for _, d := range diag.Errors(err) {
				pterm.Warning.Println(diag.Describe(d).Message)
			}
			return nil
		}
		if len(out.Written) > 0 || len(out.Removed) > 0 {
			pterm.Success.Printf("regenerated %d file(s), removed %d\n", len(out.Written), len(out.Removed))
		}
		return nil
	}

	if err := regenerate(ctx, nil); err != nil {
		return outputError("watch", err)
	}

	w, err := watch.New(targetDir, regenerate,
		watch.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
		watch.WithSkipDir(cfg.Excluded),
		watch.WithSkipFile(gen.IsGenerated),
	)
	if err != nil {
		return outputError("watch", err)
	}
	pterm.Info.Printf("watching %s (Ctrl+C to stop)\n", targetDir)
	return w.Run(ctx)
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("init", err)
	}
	path, err := config.WriteDefault(targetDir, flagForce)
	if err != nil {
		return outputError("init", err)
	}
	if flagFormat == "text" {
		pterm.Success.Printf("wrote %s\n", path)
		return nil
	}
	return outputResult(CLIResult{Command: "init", Results: path})
}
