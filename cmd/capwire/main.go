package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/capwire"
	"github.com/jward/capwire/internal/config"
	"github.com/jward/capwire/internal/logging"
)

var (
	flagDB      string
	flagFormat  string
	flagVerbose int
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "capwire",
	Short: "Compile-time capability wiring for Go",
	Long: "capwire resolves //capwire: delegation directives at build time and generates " +
		"capwire_gen.go adapters, failing the build step when wiring is missing or ambiguous.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: index.database from capwire.toml)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the capwire version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), capwire.Version)
	},
}

// resolveTargetDir returns the absolute path of the directory to work on.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// loadConfig reads the configuration for targetDir. Without a capwire.toml,
// relative paths are anchored at the repository root.
func loadConfig(targetDir string) (*config.Config, error) {
	cfg, err := config.Load(targetDir)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Root = findRepoRoot(targetDir)
	}
	return cfg, nil
}

// resolveDBPath returns the database path from the --db flag or the config.
func resolveDBPath(cfg *config.Config) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(cfg.Root, flagDB)
	}
	return cfg.DatabasePath()
}

// initLogging configures the global logger: -v flags win over log.level.
func initLogging(cfg *config.Config) error {
	level := logging.ParseLevel(cfg.Log.Level)
	if flagVerbose > 0 {
		level = logging.VerbosityToLevel(flagVerbose)
	}
	return logging.Initialize(cfg.Log.JSON, level)
}
