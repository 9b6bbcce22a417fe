package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pterm/pterm"

	"github.com/jward/capwire"
)

// formatDiagnosticsText writes one block per diagnostic:
//
//	shapes/shelf.go:3:1: unresolved-capability: context Shelf: no provider wired for AreaCalculatorComponent
//	    candidates: ...
//	    hint: add //capwire:delegate ...
func formatDiagnosticsText(w io.Writer, reports []capwire.Report) {
	for _, r := range reports {
		pos := r.File
		if r.Line > 0 {
			pos = fmt.Sprintf("%s:%d:%d", r.File, r.Line, r.Col)
		}
		if pos != "" {
			pos += ": "
		}
		fmt.Fprintf(w, "%s%s: %s\n", pos, pterm.Red(r.Code), r.Message)
		if len(r.Candidates) > 0 {
			fmt.Fprintf(w, "    %s %s\n", pterm.Gray("candidates:"), strings.Join(r.Candidates, ", "))
		}
		for _, h := range r.Hints {
			fmt.Fprintf(w, "    %s %s\n", pterm.Yellow("hint:"), h)
		}
	}
	fmt.Fprintf(w, "%d diagnostic(s)\n", len(reports))
}

// formatGenerateText lists written and removed files.
func formatGenerateText(w io.Writer, g CLIGenerate) {
	for _, p := range g.Written {
		fmt.Fprintf(w, "%s %s\n", pterm.Green("wrote"), p)
	}
	for _, p := range g.Removed {
		fmt.Fprintf(w, "%s %s\n", pterm.Yellow("removed"), p)
	}
	fmt.Fprintf(w, "%d context(s) wired, %d file(s) written, %d removed, %d unchanged\n",
		g.Contexts, len(g.Written), len(g.Removed), g.Unchanged)
}

// formatCheckText prints the success summary of check.
func formatCheckText(w io.Writer, c CLICheck) {
	fmt.Fprintf(w, "%s %d context(s) in %d package(s), %d delegation entries\n",
		pterm.Green("ok"), c.Contexts, c.Packages, c.Entries)
}

// formatExplainText formats CLIExplain as aligned sections.
func formatExplainText(w io.Writer, x CLIExplain) {
	fmt.Fprintf(w, "Context: %s\n\n", x.Context)

	if len(x.Entries) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tPROVIDER\tSOURCE\tINSTANTIATION")
		for _, e := range x.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Key, e.Provider, e.Source, e.Instantiation)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(x.Getters) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "VALUE\tTYPE\tACCESSOR\tKIND")
		for _, g := range x.Getters {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.Value, g.Type, g.Accessor, g.Kind)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(x.Slots) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tTYPE\tORIGIN")
		for _, s := range x.Slots {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Slot, s.Type, s.Origin)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(x.Diagnostics) > 0 {
		formatDiagnosticsText(w, x.Diagnostics)
	}
}

// formatContextsText prints one context name per line.
func formatContextsText(w io.Writer, names []string) {
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case CLIGenerate:
		formatGenerateText(w, v)
	case CLICheck:
		formatCheckText(w, v)
	case CLIExplain:
		formatExplainText(w, v)
	case []string:
		formatContextsText(w, v)
	case string:
		fmt.Fprintln(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	if len(result.Diagnostics) > 0 {
		formatDiagnosticsText(w, result.Diagnostics)
	}
	return nil
}

// outputResult writes result in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "%s %s\n", pterm.Red("Error:"), err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// outputDiagnostics reports a failed resolution and returns the error that
// makes the process exit non-zero.
func outputDiagnostics(command string, reports []capwire.Report, err error) error {
	errorHandled = true
	result := CLIResult{Command: command, Diagnostics: reports, Error: err.Error()}
	if flagFormat == "text" {
		formatDiagnosticsText(os.Stderr, reports)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
