package main

import "github.com/jward/capwire"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command     string           `json:"command"`
	Results     any              `json:"results,omitempty"`
	Diagnostics []capwire.Report `json:"diagnostics,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// CLIGenerate reports what generate changed on disk.
type CLIGenerate struct {
	Written   []string `json:"written"`
	Removed   []string `json:"removed"`
	Unchanged int      `json:"unchanged"`
	Contexts  int      `json:"contexts"`
}

// CLICheck summarises a successful check.
type CLICheck struct {
	Packages int `json:"packages"`
	Contexts int `json:"contexts"`
	Entries  int `json:"entries"`
}

// CLIEntry is a JSON-friendly delegation entry.
type CLIEntry struct {
	Package       string `json:"package"`
	Context       string `json:"context"`
	Key           string `json:"key"`
	Provider      string `json:"provider"`
	Source        string `json:"source"`
	Instantiation string `json:"instantiation,omitempty"`
}

// CLIGetter is a JSON-friendly getter binding.
type CLIGetter struct {
	Value    string `json:"value"`
	Type     string `json:"type"`
	Accessor string `json:"accessor"`
	Kind     string `json:"kind"`
}

// CLISlot is a JSON-friendly type-slot binding.
type CLISlot struct {
	Slot   string `json:"slot"`
	Type   string `json:"type"`
	Origin string `json:"origin,omitempty"`
}

// CLIExplain is everything resolved for one context.
type CLIExplain struct {
	Context     string           `json:"context"`
	Entries     []CLIEntry       `json:"entries"`
	Getters     []CLIGetter      `json:"getters"`
	Slots       []CLISlot        `json:"slots"`
	Diagnostics []capwire.Report `json:"diagnostics,omitempty"`
}

func entryToCLI(e *capwire.DelegationEntry) CLIEntry {
	return CLIEntry{
		Package:       e.Package,
		Context:       e.Context,
		Key:           e.Key,
		Provider:      e.Provider,
		Source:        e.Source,
		Instantiation: e.Instantiation,
	}
}

func getterToCLI(g *capwire.GetterBinding) CLIGetter {
	return CLIGetter{Value: g.Value, Type: g.Type, Accessor: g.Accessor, Kind: g.Kind}
}

func slotToCLI(s *capwire.SlotBinding) CLISlot {
	return CLISlot{Slot: s.Slot, Type: s.Type, Origin: s.Origin}
}

func diagnosticToReport(d *capwire.Diagnostic) capwire.Report {
	return capwire.Report{
		Code:       d.Code,
		Context:    d.Context,
		Subject:    d.Subject,
		Message:    d.Message,
		Candidates: d.Candidates,
		Hints:      d.Hints,
		File:       d.File,
		Line:       d.Line,
		Col:        d.Col,
	}
}
