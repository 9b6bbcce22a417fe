// Package diag defines the build-time diagnostics reported by the capwire
// resolver. Every diagnostic names the offending context together with the
// capability key, value or slot it concerns, so a failed build can be fixed
// at the wiring site. Hints are attached with cockroachdb/errors.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Position is a source location in an indexed file.
type Position struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

func (p Position) String() string {
	if p.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Diagnostic is implemented by every build-time failure.
type Diagnostic interface {
	error
	Code() string
	ContextName() string
	Subject() string
	Candidates() []string
	Position() Position
}

// UnresolvedCapabilityError reports a required (context, key) pair with no
// delegation entry.
type UnresolvedCapabilityError struct {
	Context    string
	Key        string
	RequiredBy string // provider that needs the key; empty when the context requires it itself
	Pos        Position
}

func (e *UnresolvedCapabilityError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("%s: unresolved capability %s (required by %s)", e.Context, e.Key, e.RequiredBy)
	}
	return fmt.Sprintf("%s: unresolved capability %s", e.Context, e.Key)
}

func (e *UnresolvedCapabilityError) Code() string         { return "unresolved-capability" }
func (e *UnresolvedCapabilityError) ContextName() string  { return e.Context }
func (e *UnresolvedCapabilityError) Subject() string      { return e.Key }
func (e *UnresolvedCapabilityError) Candidates() []string { return nil }
func (e *UnresolvedCapabilityError) Position() Position   { return e.Pos }

// AmbiguousProviderError reports several entries competing for one key
// with no precedence winner.
type AmbiguousProviderError struct {
	Context string
	Key     string
	Choices []string
	Pos     Position
}

func (e *AmbiguousProviderError) Error() string {
	return fmt.Sprintf("%s: ambiguous provider for %s: %s", e.Context, e.Key, strings.Join(e.Choices, ", "))
}

func (e *AmbiguousProviderError) Code() string         { return "ambiguous-provider" }
func (e *AmbiguousProviderError) ContextName() string  { return e.Context }
func (e *AmbiguousProviderError) Subject() string      { return e.Key }
func (e *AmbiguousProviderError) Candidates() []string { return e.Choices }
func (e *AmbiguousProviderError) Position() Position   { return e.Pos }

// MissingAccessorError reports a named value no accessor can serve.
type MissingAccessorError struct {
	Context string
	Value   string
	Type    string
	Detail  string
	Pos     Position
}

func (e *MissingAccessorError) Error() string {
	msg := fmt.Sprintf("%s: missing accessor for %s %s", e.Context, e.Value, e.Type)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *MissingAccessorError) Code() string         { return "missing-accessor" }
func (e *MissingAccessorError) ContextName() string  { return e.Context }
func (e *MissingAccessorError) Subject() string      { return e.Value }
func (e *MissingAccessorError) Candidates() []string { return nil }
func (e *MissingAccessorError) Position() Position   { return e.Pos }

// TypeSlotConflictError reports one slot bound to different concrete types.
type TypeSlotConflictError struct {
	Context string
	Slot    string
	Types   []string
	Origins []string
	Pos     Position
}

func (e *TypeSlotConflictError) Error() string {
	parts := make([]string, len(e.Types))
	for i, t := range e.Types {
		if i < len(e.Origins) {
			parts[i] = fmt.Sprintf("%s (from %s)", t, e.Origins[i])
		} else {
			parts[i] = t
		}
	}
	return fmt.Sprintf("%s: type slot %s bound to conflicting types: %s", e.Context, e.Slot, strings.Join(parts, " vs "))
}

func (e *TypeSlotConflictError) Code() string         { return "type-slot-conflict" }
func (e *TypeSlotConflictError) ContextName() string  { return e.Context }
func (e *TypeSlotConflictError) Subject() string      { return e.Slot }
func (e *TypeSlotConflictError) Candidates() []string { return e.Types }
func (e *TypeSlotConflictError) Position() Position   { return e.Pos }

// UnsatisfiedRequirementError reports a bound provider whose requirement
// predicate the context does not meet.
type UnsatisfiedRequirementError struct {
	Context     string
	Key         string
	Provider    string
	Requirement string
	Detail      string
	Pos         Position
}

func (e *UnsatisfiedRequirementError) Error() string {
	msg := fmt.Sprintf("%s: provider %s for %s requires %s", e.Context, e.Provider, e.Key, e.Requirement)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *UnsatisfiedRequirementError) Code() string         { return "unsatisfied-requirement" }
func (e *UnsatisfiedRequirementError) ContextName() string  { return e.Context }
func (e *UnsatisfiedRequirementError) Subject() string      { return e.Key }
func (e *UnsatisfiedRequirementError) Candidates() []string { return nil }
func (e *UnsatisfiedRequirementError) Position() Position   { return e.Pos }

// CyclicDependencyError reports a dependency cycle between capabilities or
// bundles.
type CyclicDependencyError struct {
	Context string
	Cycle   []string
	Pos     Position
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: dependency cycle %s", e.Context, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Code() string        { return "cyclic-dependency" }
func (e *CyclicDependencyError) ContextName() string { return e.Context }
func (e *CyclicDependencyError) Subject() string {
	if len(e.Cycle) == 0 {
		return ""
	}
	return e.Cycle[0]
}
func (e *CyclicDependencyError) Candidates() []string { return e.Cycle }
func (e *CyclicDependencyError) Position() Position   { return e.Pos }

// UndeclaredError reports a reference to a capability, provider, bundle or
// context that no indexed file declares.
type UndeclaredError struct {
	Context string
	Kind    string
	Name    string
	Pos     Position
}

func (e *UndeclaredError) Error() string {
	return fmt.Sprintf("%s: undeclared %s %s", e.Context, e.Kind, e.Name)
}

func (e *UndeclaredError) Code() string         { return "undeclared" }
func (e *UndeclaredError) ContextName() string  { return e.Context }
func (e *UndeclaredError) Subject() string      { return e.Name }
func (e *UndeclaredError) Candidates() []string { return nil }
func (e *UndeclaredError) Position() Position   { return e.Pos }

// DuplicateDeclarationError reports a name declared more than once where
// exactly one declaration may exist.
type DuplicateDeclarationError struct {
	Context string
	Kind    string
	Name    string
	Sites   []string
	Pos     Position
}

func (e *DuplicateDeclarationError) Error() string {
	return fmt.Sprintf("%s: %s %s declared more than once: %s", e.Context, e.Kind, e.Name, strings.Join(e.Sites, ", "))
}

func (e *DuplicateDeclarationError) Code() string         { return "duplicate-declaration" }
func (e *DuplicateDeclarationError) ContextName() string  { return e.Context }
func (e *DuplicateDeclarationError) Subject() string      { return e.Name }
func (e *DuplicateDeclarationError) Candidates() []string { return e.Sites }
func (e *DuplicateDeclarationError) Position() Position   { return e.Pos }

// ProviderMismatchError reports a delegation entry naming a provider that
// does not implement the entry's capability key.
type ProviderMismatchError struct {
	Context    string
	Key        string
	Provider   string
	Implements string
	Pos        Position
}

func (e *ProviderMismatchError) Error() string {
	if e.Implements == "" {
		return fmt.Sprintf("%s: %s is not a provider (wired for %s)", e.Context, e.Provider, e.Key)
	}
	return fmt.Sprintf("%s: provider %s implements %s, not %s", e.Context, e.Provider, e.Implements, e.Key)
}

func (e *ProviderMismatchError) Code() string         { return "provider-mismatch" }
func (e *ProviderMismatchError) ContextName() string  { return e.Context }
func (e *ProviderMismatchError) Subject() string      { return e.Key }
func (e *ProviderMismatchError) Candidates() []string { return []string{e.Provider} }
func (e *ProviderMismatchError) Position() Position   { return e.Pos }

// InvalidDirectiveError reports a //capwire: line that cannot be parsed or
// does not belong on the declaration it annotates.
type InvalidDirectiveError struct {
	Decl   string
	Text   string
	Detail string
	Pos    Position
}

func (e *InvalidDirectiveError) Error() string {
	return fmt.Sprintf("%s: invalid directive %q: %s", e.Decl, e.Text, e.Detail)
}

func (e *InvalidDirectiveError) Code() string         { return "invalid-directive" }
func (e *InvalidDirectiveError) ContextName() string  { return e.Decl }
func (e *InvalidDirectiveError) Subject() string      { return e.Text }
func (e *InvalidDirectiveError) Candidates() []string { return nil }
func (e *InvalidDirectiveError) Position() Position   { return e.Pos }

// Report is the serialisable form of a diagnostic.
type Report struct {
	Code       string   `json:"code"`
	Context    string   `json:"context,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Message    string   `json:"message"`
	Hints      []string `json:"hints,omitempty"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Col        int      `json:"col,omitempty"`
}

// Describe flattens err into a Report. Errors that are not diagnostics get
// the code "error".
func Describe(err error) Report {
	r := Report{Code: "error", Message: err.Error(), Hints: errors.GetAllHints(err)}
	var d Diagnostic
	if errors.As(err, &d) {
		pos := d.Position()
		r.Code = d.Code()
		r.Context = d.ContextName()
		r.Subject = d.Subject()
		r.Candidates = d.Candidates()
		r.Message = d.Error()
		r.File, r.Line, r.Col = pos.File, pos.Line, pos.Col
	}
	return r
}

// Hint wraps d with a user-facing hint.
func Hint(d Diagnostic, format string, args ...any) error {
	return errors.WithHintf(d, format, args...)
}

// List is an ordered collection of diagnostics. It is itself an error so a
// failed resolution can be returned through ordinary error paths.
type List []error

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no diagnostics"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
}

// Unwrap exposes the individual diagnostics to errors.Is and errors.As.
func (l List) Unwrap() []error { return l }

// Sort orders diagnostics by position, then code, context and subject.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := Describe(l[i]), Describe(l[j])
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Context != b.Context {
			return a.Context < b.Context
		}
		return a.Subject < b.Subject
	})
}

// Err returns nil for an empty list and the sorted list otherwise.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	l.Sort()
	return l
}

// Reports describes every diagnostic in l.
func (l List) Reports() []Report {
	out := make([]Report, 0, len(l))
	for _, err := range l {
		out = append(out, Describe(err))
	}
	return out
}

// Errors extracts the diagnostics carried by err, which may be a List, a
// wrapped List or a single error.
func Errors(err error) []error {
	if err == nil {
		return nil
	}
	var l List
	if errors.As(err, &l) {
		return l
	}
	return []error{err}
}
