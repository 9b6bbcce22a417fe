package resolve

import (
	"strings"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/directive"
	"github.com/jward/capwire/internal/store"
)

// Entry sources.
const (
	SourceDirect       = "direct"
	SourceBundlePrefix = "bundle:"
)

// Getter kinds.
const (
	GetterFromMethod    = "method"
	GetterFromDirective = "directive"
	GetterFromField     = "field"
)

// Instance is a provider applied to a context: its slot arguments are
// concrete types and its inner-provider arguments are instances.
type Instance struct {
	Provider   *Provider
	Capability *Capability
	Key        string
	Args       []InstanceArg
}

// InstanceArg is one type argument after the context argument.
type InstanceArg struct {
	Param ProviderParam
	Type  string    // slot arguments
	Inner *Instance // inner-provider arguments
}

// Qualifier renders a name declared in pkg as seen from the generated file.
type Qualifier func(pkg *Package, name string) string

// Local is the Qualifier for code living in the provider's own package.
func Local(_ *Package, name string) string { return name }

// Format renders the instantiation, e.g. ScaledArea[Rectangle, float64,
// RectangleArea[Rectangle]].
func (in *Instance) Format(ctxType string, q Qualifier) string {
	args := []string{ctxType}
	for _, a := range in.Args {
		if a.Inner != nil {
			args = append(args, a.Inner.Format(ctxType, q))
		} else {
			args = append(args, a.Type)
		}
	}
	return q(in.Provider.Pkg, in.Provider.Name) + "[" + strings.Join(args, ", ") + "]"
}

// Walk visits in and every nested instance, outermost first.
func (in *Instance) Walk(fn func(*Instance)) {
	fn(in)
	for _, a := range in.Args {
		if a.Inner != nil {
			a.Inner.Walk(fn)
		}
	}
}

// Binding is one resolved row of a context's delegation table.
type Binding struct {
	Key        string
	Capability *Capability
	Expr       directive.Expr
	Source     string
	Instance   *Instance
}

// Getter is a resolved accessor for a named value.
type Getter struct {
	Value    string
	Method   string
	Type     string
	Accessor string // selector path for directive and field getters
	Kind     string

	// Scope is the package Type is written in, with that file's imports.
	Scope   *Package
	Imports []store.Import
}

// SlotBinding is a resolved type slot.
type SlotBinding struct {
	Name   string
	Type   string
	Import string
	Origin string
}

// ContextResult is everything resolved for one context.
type ContextResult struct {
	Context  *Context
	Bindings []*Binding
	Getters  []Getter
	Slots    []SlotBinding
	Failed   bool
}

// CtxType is the type argument passed as the context: the context name,
// or a pointer to it for pointer-receiver contexts.
func (cr *ContextResult) CtxType() string {
	if cr.Context.Pointer {
		return "*" + cr.Context.Name
	}
	return cr.Context.Name
}

// Binding returns the binding for key, or nil.
func (cr *ContextResult) Binding(key string) *Binding {
	for _, b := range cr.Bindings {
		if b.Key == key {
			return b
		}
	}
	return nil
}

// Slot returns the bound type of a slot.
func (cr *ContextResult) Slot(name string) (string, bool) {
	for _, s := range cr.Slots {
		if s.Name == name {
			return s.Type, true
		}
	}
	return "", false
}

// PackageResult groups the contexts of one package.
type PackageResult struct {
	Package  *Package
	Contexts []*ContextResult
}

// Result is the outcome of resolving a universe.
type Result struct {
	Packages    []*PackageResult
	Diagnostics diag.List
}

// Err returns the diagnostics as an error, or nil when resolution
// succeeded everywhere.
func (r *Result) Err() error {
	return r.Diagnostics.Err()
}

// Context looks up a context result by name, optionally qualified by
// package name ("shapes.Rectangle").
func (r *Result) Context(name string) *ContextResult {
	qual, local := splitQualified(name)
	for _, pr := range r.Packages {
		if qual != "" && pr.Package.Name != qual {
			continue
		}
		for _, cr := range pr.Contexts {
			if cr.Context.Name == local {
				return cr
			}
		}
	}
	return nil
}

// Rows flattens the result into store rows.
func (r *Result) Rows() *store.Resolution {
	res := &store.Resolution{}
	for _, pr := range r.Packages {
		pkg := pr.Package.Name
		for _, cr := range pr.Contexts {
			ctx := cr.Context.Name
			for _, b := range cr.Bindings {
				e := store.DelegationEntry{
					Package:  pkg,
					Context:  ctx,
					Key:      b.Key,
					Provider: b.Expr.String(),
					Source:   b.Source,
				}
				if b.Instance != nil {
					e.Instantiation = b.Instance.Format(cr.CtxType(), Local)
				}
				res.Entries = append(res.Entries, e)
			}
			for _, g := range cr.Getters {
				res.Getters = append(res.Getters, store.GetterBinding{
					Package:  pkg,
					Context:  ctx,
					Value:    g.Value,
					Type:     g.Type,
					Accessor: g.Accessor,
					Kind:     g.Kind,
				})
			}
			for _, s := range cr.Slots {
				res.Slots = append(res.Slots, store.SlotBinding{
					Package: pkg,
					Context: ctx,
					Slot:    s.Name,
					Type:    s.Type,
					Origin:  s.Origin,
				})
			}
		}
	}
	for _, rep := range r.Diagnostics.Reports() {
		res.Diagnostics = append(res.Diagnostics, store.Diagnostic{
			Code:       rep.Code,
			Context:    rep.Context,
			Subject:    rep.Subject,
			Message:    rep.Message,
			Candidates: rep.Candidates,
			Hints:      rep.Hints,
			File:       rep.File,
			Line:       rep.Line,
			Col:        rep.Col,
		})
	}
	return res
}
