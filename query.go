package capwire

import (
	"fmt"
	"strings"

	"github.com/jward/capwire/internal/store"
)

// QueryBuilder provides read access to the last persisted resolution.
//
// Context names may be qualified by package name ("shapes.Rectangle") to
// disambiguate contexts with the same name in different packages.
type QueryBuilder struct {
	store *store.Store
}

func splitContext(name string) (pkg, ctx string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// ProviderFor returns the delegation entry that resolves key on the
// context, or nil when the context has no entry for it.
func (q *QueryBuilder) ProviderFor(context, key string) (*DelegationEntry, error) {
	entries, err := q.DelegationTable(context)
	if err != nil {
		return nil, fmt.Errorf("provider for: %w", err)
	}
	for _, e := range entries {
		if e.Key == key {
			return e, nil
		}
	}
	return nil, nil
}

// DelegationTable returns every entry of the context, ordered by key.
func (q *QueryBuilder) DelegationTable(context string) ([]*DelegationEntry, error) {
	pkg, name := splitContext(context)
	entries, err := q.store.EntriesByContext(name)
	if err != nil {
		return nil, fmt.Errorf("delegation table: %w", err)
	}
	return filterPackage(entries, pkg, func(e *DelegationEntry) string { return e.Package }), nil
}

// Getters returns the resolved accessors of the context, ordered by value.
func (q *QueryBuilder) Getters(context string) ([]*GetterBinding, error) {
	pkg, name := splitContext(context)
	getters, err := q.store.GettersByContext(name)
	if err != nil {
		return nil, fmt.Errorf("getters: %w", err)
	}
	return filterPackage(getters, pkg, func(g *GetterBinding) string { return g.Package }), nil
}

// Slots returns the bound type slots of the context, ordered by slot.
func (q *QueryBuilder) Slots(context string) ([]*SlotBinding, error) {
	pkg, name := splitContext(context)
	slots, err := q.store.SlotsByContext(name)
	if err != nil {
		return nil, fmt.Errorf("slots: %w", err)
	}
	return filterPackage(slots, pkg, func(s *SlotBinding) string { return s.Package }), nil
}

// Diagnostics returns the diagnostics of the context, or of every context
// when context is empty.
func (q *QueryBuilder) Diagnostics(context string) ([]*Diagnostic, error) {
	var (
		diags []*Diagnostic
		err   error
	)
	if context == "" {
		diags, err = q.store.AllDiagnostics()
	} else {
		_, name := splitContext(context)
		diags, err = q.store.DiagnosticsByContext(name)
	}
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	return diags, nil
}

// Contexts returns the names of every resolved context, sorted.
func (q *QueryBuilder) Contexts() ([]string, error) {
	names, err := q.store.ContextNames()
	if err != nil {
		return nil, fmt.Errorf("contexts: %w", err)
	}
	return names, nil
}

func filterPackage[T any](rows []T, pkg string, pkgOf func(T) string) []T {
	if pkg == "" {
		return rows
	}
	var out []T
	for _, r := range rows {
		if pkgOf(r) == pkg {
			out = append(out, r)
		}
	}
	return out
}
