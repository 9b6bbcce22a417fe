// Package resolve computes, for every context, the delegation table from
// capability keys to provider instances, the getters and type slots those
// providers need, and the build-time diagnostics that stop generation.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/directive"
	"github.com/jward/capwire/internal/logging"
	"github.com/jward/capwire/internal/runtime"
	"github.com/jward/capwire/internal/store"
)

// Predicate evaluates //capwire:where expressions.
type Predicate interface {
	Eval(ctx context.Context, expr string, env runtime.Env) (bool, error)
}

// Resolver resolves a Universe.
type Resolver struct {
	pred Predicate
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPredicate sets the evaluator for //capwire:where predicates.
func WithPredicate(p Predicate) Option {
	return func(r *Resolver) { r.pred = p }
}

// New creates a Resolver. Without options, predicates are evaluated by a
// Risor runtime with no script directory.
func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.pred == nil {
		r.pred = runtime.NewRuntime("")
	}
	return r
}

// Resolve resolves every context of u. Iteration is over sorted names
// throughout, so the same universe always yields the same result.
func (r *Resolver) Resolve(ctx context.Context, u *Universe) *Result {
	res := &Result{}
	res.Diagnostics = append(res.Diagnostics, u.Diagnostics()...)
	t := newTables(u)

	for _, pkg := range u.Packages {
		if len(pkg.Contexts) == 0 {
			continue
		}
		pr := &PackageResult{Package: pkg}
		for _, name := range sortedKeys(pkg.Contexts) {
			cr, diags := r.resolveContext(ctx, u, t, pkg.Contexts[name])
			if len(diags) > 0 {
				cr.Failed = true
			}
			pr.Contexts = append(pr.Contexts, cr)
			res.Diagnostics = append(res.Diagnostics, diags...)
		}
		res.Packages = append(res.Packages, pr)
	}

	// Bundles nobody uses are still checked.
	for _, pkg := range u.Packages {
		for _, name := range sortedKeys(pkg.Bundles) {
			t.bundle(pkg.Bundles[name], nil)
		}
	}
	res.Diagnostics = append(res.Diagnostics, t.diags...)
	res.Diagnostics.Sort()

	logging.Logger.Debugw("resolved", "packages", len(res.Packages), "diagnostics", len(res.Diagnostics))
	return res
}

// contextRun carries the state of resolving one context.
type contextRun struct {
	u     *Universe
	c     *Context
	cr    *ContextResult
	table map[string]candidate
	slots map[string]*SlotBinding
	diags diag.List
}

func (run *contextRun) fail(d diag.Diagnostic, hint string, args ...any) {
	if hint == "" {
		run.diags = append(run.diags, d)
		return
	}
	run.diags = append(run.diags, diag.Hint(d, hint, args...))
}

func (r *Resolver) resolveContext(ctx context.Context, u *Universe, t *tables, c *Context) (*ContextResult, diag.List) {
	run := &contextRun{
		u:     u,
		c:     c,
		cr:    &ContextResult{Context: c},
		slots: make(map[string]*SlotBinding),
	}
	table, diags := t.contextTable(c)
	run.table = table
	run.diags = append(run.diags, diags...)

	// Delegation table and provider instances.
	for _, key := range sortedKeys(table) {
		cand := table[key]
		b := &Binding{
			Key:        key,
			Capability: u.Capability(key),
			Expr:       cand.Entry.Expr,
			Source:     cand.Source,
		}
		// Entries adopted from a bundle elsewhere read as seen from c.
		if cand.pkg != nil && cand.pkg != c.Pkg {
			b.Expr = qualifyExpr(b.Expr, cand.pkg.Name)
		}
		run.checkHandWritten(b, cand)
		b.Instance = run.instantiate(cand.Entry.Expr, key, cand)
		run.cr.Bindings = append(run.cr.Bindings, b)
	}

	run.bindSlots()
	run.fillSlots()

	values := run.checkRequirements(ctx, r.pred)
	run.checkCycles()
	run.resolveGetters(values)

	sort.Slice(run.cr.Slots, func(i, j int) bool { return run.cr.Slots[i].Name < run.cr.Slots[j].Name })
	return run.cr, run.diags
}

// checkHandWritten rejects a hand-written method that would compete with
// a generated adapter method.
func (run *contextRun) checkHandWritten(b *Binding, cand candidate) {
	if b.Capability == nil {
		return
	}
	for _, op := range b.Capability.Ops {
		if _, ok := run.c.Methods[op.Name]; ok {
			run.fail(&diag.AmbiguousProviderError{
				Context: run.c.Name,
				Key:     b.Key,
				Choices: []string{"method " + run.c.Name + "." + op.Name, b.Expr.String()},
				Pos:     cand.Entry.Pos,
			}, "remove the hand-written %s.%s or the delegation entry for %s", run.c.Name, op.Name, b.Key)
		}
	}
}

// instantiate resolves a provider expression for key, checking arity and
// key agreement at every level of composition.
func (run *contextRun) instantiate(expr directive.Expr, key string, cand candidate) *Instance {
	target, local := run.u.scope(cand.pkg, cand.file, expr.Name)
	var p *Provider
	if target != nil {
		p = target.Providers[local]
	}
	if p == nil {
		if target != nil && target.Types[local] {
			run.fail(&diag.ProviderMismatchError{
				Context: run.c.Name, Key: key, Provider: expr.Name, Pos: cand.Entry.Pos,
			}, "annotate %s with //capwire:provider %s", expr.Name, key)
			return nil
		}
		run.fail(&diag.UndeclaredError{
			Context: run.c.Name, Kind: "provider", Name: expr.Name, Pos: cand.Entry.Pos,
		}, "declare a generic struct annotated //capwire:provider %s", key)
		return nil
	}
	if p.Key != key {
		run.fail(&diag.ProviderMismatchError{
			Context: run.c.Name, Key: key, Provider: p.Name, Implements: p.Key, Pos: cand.Entry.Pos,
		}, "wire %s under %s, or choose a provider for %s", p.Name, p.Key, key)
		return nil
	}

	inner := p.Inner()
	if len(inner) != len(expr.Args) {
		run.fail(&diag.UnsatisfiedRequirementError{
			Context:     run.c.Name,
			Key:         key,
			Provider:    p.Name,
			Requirement: fmt.Sprintf("%d inner provider(s)", len(inner)),
			Detail:      fmt.Sprintf("%s supplies %d", expr, len(expr.Args)),
			Pos:         cand.Entry.Pos,
		}, "")
		return nil
	}

	in := &Instance{Provider: p, Capability: run.u.Capability(key), Key: key}
	next := 0
	for _, pp := range p.Params {
		arg := InstanceArg{Param: pp}
		if pp.InnerKey != "" {
			arg.Inner = run.instantiate(expr.Args[next], pp.InnerKey, cand)
			next++
			if arg.Inner == nil {
				return nil
			}
		}
		in.Args = append(in.Args, arg)
	}
	return in
}

func (run *contextRun) instances() []*Instance {
	var out []*Instance
	for _, b := range run.cr.Bindings {
		if b.Instance != nil {
			b.Instance.Walk(func(in *Instance) { out = append(out, in) })
		}
	}
	return out
}

// bindSlots merges explicit slot directives with slots fixed by bound
// providers. Disagreement is a conflict, reported once per slot.
func (run *contextRun) bindSlots() {
	conflicted := make(map[string]bool)
	bind := func(name, typ, imp, origin string, pos diag.Position) {
		have, ok := run.slots[name]
		if !ok {
			run.slots[name] = &SlotBinding{Name: name, Type: typ, Import: imp, Origin: origin}
			return
		}
		if have.Type == typ || conflicted[name] {
			return
		}
		conflicted[name] = true
		run.fail(&diag.TypeSlotConflictError{
			Context: run.c.Name,
			Slot:    name,
			Types:   []string{have.Type, typ},
			Origins: []string{have.Origin, origin},
			Pos:     pos,
		}, "bind %s to a single type for %s", name, run.c.Name)
	}

	for _, sd := range run.c.Slots {
		bind(sd.Name, sd.Type, sd.Import, "context "+run.c.Name, sd.Pos)
	}
	for _, in := range run.instances() {
		for _, name := range sortedKeys(in.Provider.FixedSlots) {
			bind(name, in.Provider.FixedSlots[name], "", "provider "+in.Provider.Name, run.c.Pos)
		}
	}
	for _, name := range sortedKeys(run.slots) {
		run.cr.Slots = append(run.cr.Slots, *run.slots[name])
	}
}

// fillSlots supplies slot arguments to every instance and checks that the
// slots of each bound capability are bound.
func (run *contextRun) fillSlots() {
	unbound := func(key, provider, slot, detail string) {
		run.fail(&diag.UnsatisfiedRequirementError{
			Context:     run.c.Name,
			Key:         key,
			Provider:    provider,
			Requirement: "type slot " + slot,
			Detail:      detail,
			Pos:         run.c.Pos,
		}, "add //capwire:slot %s=<Type> to %s", slot, run.c.Name)
	}
	for _, in := range run.instances() {
		for i, a := range in.Args {
			if a.Param.InnerKey != "" {
				continue
			}
			s, ok := run.slots[a.Param.Name]
			if !ok {
				unbound(in.Key, in.Provider.Name, a.Param.Name, "slot is not bound")
				continue
			}
			in.Args[i].Type = s.Type
		}
	}
	for _, b := range run.cr.Bindings {
		if b.Capability == nil || b.Instance == nil {
			continue
		}
		for _, slot := range b.Capability.Slots {
			if _, ok := run.slots[slot]; !ok {
				unbound(b.Key, b.Instance.Provider.Name, slot, "capability "+b.Capability.Interface+" is generic over it")
			}
		}
	}
}

// substitutions maps the type parameter names of in to their arguments.
func (run *contextRun) substitutions(in *Instance) map[string]string {
	ctxType := run.cr.CtxType()
	m := map[string]string{in.Provider.CtxParam.Name: ctxType}
	for _, a := range in.Args {
		switch {
		case a.Inner != nil:
			m[a.Param.Name] = a.Inner.Format(ctxType, Local)
		case a.Type != "":
			m[a.Param.Name] = a.Type
		}
	}
	return m
}

// valueNeed is a value some provider requires, at the type it requires.
type valueNeed struct {
	Method string
	Type   string
	By     *Provider
}

// checkRequirements evaluates every instance's requirement predicate and
// returns the values the getter resolver must serve.
func (run *contextRun) checkRequirements(ctx context.Context, pred Predicate) map[string][]valueNeed {
	values := make(map[string][]valueNeed)
	env := &contextEnv{run: run}

	for _, in := range run.instances() {
		subst := run.substitutions(in)
		p := in.Provider
		for _, req := range p.Reqs {
			switch req.Kind {
			case ValueRequirement:
				values[req.Name] = append(values[req.Name], valueNeed{
					Method: req.Method,
					Type:   substitute(req.Type, subst),
					By:     p,
				})
			case CapabilityRequirement:
				if _, ok := run.table[req.Name]; !ok {
					run.fail(&diag.UnresolvedCapabilityError{
						Context: run.c.Name, Key: req.Name, RequiredBy: p.Name, Pos: run.c.Pos,
					}, "add //capwire:delegate %s=<Provider> to %s", req.Name, run.c.Name)
				}
			case MethodRequirement:
				if _, ok := run.c.Methods[req.Name]; !ok {
					op := req.Op
					op.Params = append([]store.Param(nil), op.Params...)
					for i := range op.Params {
						op.Params[i].Type = substitute(op.Params[i].Type, subst)
					}
					op.Results = append([]string(nil), op.Results...)
					for i := range op.Results {
						op.Results[i] = substitute(op.Results[i], subst)
					}
					run.fail(&diag.UnsatisfiedRequirementError{
						Context:     run.c.Name,
						Key:         in.Key,
						Provider:    p.Name,
						Requirement: "method " + signature(op),
						Detail:      "no such method on " + run.c.Name,
						Pos:         run.c.Pos,
					}, "declare %s on %s", signature(op), run.c.Name)
				}
			}
		}
		for _, expr := range p.Where {
			ok, err := pred.Eval(ctx, expr, env)
			if err != nil {
				run.fail(&diag.UnsatisfiedRequirementError{
					Context: run.c.Name, Key: in.Key, Provider: p.Name,
					Requirement: "where " + expr, Detail: err.Error(), Pos: p.Pos,
				}, "")
				continue
			}
			if !ok {
				run.fail(&diag.UnsatisfiedRequirementError{
					Context: run.c.Name, Key: in.Key, Provider: p.Name,
					Requirement: "where " + expr, Detail: "predicate is false for " + run.c.Name, Pos: run.c.Pos,
				}, "")
			}
		}
	}

	for _, req := range run.c.Requires {
		if run.u.Capability(req.Name) == nil {
			run.fail(&diag.UndeclaredError{
				Context: run.c.Name, Kind: "capability", Name: req.Name, Pos: req.Pos,
			}, "declare an interface with //capwire:capability %s", req.Name)
			continue
		}
		if _, ok := run.table[req.Name]; !ok {
			run.fail(&diag.UnresolvedCapabilityError{
				Context: run.c.Name, Key: req.Name, Pos: req.Pos,
			}, "add //capwire:delegate %s=<Provider> to %s or use a bundle that wires it", req.Name, run.c.Name)
		}
	}

	for _, b := range run.cr.Bindings {
		for _, key := range run.embeddedKeys(b.Capability) {
			if _, ok := run.table[key]; !ok {
				run.fail(&diag.UnresolvedCapabilityError{
					Context: run.c.Name, Key: key, RequiredBy: b.Capability.Interface, Pos: run.table[b.Key].Entry.Pos,
				}, "%s embeds %s; wire it too", b.Capability.Interface, key)
			}
		}
	}
	return values
}

// embeddedKeys returns the keys of capability interfaces embedded in c.
func (run *contextRun) embeddedKeys(c *Capability) []string {
	if c == nil {
		return nil
	}
	var keys []string
	for _, e := range c.Embeds {
		target, local := run.u.scope(c.Pkg, c.file, baseName(e))
		if target == nil {
			continue
		}
		if ec, ok := target.Capabilities[local]; ok {
			keys = append(keys, ec.Key)
		}
	}
	return keys
}

// checkCycles rejects capability dependency cycles among the context's
// bound providers.
func (run *contextRun) checkCycles() {
	graph := make(map[string][]string)
	for _, b := range run.cr.Bindings {
		deps := make(map[string]bool)
		if b.Instance != nil {
			b.Instance.Walk(func(in *Instance) {
				for _, req := range in.Provider.Reqs {
					if req.Kind == CapabilityRequirement {
						deps[req.Name] = true
					}
				}
			})
		}
		for _, k := range run.embeddedKeys(b.Capability) {
			deps[k] = true
		}
		for k := range deps {
			if _, ok := run.table[k]; ok {
				graph[b.Key] = append(graph[b.Key], k)
			}
		}
		sort.Strings(graph[b.Key])
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	reported := make(map[string]bool)
	var stack []string
	var visit func(string)
	visit = func(k string) {
		color[k] = grey
		stack = append(stack, k)
		for _, next := range graph[k] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), next)
				id := canonicalCycle(cycle)
				if !reported[id] {
					reported[id] = true
					run.fail(&diag.CyclicDependencyError{
						Context: run.c.Name, Cycle: cycle, Pos: run.table[next].Entry.Pos,
					}, "wire one capability in the cycle to a provider that does not require the next")
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[k] = black
	}
	for _, k := range sortedKeys(graph) {
		if color[k] == white {
			visit(k)
		}
	}
}

// resolveGetters binds every required value: explicit accessors first,
// then a field with the exact value name and type.
func (run *contextRun) resolveGetters(values map[string][]valueNeed) {
	c := run.c
	fields := make(map[string]store.Field)
	for _, f := range c.Fields {
		if !f.Embedded {
			fields[f.Name] = f
		}
	}

	for _, value := range sortedKeys(values) {
		needs := values[value]
		types := make([]string, 0, len(needs))
		for _, n := range needs {
			if !contains(types, n.Type) {
				types = append(types, n.Type)
			}
		}
		method := needs[0].Method
		if len(types) > 1 {
			parts := make([]string, len(needs))
			for i, n := range needs {
				parts[i] = fmt.Sprintf("%s by %s", n.Type, n.By.Name)
			}
			run.fail(&diag.MissingAccessorError{
				Context: c.Name, Value: value, Type: strings.Join(types, " | "),
				Detail: "required as " + strings.Join(parts, " and as "), Pos: c.Pos,
			}, "providers must agree on the type of %s", value)
			continue
		}
		typ := types[0]
		base := Getter{Value: value, Method: method, Type: typ, Scope: needs[0].By.Pkg, Imports: needs[0].By.Imports()}

		var directives []GetterDirective
		for _, g := range c.Getters {
			if g.Value == value {
				directives = append(directives, g)
			}
		}
		_, handWritten := c.Methods[method]

		switch {
		case len(directives) > 1 || (handWritten && len(directives) == 1):
			var sites []string
			if handWritten {
				sites = append(sites, "method "+c.Name+"."+method)
			}
			for _, g := range directives {
				sites = append(sites, "//capwire:getter "+g.Value+"="+g.Path+" ("+g.Pos.String()+")")
			}
			run.fail(&diag.DuplicateDeclarationError{
				Context: c.Name, Kind: "getter", Name: value, Sites: sites, Pos: directives[len(directives)-1].Pos,
			}, "keep a single accessor for %s", value)

		case handWritten:
			base.Accessor, base.Kind = method+"()", GetterFromMethod
			run.cr.Getters = append(run.cr.Getters, base)

		case len(directives) == 1:
			g := directives[0]
			head, _, _ := strings.Cut(g.Path, ".")
			if _, ok := fields[head]; !ok {
				run.fail(&diag.MissingAccessorError{
					Context: c.Name, Value: value, Type: typ,
					Detail: fmt.Sprintf("getter path %s: %s is not a field of %s", g.Path, head, c.Name), Pos: g.Pos,
				}, "")
				continue
			}
			if _, clash := fields[method]; clash {
				run.fail(&diag.MissingAccessorError{
					Context: c.Name, Value: value, Type: typ,
					Detail: fmt.Sprintf("accessor %s would collide with field %s", method, method), Pos: g.Pos,
				}, "")
				continue
			}
			base.Accessor, base.Kind = g.Path, GetterFromDirective
			run.cr.Getters = append(run.cr.Getters, base)

		default:
			run.deriveGetter(base, fields)
		}
	}
}

func (run *contextRun) deriveGetter(g Getter, fields map[string]store.Field) {
	c := run.c
	value, method, typ := g.Value, g.Method, g.Type
	missing := func(detail string) {
		run.fail(&diag.MissingAccessorError{
			Context: c.Name, Value: value, Type: typ, Detail: detail, Pos: c.Pos,
		}, "add a field %s %s, a method %s() %s, or //capwire:getter %s=<path> to %s",
			value, typ, method, typ, value, c.Name)
	}

	f, ok := fields[value]
	_, clash := fields[method]
	switch {
	case clash:
		missing(fmt.Sprintf("field %s would collide with accessor %s", method, method))
	case !ok:
		missing("")
	case normalizeType(f.Type) != normalizeType(typ):
		missing(fmt.Sprintf("field %s has type %s", f.Name, f.Type))
	default:
		g.Accessor, g.Kind = f.Name, GetterFromField
		run.cr.Getters = append(run.cr.Getters, g)
	}
}

func normalizeType(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// contextEnv exposes a context to //capwire:where predicates.
type contextEnv struct {
	run *contextRun
}

func (e *contextEnv) ContextName() string { return e.run.c.Name }
func (e *contextEnv) PackageName() string { return e.run.c.Pkg.Name }

func (e *contextEnv) HasField(name string) bool {
	_, ok := e.FieldType(name)
	return ok
}

func (e *contextEnv) FieldType(name string) (string, bool) {
	for _, f := range e.run.c.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// HasMethod counts hand-written methods and adapter methods of wired
// capabilities.
func (e *contextEnv) HasMethod(name string) bool {
	if _, ok := e.run.c.Methods[name]; ok {
		return true
	}
	for key := range e.run.table {
		if c := e.run.u.Capability(key); c != nil {
			for _, op := range c.Ops {
				if op.Name == name {
					return true
				}
			}
		}
	}
	return false
}

func (e *contextEnv) Slot(name string) (string, bool) {
	s, ok := e.run.slots[name]
	if !ok {
		return "", false
	}
	return s.Type, true
}

func (e *contextEnv) Wired(key string) bool {
	_, ok := e.run.table[key]
	return ok
}
