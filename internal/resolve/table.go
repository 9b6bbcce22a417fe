package resolve

import (
	"sort"
	"strings"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/directive"
	"github.com/jward/capwire/internal/store"
)

// candidate is a delegation entry together with where it came from. The
// scope is the package and file the provider expression is read in.
type candidate struct {
	Entry  Entry
	Source string
	pkg    *Package
	file   *store.FileFacts
}

// bundleTable maps a key to its distinct candidates. More than one
// candidate means the bundle's own uses disagree.
type bundleTable map[string][]candidate

// tables computes bundle tables once per bundle and reports bundle-level
// problems exactly once, whichever contexts adopt the bundle.
type tables struct {
	u        *Universe
	memo     map[*Bundle]bundleTable
	reported map[string]bool
	diags    diag.List
}

func newTables(u *Universe) *tables {
	return &tables{
		u:        u,
		memo:     make(map[*Bundle]bundleTable),
		reported: make(map[string]bool),
	}
}

func (t *tables) report(id string, err error) {
	if t.reported[id] {
		return
	}
	t.reported[id] = true
	t.diags = append(t.diags, err)
}

// lookupBundle resolves a use line as written in file f of pkg.
func (t *tables) lookupBundle(pkg *Package, f *store.FileFacts, name string) *Bundle {
	target, local := t.u.scope(pkg, f, name)
	if target == nil {
		return nil
	}
	return target.Bundles[local]
}

func (t *tables) bundle(b *Bundle, stack []*Bundle) bundleTable {
	if tbl, ok := t.memo[b]; ok {
		return tbl
	}
	for i, s := range stack {
		if s != b {
			continue
		}
		cycle := make([]string, 0, len(stack)-i+1)
		for _, c := range stack[i:] {
			cycle = append(cycle, c.Name)
		}
		cycle = append(cycle, b.Name)
		t.report("cycle:"+canonicalCycle(cycle), diag.Hint(&diag.CyclicDependencyError{
			Context: b.Name,
			Cycle:   cycle,
			Pos:     b.Pos,
		}, "remove one of the //capwire:use lines in the cycle"))
		return bundleTable{}
	}
	stack = append(stack, b)

	tbl := bundleTable{}
	own := make(map[string][]candidate)
	for _, e := range b.Entries {
		if t.u.Capability(e.Key) == nil {
			t.report("undeclared:"+b.Name+":"+e.Key, diag.Hint(&diag.UndeclaredError{
				Context: b.Name, Kind: "capability", Name: e.Key, Pos: e.Pos,
			}, "declare an interface with //capwire:capability %s", e.Key))
			continue
		}
		own[e.Key] = t.appendDistinct(own[e.Key], candidate{Entry: e, Source: SourceBundlePrefix + b.Name, pkg: b.Pkg, file: b.file})
	}
	for key, cands := range own {
		if len(cands) > 1 {
			t.report("ambiguous:"+b.Name+":"+key, diag.Hint(&diag.AmbiguousProviderError{
				Context: b.Name, Key: key, Choices: t.choices(cands, b.Pkg), Pos: cands[1].Entry.Pos,
			}, "a bundle may wire each capability once"))
		}
		tbl[key] = cands[:1]
	}

	for _, use := range b.Uses {
		inner := t.lookupBundle(b.Pkg, b.file, use.Name)
		if inner == nil {
			t.report("undeclared-bundle:"+b.Name+":"+use.Name, diag.Hint(&diag.UndeclaredError{
				Context: b.Name, Kind: "bundle", Name: use.Name, Pos: use.Pos,
			}, "declare a type annotated //capwire:bundle named %s", use.Name))
			continue
		}
		for key, cands := range t.bundle(inner, stack) {
			if _, mine := own[key]; mine {
				continue
			}
			for _, c := range cands {
				tbl[key] = t.appendDistinct(tbl[key], c)
			}
		}
	}
	t.memo[b] = tbl
	return tbl
}

// contextTable builds the delegation table of c. Direct entries beat
// bundle entries; bundles that disagree on a key the context does not wire
// directly are ambiguous.
func (t *tables) contextTable(c *Context) (map[string]candidate, diag.List) {
	var diags diag.List
	direct := make(map[string][]candidate)
	for _, e := range c.Entries {
		if t.u.Capability(e.Key) == nil {
			diags = append(diags, diag.Hint(&diag.UndeclaredError{
				Context: c.Name, Kind: "capability", Name: e.Key, Pos: e.Pos,
			}, "declare an interface with //capwire:capability %s", e.Key))
			continue
		}
		direct[e.Key] = append(direct[e.Key], candidate{Entry: e, Source: SourceDirect, pkg: c.Pkg, file: c.file})
	}

	fromBundles := make(map[string][]candidate)
	for _, use := range c.Uses {
		b := t.lookupBundle(c.Pkg, c.file, use.Name)
		if b == nil {
			diags = append(diags, diag.Hint(&diag.UndeclaredError{
				Context: c.Name, Kind: "bundle", Name: use.Name, Pos: use.Pos,
			}, "declare a type annotated //capwire:bundle named %s", use.Name))
			continue
		}
		for key, cands := range t.bundle(b, nil) {
			for _, cand := range cands {
				fromBundles[key] = t.appendDistinct(fromBundles[key], cand)
			}
		}
	}

	out := make(map[string]candidate)
	for _, key := range sortedKeys(direct) {
		cands := direct[key]
		if len(cands) > 1 {
			diags = append(diags, diag.Hint(&diag.AmbiguousProviderError{
				Context: c.Name, Key: key, Choices: directChoices(cands), Pos: cands[1].Entry.Pos,
			}, "keep exactly one //capwire:delegate %s=... on %s", key, c.Name))
			continue
		}
		out[key] = cands[0]
	}
	for _, key := range sortedKeys(fromBundles) {
		if _, ok := direct[key]; ok {
			continue
		}
		cands := fromBundles[key]
		if len(cands) > 1 {
			diags = append(diags, diag.Hint(&diag.AmbiguousProviderError{
				Context: c.Name, Key: key, Choices: t.choices(cands, c.Pkg), Pos: c.Pos,
			}, "add //capwire:delegate %s=<Provider> to %s to choose one", key, c.Name))
			continue
		}
		out[key] = cands[0]
	}
	return out, diags
}

// appendDistinct adds c unless a candidate naming the same provider is
// already present. Expressions are compared by what they resolve to in
// their own scope, so Impl in two packages differs and RectangleArea
// equals shapes.RectangleArea.
func (t *tables) appendDistinct(list []candidate, c candidate) []candidate {
	id := t.identity(c.Entry.Expr, c.pkg, c.file)
	for _, have := range list {
		if t.identity(have.Entry.Expr, have.pkg, have.file) == id {
			return list
		}
	}
	return append(list, c)
}

// identity renders expr with every provider name replaced by the
// directory of its declaring package and its local name. Names that do not
// resolve keep the directory of the scope they were written in.
func (t *tables) identity(expr directive.Expr, pkg *Package, f *store.FileFacts) string {
	var head string
	if target, local := t.u.scope(pkg, f, expr.Name); target != nil {
		head = target.Dir + "." + local
	} else {
		dir := ""
		if pkg != nil {
			dir = pkg.Dir
		}
		head = dir + ":" + expr.Name
	}
	if len(expr.Args) == 0 {
		return head
	}
	args := make([]string, len(expr.Args))
	for i, a := range expr.Args {
		args[i] = t.identity(a, pkg, f)
	}
	return head + "[" + strings.Join(args, ", ") + "]"
}

// choices describes competing candidates as seen from package from.
// Expressions written in another package are qualified with its name.
func (t *tables) choices(cands []candidate, from *Package) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		expr := c.Entry.Expr
		if c.pkg != nil && c.pkg != from {
			expr = qualifyExpr(expr, c.pkg.Name)
		}
		out[i] = expr.String() + " (" + c.Source + ")"
	}
	sort.Strings(out)
	return out
}

func qualifyExpr(e directive.Expr, qual string) directive.Expr {
	out := directive.Expr{Name: e.Name}
	if q, _ := splitQualified(e.Name); q == "" {
		out.Name = qual + "." + e.Name
	}
	for _, a := range e.Args {
		out.Args = append(out.Args, qualifyExpr(a, qual))
	}
	return out
}

func directChoices(cands []candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Entry.Expr.String()
	}
	return out
}

// canonicalCycle rotates a closed cycle so it starts at its smallest name,
// making the same cycle found from different entry points compare equal.
func canonicalCycle(cycle []string) string {
	if len(cycle) < 2 {
		return strings.Join(cycle, "->")
	}
	open := cycle[:len(cycle)-1]
	min := 0
	for i, n := range open {
		if n < open[min] {
			min = i
		}
	}
	rotated := append(append([]string{}, open[min:]...), open[:min]...)
	return strings.Join(rotated, "->")
}
