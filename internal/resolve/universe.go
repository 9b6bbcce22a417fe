package resolve

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/directive"
	"github.com/jward/capwire/internal/store"
)

// Package groups the declarations of one package directory.
type Package struct {
	Dir        string
	Name       string
	ImportPath string
	Files      []*store.FileFacts

	Capabilities map[string]*Capability // by interface name
	Providers    map[string]*Provider
	Contexts     map[string]*Context
	Bundles      map[string]*Bundle
	Types        map[string]bool
	Methods      map[string][]store.Method // by receiver

	interfaces map[string]ifaceDecl
}

type ifaceDecl struct {
	decl *store.Declaration
	file *store.FileFacts
}

// Capability is an interface annotated //capwire:capability.
type Capability struct {
	Pkg       *Package
	Interface string
	Key       string
	TraitName string
	Slots     []string
	Ops       []store.Operation
	Embeds    []string
	Pos       diag.Position

	file *store.FileFacts
}

// Imports returns the imports of the file declaring c.
func (c *Capability) Imports() []store.Import { return c.file.Imports }

// ProviderParam is a provider type parameter after the context parameter.
// It is either a type slot or, when InnerKey is set, an inner provider.
type ProviderParam struct {
	Name       string
	Constraint string
	InnerKey   string
}

// Provider is a generic struct annotated //capwire:provider.
type Provider struct {
	Pkg        *Package
	Name       string
	Key        string
	CtxParam   store.TypeParam
	Params     []ProviderParam
	FixedSlots map[string]string
	Where      []string
	Methods    map[string]store.Operation
	Reqs       []Requirement
	Pos        diag.Position

	decl *store.Declaration
	file *store.FileFacts
}

// Inner returns the inner-provider parameters in declaration order.
func (p *Provider) Inner() []ProviderParam {
	var out []ProviderParam
	for _, pp := range p.Params {
		if pp.InnerKey != "" {
			out = append(out, pp)
		}
	}
	return out
}

// Imports returns the imports of the file declaring p.
func (p *Provider) Imports() []store.Import { return p.file.Imports }

// Entry is one Key=ProviderExpr delegation line.
type Entry struct {
	Key  string
	Expr directive.Expr
	Pos  diag.Position
}

// Use names a bundle adopted by a context or bundle.
type Use struct {
	Name string
	Pos  diag.Position
}

// Bundle is a reusable set of delegation entries.
type Bundle struct {
	Pkg     *Package
	Name    string
	Entries []Entry
	Uses    []Use
	Pos     diag.Position

	file *store.FileFacts
}

// GetterDirective is an explicit value=path accessor binding.
type GetterDirective struct {
	Value string
	Path  string
	Pos   diag.Position
}

// SlotDirective is an explicit Name=Type slot binding.
type SlotDirective struct {
	Name   string
	Type   string
	Import string
	Pos    diag.Position
}

// Context is a concrete type annotated //capwire:context.
type Context struct {
	Pkg      *Package
	Name     string
	Pointer  bool
	Kind     string
	Fields   []store.Field
	Entries  []Entry
	Uses     []Use
	Getters  []GetterDirective
	Slots    []SlotDirective
	Requires []Use
	Methods  map[string]store.Method
	Pos      diag.Position

	file *store.FileFacts
}

// Universe is every declaration of every indexed package.
type Universe struct {
	Packages []*Package

	byDir    map[string]*Package
	byImport map[string]*Package
	keys     map[string]*Capability
	diags    diag.List
}

// NewUniverse interprets the directives of the given facts. Problems with
// the directives themselves are available from Diagnostics.
func NewUniverse(files []*store.FileFacts) *Universe {
	u := &Universe{
		byDir:    make(map[string]*Package),
		byImport: make(map[string]*Package),
		keys:     make(map[string]*Capability),
	}

	sorted := append([]*store.FileFacts(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].File.Path < sorted[j].File.Path })

	for _, f := range sorted {
		pkg := u.byDir[f.File.Dir]
		if pkg == nil {
			pkg = &Package{
				Dir:          f.File.Dir,
				Name:         f.File.Package,
				Capabilities: make(map[string]*Capability),
				Providers:    make(map[string]*Provider),
				Contexts:     make(map[string]*Context),
				Bundles:      make(map[string]*Bundle),
				Types:        make(map[string]bool),
				Methods:      make(map[string][]store.Method),
				interfaces:   make(map[string]ifaceDecl),
			}
			u.byDir[f.File.Dir] = pkg
			u.Packages = append(u.Packages, pkg)
		}
		if pkg.ImportPath == "" && f.File.ImportPath != "" {
			pkg.ImportPath = f.File.ImportPath
			u.byImport[pkg.ImportPath] = pkg
		}
		pkg.Files = append(pkg.Files, f)
		for i := range f.Declarations {
			d := &f.Declarations[i]
			pkg.Types[d.Name] = true
			if d.Kind == store.KindInterface && d.Shape != nil {
				pkg.interfaces[d.Name] = ifaceDecl{decl: d, file: f}
			}
		}
		for _, m := range f.Methods {
			pkg.Methods[m.Receiver] = append(pkg.Methods[m.Receiver], m)
		}
	}
	sort.Slice(u.Packages, func(i, j int) bool { return u.Packages[i].Dir < u.Packages[j].Dir })

	for _, pkg := range u.Packages {
		for _, f := range pkg.Files {
			for i := range f.Declarations {
				u.declare(pkg, f, &f.Declarations[i])
			}
		}
	}
	u.registerKeys()
	for _, pkg := range u.Packages {
		for _, name := range sortedKeys(pkg.Providers) {
			u.link(pkg.Providers[name])
		}
	}
	return u
}

// Diagnostics returns the problems found while reading directives.
func (u *Universe) Diagnostics() diag.List { return u.diags }

// Capability returns the capability declared under key, or nil.
func (u *Universe) Capability(key string) *Capability { return u.keys[key] }

// Keys returns every declared capability key, sorted.
func (u *Universe) Keys() []string { return sortedKeys(u.keys) }

// Package returns the package in dir, or nil.
func (u *Universe) Package(dir string) *Package { return u.byDir[dir] }

// lookupPackage resolves a package qualifier as seen from file f.
func (u *Universe) lookupPackage(f *store.FileFacts, qual string) *Package {
	if f == nil {
		return nil
	}
	for _, imp := range f.Imports {
		name := imp.Alias
		if name == "" {
			name = path.Base(imp.Path)
		}
		if name == qual {
			return u.byImport[imp.Path]
		}
	}
	return nil
}

// scope resolves a possibly qualified name to its package and local name.
func (u *Universe) scope(pkg *Package, f *store.FileFacts, name string) (*Package, string) {
	qual, local := splitQualified(name)
	if qual == "" {
		return pkg, local
	}
	return u.lookupPackage(f, qual), local
}

func (u *Universe) invalid(decl, text, detail string, f *store.FileFacts, line int) {
	u.diags = append(u.diags, &diag.InvalidDirectiveError{
		Decl:   decl,
		Text:   text,
		Detail: detail,
		Pos:    diag.Position{File: f.File.Path, Line: line, Col: 1},
	})
}

var roleVerbs = map[string]bool{
	directive.VerbCapability: true,
	directive.VerbProvider:   true,
	directive.VerbContext:    true,
	directive.VerbBundle:     true,
}

var allowedVerbs = map[string]map[string]bool{
	directive.VerbCapability: {},
	directive.VerbProvider:   {directive.VerbWhere: true},
	directive.VerbContext: {
		directive.VerbDelegate: true,
		directive.VerbUse:      true,
		directive.VerbGetter:   true,
		directive.VerbSlot:     true,
		directive.VerbRequire:  true,
	},
	directive.VerbBundle: {directive.VerbDelegate: true, directive.VerbUse: true},
}

func (u *Universe) declare(pkg *Package, f *store.FileFacts, d *store.Declaration) {
	var dirs []directive.Directive
	for _, raw := range d.Directives {
		dir, ok, err := directive.Parse(raw.Text, raw.Line)
		if !ok {
			continue
		}
		if err != nil {
			u.invalid(d.Name, raw.Text, err.Error(), f, raw.Line)
			continue
		}
		dirs = append(dirs, dir)
	}
	if len(dirs) == 0 {
		return
	}

	var role *directive.Directive
	for i := range dirs {
		if !roleVerbs[dirs[i].Verb] {
			continue
		}
		if role != nil {
			u.invalid(d.Name, directive.Prefix+dirs[i].Verb, "declaration is already a "+role.Verb, f, dirs[i].Line)
			continue
		}
		role = &dirs[i]
	}
	if role == nil {
		u.invalid(d.Name, directive.Prefix+dirs[0].Verb, "needs a capability, provider, context or bundle directive", f, dirs[0].Line)
		return
	}

	var rest []directive.Directive
	for _, dir := range dirs {
		if roleVerbs[dir.Verb] {
			continue
		}
		if !allowedVerbs[role.Verb][dir.Verb] {
			u.invalid(d.Name, directive.Prefix+dir.Verb, fmt.Sprintf("not valid on a %s", role.Verb), f, dir.Line)
			continue
		}
		rest = append(rest, dir)
	}

	pos := diag.Position{File: f.File.Path, Line: d.Line, Col: d.Col}
	switch role.Verb {
	case directive.VerbCapability:
		u.declareCapability(pkg, f, d, *role, pos)
	case directive.VerbProvider:
		u.declareProvider(pkg, f, d, *role, rest, pos)
	case directive.VerbContext:
		u.declareContext(pkg, f, d, *role, rest, pos)
	case directive.VerbBundle:
		u.declareBundle(pkg, f, d, rest, pos)
	}
}

func (u *Universe) declareCapability(pkg *Package, f *store.FileFacts, d *store.Declaration, role directive.Directive, pos diag.Position) {
	if d.Kind != store.KindInterface || d.Shape == nil {
		u.invalid(d.Name, directive.Prefix+role.Verb, "capability must annotate an interface", f, role.Line)
		return
	}
	c := &Capability{
		Pkg:       pkg,
		Interface: d.Name,
		Key:       d.Name + "Component",
		TraitName: d.Name + "Provider",
		Ops:       d.Shape.Methods,
		Embeds:    d.Shape.Embeds,
		Pos:       pos,
		file:      f,
	}
	if p := role.Positional(); len(p) > 0 {
		c.Key = p[0]
	}
	if v, ok := role.Option("provider"); ok && v != "" {
		c.TraitName = v
	}
	for _, tp := range d.TypeParams {
		c.Slots = append(c.Slots, tp.Name)
	}
	pkg.Capabilities[d.Name] = c
}

func (u *Universe) declareProvider(pkg *Package, f *store.FileFacts, d *store.Declaration, role directive.Directive, rest []directive.Directive, pos diag.Position) {
	text := directive.Prefix + role.Verb
	if d.Kind != store.KindStruct || len(d.TypeParams) == 0 {
		u.invalid(d.Name, text, "provider must be a struct generic over its context", f, role.Line)
		return
	}
	keys := role.Positional()
	if len(keys) != 1 {
		u.invalid(d.Name, text, "provider needs exactly one capability key", f, role.Line)
		return
	}
	p := &Provider{
		Pkg:        pkg,
		Name:       d.Name,
		Key:        keys[0],
		CtxParam:   d.TypeParams[0],
		FixedSlots: make(map[string]string),
		Methods:    make(map[string]store.Operation),
		Pos:        pos,
		decl:       d,
		file:       f,
	}
	for _, pair := range role.Pairs() {
		slot, ok := strings.CutPrefix(pair.Key, "slot:")
		if !ok {
			continue
		}
		if slot == "" || pair.Value == "" {
			u.invalid(d.Name, text, "expected slot:Name=Type", f, role.Line)
			continue
		}
		p.FixedSlots[slot] = pair.Value
	}
	for _, dir := range rest {
		p.Where = append(p.Where, dir.Raw)
	}
	for _, m := range pkg.Methods[d.Name] {
		p.Methods[m.Name] = m.Operation
	}
	pkg.Providers[d.Name] = p
}

func (u *Universe) declareContext(pkg *Package, f *store.FileFacts, d *store.Declaration, role directive.Directive, rest []directive.Directive, pos diag.Position) {
	if d.Kind == store.KindInterface {
		u.invalid(d.Name, directive.Prefix+role.Verb, "context must be a concrete named type", f, role.Line)
		return
	}
	c := &Context{
		Pkg:     pkg,
		Name:    d.Name,
		Kind:    d.Kind,
		Fields:  d.Fields,
		Methods: make(map[string]store.Method),
		Pos:     pos,
		file:    f,
	}
	switch recv, _ := role.Option("receiver"); recv {
	case "", "value":
	case "pointer":
		c.Pointer = true
	default:
		u.invalid(d.Name, directive.Prefix+role.Verb, fmt.Sprintf("receiver must be value or pointer, got %q", recv), f, role.Line)
	}
	for _, m := range pkg.Methods[d.Name] {
		c.Methods[m.Name] = m
	}

	for _, dir := range rest {
		dpos := diag.Position{File: f.File.Path, Line: dir.Line, Col: 1}
		text := directive.Prefix + dir.Verb + " " + dir.Raw
		switch dir.Verb {
		case directive.VerbDelegate:
			c.Entries = append(c.Entries, u.entries(d.Name, text, dir, f)...)
		case directive.VerbUse:
			c.Uses = append(c.Uses, uses(dir, dpos)...)
		case directive.VerbRequire:
			c.Requires = append(c.Requires, uses(dir, dpos)...)
		case directive.VerbGetter:
			for _, pair := range dir.Pairs() {
				if pair.Key == "" || pair.Value == "" {
					u.invalid(d.Name, text, "expected value=path", f, dir.Line)
					continue
				}
				c.Getters = append(c.Getters, GetterDirective{Value: pair.Key, Path: pair.Value, Pos: dpos})
			}
		case directive.VerbSlot:
			imp, _ := dir.Option("import")
			for _, pair := range dir.Pairs() {
				if pair.Key == "import" {
					continue
				}
				if pair.Key == "" || pair.Value == "" {
					u.invalid(d.Name, text, "expected Name=Type", f, dir.Line)
					continue
				}
				c.Slots = append(c.Slots, SlotDirective{Name: pair.Key, Type: pair.Value, Import: imp, Pos: dpos})
			}
		}
	}
	pkg.Contexts[d.Name] = c
}

func (u *Universe) declareBundle(pkg *Package, f *store.FileFacts, d *store.Declaration, rest []directive.Directive, pos diag.Position) {
	b := &Bundle{Pkg: pkg, Name: d.Name, Pos: pos, file: f}
	for _, dir := range rest {
		dpos := diag.Position{File: f.File.Path, Line: dir.Line, Col: 1}
		switch dir.Verb {
		case directive.VerbDelegate:
			b.Entries = append(b.Entries, u.entries(d.Name, directive.Prefix+dir.Verb+" "+dir.Raw, dir, f)...)
		case directive.VerbUse:
			b.Uses = append(b.Uses, uses(dir, dpos)...)
		}
	}
	pkg.Bundles[d.Name] = b
}

func (u *Universe) entries(decl, text string, dir directive.Directive, f *store.FileFacts) []Entry {
	var out []Entry
	for _, pair := range dir.Pairs() {
		if pair.Key == "" || pair.Value == "" {
			u.invalid(decl, text, "expected Key=Provider", f, dir.Line)
			continue
		}
		expr, err := directive.ParseExpr(pair.Value)
		if err != nil {
			u.invalid(decl, text, err.Error(), f, dir.Line)
			continue
		}
		out = append(out, Entry{
			Key:  pair.Key,
			Expr: expr,
			Pos:  diag.Position{File: f.File.Path, Line: dir.Line, Col: 1},
		})
	}
	return out
}

func uses(dir directive.Directive, pos diag.Position) []Use {
	var out []Use
	for _, a := range dir.Args {
		out = append(out, Use{Name: a, Pos: pos})
	}
	return out
}

func (u *Universe) registerKeys() {
	byKey := make(map[string][]*Capability)
	for _, pkg := range u.Packages {
		for _, name := range sortedKeys(pkg.Capabilities) {
			c := pkg.Capabilities[name]
			byKey[c.Key] = append(byKey[c.Key], c)
		}
	}
	for _, key := range sortedKeys(byKey) {
		caps := byKey[key]
		u.keys[key] = caps[0]
		if len(caps) == 1 {
			continue
		}
		sites := make([]string, len(caps))
		for i, c := range caps {
			sites[i] = c.Pkg.Name + "." + c.Interface + " (" + c.Pos.String() + ")"
		}
		u.diags = append(u.diags, diag.Hint(&diag.DuplicateDeclarationError{
			Context: caps[1].Interface,
			Kind:    "capability key",
			Name:    key,
			Sites:   sites,
			Pos:     caps[1].Pos,
		}, "capability keys are global; give one interface a different key"))
	}
}

// capabilityByTrait finds the capability whose provider-trait is named by
// expr, as seen from file f of pkg.
func (u *Universe) capabilityByTrait(pkg *Package, f *store.FileFacts, expr string) *Capability {
	target, local := u.scope(pkg, f, baseName(expr))
	if target == nil {
		return nil
	}
	for _, name := range sortedKeys(target.Capabilities) {
		if c := target.Capabilities[name]; c.TraitName == local {
			return c
		}
	}
	return nil
}

func (u *Universe) link(p *Provider) {
	for _, tp := range p.decl.TypeParams[1:] {
		pp := ProviderParam{Name: tp.Name, Constraint: tp.Constraint}
		if c := u.capabilityByTrait(p.Pkg, p.file, tp.Constraint); c != nil {
			pp.InnerKey = c.Key
		}
		p.Params = append(p.Params, pp)
	}
	p.Reqs = u.requirements(p)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
