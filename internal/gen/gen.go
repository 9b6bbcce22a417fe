// Package gen renders capwire_gen.go for a package: the provider-trait
// interfaces of its capabilities, and for each of its contexts the adapter
// methods, getters, slot aliases and compile-time assertions that make the
// context implement every capability it wires.
package gen

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/tools/imports"

	"github.com/jward/capwire/internal/logging"
	"github.com/jward/capwire/internal/resolve"
	"github.com/jward/capwire/internal/store"
)

// FileName is the name of the generated file in each package directory.
const FileName = "capwire_gen.go"

const header = "// Code generated by capwire. DO NOT EDIT.\n\n"

// IsGenerated reports whether path is a generated file.
func IsGenerated(path string) bool {
	return filepath.Base(path) == FileName
}

// File renders the generated file for pkg. pr holds the resolved contexts
// of pkg and may be nil when pkg declares no contexts. A nil result means
// pkg needs no generated code.
func File(pkg *resolve.Package, pr *resolve.PackageResult) ([]byte, error) {
	w := newWriter(pkg)

	caps := make([]string, 0, len(pkg.Capabilities))
	for name := range pkg.Capabilities {
		caps = append(caps, name)
	}
	sort.Strings(caps)
	for _, name := range caps {
		w.trait(pkg.Capabilities[name])
	}
	if pr != nil {
		for _, cr := range pr.Contexts {
			if cr.Failed {
				continue
			}
			w.context(cr)
		}
	}
	if w.body.Len() == 0 {
		return nil, nil
	}

	var out bytes.Buffer
	out.WriteString(header)
	fmt.Fprintf(&out, "package %s\n\n", pkg.Name)
	if len(w.imports) > 0 {
		paths := make([]string, 0, len(w.imports))
		for p := range w.imports {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		specs := make([]string, len(paths))
		for i, p := range paths {
			specs[i] = strconv.Quote(p)
			if alias := w.imports[p]; alias != path.Base(p) {
				specs[i] = alias + " " + specs[i]
			}
		}
		if len(specs) == 1 {
			fmt.Fprintf(&out, "import %s\n\n", specs[0])
		} else {
			fmt.Fprintf(&out, "import (\n\t%s\n)\n\n", strings.Join(specs, "\n\t"))
		}
	}
	out.Write(w.body.Bytes())

	src, err := imports.Process(filepath.Join(pkg.Dir, FileName), out.Bytes(), &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", filepath.Join(pkg.Dir, FileName), err)
	}
	return src, nil
}

// Write writes src to dir/capwire_gen.go when it differs from what is
// already there. A nil src removes a stale generated file.
func Write(dir string, src []byte) (changed bool, err error) {
	target := filepath.Join(dir, FileName)
	old, err := os.ReadFile(target)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", target, err)
	}
	exists := err == nil

	if src == nil {
		if !exists {
			return false, nil
		}
		if err := os.Remove(target); err != nil {
			return false, fmt.Errorf("remove %s: %w", target, err)
		}
		logging.Logger.Infow("removed generated file", "path", target)
		return true, nil
	}
	if exists && bytes.Equal(old, src) {
		return false, nil
	}
	if err := os.WriteFile(target, src, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", target, err)
	}
	logging.Logger.Infow("wrote generated file", "path", target, "bytes", len(src))
	return true, nil
}

// writer accumulates the body of one generated file and the imports it
// needs.
type writer struct {
	pkg     *resolve.Package
	body    bytes.Buffer
	imports map[string]string // path -> name used in the file
	names   map[string]string // name -> path
	asserts map[string]bool
}

func newWriter(pkg *resolve.Package) *writer {
	return &writer{
		pkg:     pkg,
		imports: make(map[string]string),
		names:   make(map[string]string),
		asserts: make(map[string]bool),
	}
}

// use records an import and returns the name it is referred to by.
func (w *writer) use(importPath, preferred string) string {
	if name, ok := w.imports[importPath]; ok {
		return name
	}
	if preferred == "" {
		preferred = path.Base(importPath)
	}
	name := preferred
	for i := 2; ; i++ {
		if _, taken := w.names[name]; !taken && !w.pkg.Types[name] {
			break
		}
		name = preferred + strconv.Itoa(i)
	}
	w.imports[importPath] = name
	w.names[name] = importPath
	return name
}

// qualify renders a name declared in pkg as seen from the generated file.
func (w *writer) qualify(pkg *resolve.Package, name string) string {
	if pkg == nil || pkg == w.pkg || pkg.ImportPath == "" {
		return name
	}
	return w.use(pkg.ImportPath, pkg.Name) + "." + name
}

// typeExpr rewrites a type expression written in scope (with that file's
// imports) for use in the generated file. Identifiers found in subst are
// replaced first and taken as already valid in the generated file.
func (w *writer) typeExpr(expr string, scope *resolve.Package, imps []store.Import, subst map[string]string) string {
	var b strings.Builder
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		if !isIdentStart(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		j := i + 1
		for j < len(rs) && isIdentPart(rs[j]) {
			j++
		}
		word := string(rs[i:j])

		if j+1 < len(rs) && rs[j] == '.' && isIdentStart(rs[j+1]) {
			k := j + 1
			for k < len(rs) && isIdentPart(rs[k]) {
				k++
			}
			if q, local := w.qualifier(word, scope, imps); local {
				b.WriteString(string(rs[j+1 : k]))
			} else {
				b.WriteString(q)
				b.WriteString(string(rs[j:k]))
			}
			i = k
			continue
		}

		switch {
		case subst[word] != "":
			b.WriteString(subst[word])
		case scope != nil && scope != w.pkg && scope.Types[word]:
			b.WriteString(w.qualify(scope, word))
		default:
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

// qualifier maps a package qualifier used in scope to the one used in the
// generated file. local is true when the qualifier names the generated
// file's own package.
func (w *writer) qualifier(qual string, scope *resolve.Package, imps []store.Import) (name string, local bool) {
	for _, imp := range imps {
		n := imp.Alias
		if n == "" {
			n = path.Base(imp.Path)
		}
		if n != qual {
			continue
		}
		if imp.Path == w.pkg.ImportPath {
			return "", true
		}
		return w.use(imp.Path, n), false
	}
	return qual, false
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func (w *writer) printf(format string, args ...any) {
	fmt.Fprintf(&w.body, format, args...)
}

// trait emits the provider-trait interface of c. The context type
// parameter comes first, followed by the capability's own slots.
func (w *writer) trait(c *resolve.Capability) {
	if w.pkg.Types[c.TraitName] {
		return
	}
	ctxParam := "C"
	for _, s := range c.Slots {
		if s == ctxParam {
			ctxParam = "Ctx"
		}
	}
	params := []string{ctxParam + " any"}
	for _, s := range c.Slots {
		params = append(params, s+" any")
	}

	w.printf("// %s is implemented by every provider of %s.\n", c.TraitName, c.Key)
	w.printf("type %s[%s] interface {\n", c.TraitName, strings.Join(params, ", "))
	for _, op := range c.Ops {
		types := []string{ctxParam}
		for _, p := range op.Params {
			t := w.typeExpr(p.Type, c.Pkg, c.Imports(), nil)
			if p.Variadic {
				t = "..." + t
			}
			types = append(types, t)
		}
		rs := make([]string, len(op.Results))
		for i, r := range op.Results {
			rs[i] = w.typeExpr(r, c.Pkg, c.Imports(), nil)
		}
		w.printf("\t%s(%s)%s\n", op.Name, strings.Join(types, ", "), results(rs))
	}
	w.printf("}\n\n")
}

func results(rs []string) string {
	switch len(rs) {
	case 0:
		return ""
	case 1:
		return " " + rs[0]
	}
	return " (" + strings.Join(rs, ", ") + ")"
}

// context emits everything generated for one resolved context.
func (w *writer) context(cr *resolve.ContextResult) {
	c := cr.Context
	ctxType := cr.CtxType()
	recv := receiverName(c.Name)

	for _, s := range cr.Slots {
		if s.Import != "" {
			w.use(s.Import, "")
		}
		alias := c.Name + s.Name
		if w.pkg.Types[alias] {
			continue
		}
		w.printf("// %s is the type bound to slot %s of %s.\n", alias, s.Name, c.Name)
		w.printf("type %s = %s\n\n", alias, s.Type)
	}

	for _, b := range cr.Bindings {
		if b.Instance == nil || b.Capability == nil {
			continue
		}
		w.assertions(cr, b)
	}

	for _, b := range cr.Bindings {
		if b.Instance == nil || b.Capability == nil {
			continue
		}
		provider := b.Instance.Format(ctxType, w.qualify)
		subst := slotSubst(cr, b.Capability)
		for _, op := range b.Capability.Ops {
			w.adapter(recv, ctxType, provider, op, b.Capability, subst)
		}
	}

	for _, g := range cr.Getters {
		if g.Kind == resolve.GetterFromMethod {
			continue
		}
		typ := w.typeExpr(g.Type, g.Scope, g.Imports, nil)
		r := getterReceiver(recv, g.Accessor)
		w.printf("// %s returns the %s value of %s.\n", g.Method, g.Value, c.Name)
		w.printf("func (%s %s) %s() %s {\n\treturn %s.%s\n}\n\n", r, ctxType, g.Method, typ, r, g.Accessor)
	}
}

// assertions emits compile-time checks that the context implements the
// capability and that every provider in the instance implements its trait.
func (w *writer) assertions(cr *resolve.ContextResult, b *resolve.Binding) {
	c := cr.Context
	value := c.Name + "{}"
	switch {
	case c.Pointer:
		value = "(*" + c.Name + ")(nil)"
	case c.Kind != store.KindStruct:
		value = "*new(" + c.Name + ")"
	}
	iface := w.qualify(b.Capability.Pkg, b.Capability.Interface) + typeArgs(slotArgs(cr, b.Capability))
	w.assert(fmt.Sprintf("var _ %s = %s\n", iface, value))

	ctxType := cr.CtxType()
	b.Instance.Walk(func(in *resolve.Instance) {
		if in.Capability == nil {
			return
		}
		args := append([]string{ctxType}, slotArgs(cr, in.Capability)...)
		trait := w.qualify(in.Capability.Pkg, in.Capability.TraitName) + typeArgs(args)
		w.assert(fmt.Sprintf("var _ %s = %s{}\n", trait, in.Format(ctxType, w.qualify)))
	})
	w.printf("\n")
}

func (w *writer) assert(line string) {
	if w.asserts[line] {
		return
	}
	w.asserts[line] = true
	w.body.WriteString(line)
}

// adapter emits one forwarding method.
func (w *writer) adapter(recv, ctxType, provider string, op store.Operation, c *resolve.Capability, subst map[string]string) {
	var params, args []string
	for i, p := range op.Params {
		name := p.Name
		if name == "" || name == "_" || name == recv {
			name = "p" + strconv.Itoa(i)
		}
		t := w.typeExpr(p.Type, c.Pkg, c.Imports(), subst)
		if p.Variadic {
			params = append(params, name+" ..."+t)
			args = append(args, name+"...")
		} else {
			params = append(params, name+" "+t)
			args = append(args, name)
		}
	}
	rs := make([]string, len(op.Results))
	for i, r := range op.Results {
		rs[i] = w.typeExpr(r, c.Pkg, c.Imports(), subst)
	}

	call := provider + "{}." + op.Name + "(" + strings.Join(append([]string{recv}, args...), ", ") + ")"
	w.printf("// %s delegates to %s.\n", op.Name, provider)
	w.printf("func (%s %s) %s(%s)%s {\n", recv, ctxType, op.Name, strings.Join(params, ", "), results(rs))
	if len(rs) == 0 {
		w.printf("\t%s\n}\n\n", call)
	} else {
		w.printf("\treturn %s\n}\n\n", call)
	}
}

// slotArgs returns the bound types of c's slots in declaration order.
func slotArgs(cr *resolve.ContextResult, c *resolve.Capability) []string {
	var out []string
	for _, s := range c.Slots {
		t, _ := cr.Slot(s)
		out = append(out, t)
	}
	return out
}

func slotSubst(cr *resolve.ContextResult, c *resolve.Capability) map[string]string {
	m := make(map[string]string)
	for _, s := range c.Slots {
		if t, ok := cr.Slot(s); ok {
			m[s] = t
		}
	}
	return m
}

func typeArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return "[" + strings.Join(args, ", ") + "]"
}

// receiverName is the lowercased first letter of the context name.
func receiverName(ctxName string) string {
	for _, r := range ctxName {
		return strings.ToLower(string(r))
	}
	return "c"
}

// getterReceiver avoids a receiver that shadows the head of the accessor
// path.
func getterReceiver(recv, accessor string) string {
	head, _, _ := strings.Cut(accessor, ".")
	if head == recv {
		return recv + "0"
	}
	return recv
}
