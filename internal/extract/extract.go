// Package extract turns Go source files into the declaration facts that
// capability resolution works from: package clause, imports, type
// declarations with their //capwire: directives, struct fields, interface
// elements, type parameters and hand-written methods.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/capwire/internal/directive"
	"github.com/jward/capwire/internal/runtime"
	"github.com/jward/capwire/internal/store"
)

// Hash returns the content hash used to skip unchanged files.
func Hash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Extract parses src and returns its facts. File.ImportPath is left for
// the caller, which knows the module layout.
func Extract(ctx context.Context, path string, src []byte) (*store.FileFacts, error) {
	tree, err := runtime.Parse(ctx, "go", src)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if pos, ok := firstError(root); ok {
			return nil, fmt.Errorf("extract %s:%d:%d: syntax error", path, pos.Row+1, pos.Column+1)
		}
		return nil, fmt.Errorf("extract %s: syntax error", path)
	}

	x := &extractor{src: src}
	facts := &store.FileFacts{
		File: store.File{
			Path: path,
			Dir:  filepath.Dir(path),
			Hash: Hash(src),
		},
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_clause":
			if id := firstNamedOfType(n, "package_identifier"); id != nil {
				facts.File.Package = x.text(id)
			}
		case "import_declaration":
			facts.Imports = append(facts.Imports, x.imports(n)...)
		case "type_declaration":
			facts.Declarations = append(facts.Declarations, x.typeDeclaration(root, i, n)...)
		case "method_declaration":
			if m, ok := x.method(n); ok {
				facts.Methods = append(facts.Methods, m)
			}
		}
	}

	if facts.File.Package == "" {
		return nil, fmt.Errorf("extract %s: missing package clause", path)
	}
	return facts, nil
}

type extractor struct {
	src []byte
}

func (x *extractor) text(n *sitter.Node) string {
	return normalize(n.Content(x.src))
}

// normalize collapses whitespace so that type expressions compare by text.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstError(n *sitter.Node) (sitter.Point, bool) {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n.StartPoint(), true
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if p, ok := firstError(n.Child(i)); ok {
			return p, true
		}
	}
	return sitter.Point{}, false
}

func firstNamedOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// fieldChildren returns every child of n stored under field name.
func fieldChildren(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == field {
			out = append(out, n.Child(i))
		}
	}
	return out
}

// --- Imports ---

func (x *extractor) imports(n *sitter.Node) []store.Import {
	var out []store.Import
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_spec":
			imp := store.Import{}
			if p := n.ChildByFieldName("path"); p != nil {
				imp.Path = strings.Trim(x.text(p), "\"`")
			}
			if name := n.ChildByFieldName("name"); name != nil {
				imp.Alias = x.text(name)
			}
			out = append(out, imp)
		case "import_declaration", "import_spec_list":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				walk(n.NamedChild(i))
			}
		}
	}
	walk(n)
	return out
}

// --- Comments & directives ---

// leadingDirectives returns the //capwire: lines of the comment group that
// ends on the line directly above the sibling at index idx of parent.
func (x *extractor) leadingDirectives(parent *sitter.Node, idx int) []store.Directive {
	if idx <= 0 {
		return nil
	}
	want := parent.NamedChild(idx).StartPoint().Row
	var group []*sitter.Node
	for i := idx - 1; i >= 0; i-- {
		c := parent.NamedChild(i)
		if c.Type() != "comment" || c.EndPoint().Row+1 != want {
			break
		}
		group = append(group, c)
		want = c.StartPoint().Row
	}

	var dirs []store.Directive
	for i := len(group) - 1; i >= 0; i-- {
		c := group[i]
		text := strings.TrimSpace(x.text(c))
		if !directive.IsDirective(text) {
			continue
		}
		dirs = append(dirs, store.Directive{Text: text, Line: int(c.StartPoint().Row) + 1})
	}
	return dirs
}

// --- Type declarations ---

func (x *extractor) typeDeclaration(root *sitter.Node, idx int, n *sitter.Node) []store.Declaration {
	outer := x.leadingDirectives(root, idx)

	var specs []*sitter.Node
	var specIdx []int
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "type_spec" || c.Type() == "type_alias" {
			specs = append(specs, c)
			specIdx = append(specIdx, i)
		}
	}

	var out []store.Declaration
	for k, spec := range specs {
		d, ok := x.typeSpec(spec)
		if !ok {
			continue
		}
		// Directives above "type X ..." belong to X; inside a grouped
		// declaration each spec carries its own.
		if len(specs) == 1 {
			d.Directives = append(d.Directives, outer...)
		}
		d.Directives = append(d.Directives, x.leadingDirectives(n, specIdx[k])...)
		out = append(out, d)
	}
	return out
}

func (x *extractor) typeSpec(spec *sitter.Node) (store.Declaration, bool) {
	name := spec.ChildByFieldName("name")
	if name == nil {
		return store.Declaration{}, false
	}
	pos := name.StartPoint()
	d := store.Declaration{
		Name: x.text(name),
		Kind: store.KindOther,
		Line: int(pos.Row) + 1,
		Col:  int(pos.Column) + 1,
	}
	if tp := spec.ChildByFieldName("type_parameters"); tp != nil {
		d.TypeParams = x.typeParams(tp)
	}
	if spec.Type() == "type_alias" {
		return d, true
	}
	typ := spec.ChildByFieldName("type")
	if typ == nil {
		return d, true
	}
	switch typ.Type() {
	case "struct_type":
		d.Kind = store.KindStruct
		d.Fields = x.structFields(typ)
	case "interface_type":
		d.Kind = store.KindInterface
		d.Shape = x.interfaceShape(typ)
	}
	return d, true
}

func (x *extractor) typeParams(list *sitter.Node) []store.TypeParam {
	var out []store.TypeParam
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		if decl.Type() != "type_parameter_declaration" {
			continue
		}
		constraint := decl.ChildByFieldName("type")
		var text string
		var inline *store.Shape
		if constraint != nil {
			text = x.text(constraint)
			if iface := unwrapInterface(constraint); iface != nil {
				inline = x.interfaceShape(iface)
			}
		}
		for _, name := range fieldChildren(decl, "name") {
			out = append(out, store.TypeParam{Name: x.text(name), Constraint: text, Inline: inline})
		}
	}
	return out
}

// unwrapInterface returns the interface literal a constraint consists of,
// looking through the type_constraint/type_elem wrappers newer grammars
// add around it.
func unwrapInterface(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "interface_type":
			return n
		case "type_constraint", "type_elem", "constraint_elem", "parenthesized_type":
			if n.NamedChildCount() != 1 {
				return nil
			}
			n = n.NamedChild(0)
		default:
			return nil
		}
	}
	return nil
}

func (x *extractor) structFields(st *sitter.Node) []store.Field {
	list := firstNamedOfType(st, "field_declaration_list")
	if list == nil {
		return nil
	}
	var out []store.Field
	for i := 0; i < int(list.NamedChildCount()); i++ {
		fd := list.NamedChild(i)
		if fd.Type() != "field_declaration" {
			continue
		}
		typ := fd.ChildByFieldName("type")
		if typ == nil {
			continue
		}
		names := fieldChildren(fd, "name")
		if len(names) == 0 {
			out = append(out, store.Field{Type: x.text(typ), Embedded: true})
			continue
		}
		for _, n := range names {
			out = append(out, store.Field{Name: x.text(n), Type: x.text(typ)})
		}
	}
	return out
}

func (x *extractor) interfaceShape(iface *sitter.Node) *store.Shape {
	shape := &store.Shape{}
	for i := 0; i < int(iface.NamedChildCount()); i++ {
		el := iface.NamedChild(i)
		switch el.Type() {
		case "method_elem", "method_spec":
			if op, ok := x.operation(el); ok {
				shape.Methods = append(shape.Methods, op)
			}
		case "comment":
		default:
			shape.Embeds = append(shape.Embeds, x.text(el))
		}
	}
	return shape
}

// operation reads name, parameters and result from a method element or a
// method declaration.
func (x *extractor) operation(n *sitter.Node) (store.Operation, bool) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return store.Operation{}, false
	}
	op := store.Operation{Name: x.text(name)}
	if params := n.ChildByFieldName("parameters"); params != nil {
		op.Params = x.params(params)
	}
	if res := n.ChildByFieldName("result"); res != nil {
		if res.Type() == "parameter_list" {
			for _, p := range x.params(res) {
				op.Results = append(op.Results, p.Type)
			}
		} else {
			op.Results = []string{x.text(res)}
		}
	}
	return op, true
}

func (x *extractor) params(list *sitter.Node) []store.Param {
	var out []store.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		pd := list.NamedChild(i)
		variadic := pd.Type() == "variadic_parameter_declaration"
		if pd.Type() != "parameter_declaration" && !variadic {
			continue
		}
		typ := pd.ChildByFieldName("type")
		if typ == nil {
			continue
		}
		names := fieldChildren(pd, "name")
		if len(names) == 0 {
			out = append(out, store.Param{Type: x.text(typ), Variadic: variadic})
			continue
		}
		for _, n := range names {
			out = append(out, store.Param{Name: x.text(n), Type: x.text(typ), Variadic: variadic})
		}
	}
	return out
}

// --- Methods ---

func (x *extractor) method(n *sitter.Node) (store.Method, bool) {
	recv := n.ChildByFieldName("receiver")
	if recv == nil {
		return store.Method{}, false
	}
	rp := x.params(recv)
	if len(rp) != 1 {
		return store.Method{}, false
	}
	op, ok := x.operation(n)
	if !ok {
		return store.Method{}, false
	}
	typ := rp[0].Type
	pointer := strings.HasPrefix(typ, "*")
	typ = strings.TrimPrefix(typ, "*")
	if i := strings.IndexByte(typ, '['); i >= 0 {
		typ = typ[:i]
	}
	return store.Method{
		Receiver:        strings.TrimSpace(typ),
		PointerReceiver: pointer,
		Operation:       op,
		Line:            int(n.StartPoint().Row) + 1,
	}, true
}
