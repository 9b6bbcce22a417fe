package resolve

import (
	"fmt"
	"strings"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/store"
)

// RequirementKind classifies one element of a provider's requirement
// predicate.
type RequirementKind int

const (
	// ValueRequirement is a named value served by a getter.
	ValueRequirement RequirementKind = iota
	// CapabilityRequirement is another capability the context must wire.
	CapabilityRequirement
	// MethodRequirement is a method the context must declare by hand.
	MethodRequirement
)

// Requirement is one thing a provider needs from its context, read from
// the constraint on the provider's context type parameter.
type Requirement struct {
	Kind   RequirementKind
	Name   string // value name, capability key or method name
	Method string // accessor method for values
	Type   string // value type as written in the constraint
	Op     store.Operation
}

func (r Requirement) String() string {
	switch r.Kind {
	case ValueRequirement:
		return fmt.Sprintf("value %s %s", r.Name, r.Type)
	case CapabilityRequirement:
		return "capability " + r.Name
	default:
		return "method " + signature(r.Op)
	}
}

func signature(op store.Operation) string {
	params := make([]string, len(op.Params))
	for i, p := range op.Params {
		t := p.Type
		if p.Variadic {
			t = "..." + t
		}
		params[i] = t
	}
	s := op.Name + "(" + strings.Join(params, ", ") + ")"
	switch len(op.Results) {
	case 0:
	case 1:
		s += " " + op.Results[0]
	default:
		s += " (" + strings.Join(op.Results, ", ") + ")"
	}
	return s
}

// requirements expands the constraint of p's context parameter.
func (u *Universe) requirements(p *Provider) []Requirement {
	var reqs []Requirement
	added := make(map[string]bool)
	add := func(r Requirement) {
		id := fmt.Sprintf("%d:%s", r.Kind, r.Name)
		if added[id] {
			return
		}
		added[id] = true
		reqs = append(reqs, r)
	}

	visited := make(map[string]bool)
	var visitShape func(pkg *Package, f *store.FileFacts, shape *store.Shape)
	visitNamed := func(pkg *Package, f *store.FileFacts, expr string) {
		base := baseName(expr)
		if base == "" || base == "any" || base == "comparable" {
			return
		}
		target, local := u.scope(pkg, f, base)
		if target == nil {
			return
		}
		if c, ok := target.Capabilities[local]; ok {
			add(Requirement{Kind: CapabilityRequirement, Name: c.Key})
			return
		}
		id := target.Dir + "." + local
		if visited[id] {
			return
		}
		visited[id] = true
		if iface, ok := target.interfaces[local]; ok {
			visitShape(target, iface.file, iface.decl.Shape)
		}
	}
	visitShape = func(pkg *Package, f *store.FileFacts, shape *store.Shape) {
		for _, op := range shape.Methods {
			caps := u.capabilitiesForOp(pkg, f, op)
			if len(caps) > 1 {
				keys := make([]string, len(caps))
				for i, c := range caps {
					keys[i] = c.Key
				}
				u.diags = append(u.diags, diag.Hint(&diag.UnsatisfiedRequirementError{
					Context:     p.Name,
					Key:         p.Key,
					Provider:    p.Name,
					Requirement: "method " + signature(op),
					Detail:      "operation of several capabilities: " + strings.Join(keys, ", "),
					Pos:         p.Pos,
				}, "embed the intended capability interface in the constraint of %s", p.Name))
				continue
			}
			if len(caps) == 1 {
				add(Requirement{Kind: CapabilityRequirement, Name: caps[0].Key})
				continue
			}
			if len(op.Params) == 0 && len(op.Results) == 1 {
				add(Requirement{Kind: ValueRequirement, Name: lowerFirst(op.Name), Method: op.Name, Type: op.Results[0]})
				continue
			}
			add(Requirement{Kind: MethodRequirement, Name: op.Name, Op: op})
		}
		for _, e := range shape.Embeds {
			visitNamed(pkg, f, e)
		}
	}

	if p.CtxParam.Inline != nil {
		visitShape(p.Pkg, p.file, p.CtxParam.Inline)
	} else {
		visitNamed(p.Pkg, p.file, p.CtxParam.Constraint)
	}
	return reqs
}

// capabilitiesForOp returns the capabilities visible from file f of pkg
// that declare an operation with op's signature. Visible means declared in
// pkg or in a package f imports. Capability slots match any type.
func (u *Universe) capabilitiesForOp(pkg *Package, f *store.FileFacts, op store.Operation) []*Capability {
	visible := []*Package{pkg}
	if f != nil {
		for _, imp := range f.Imports {
			if target := u.byImport[imp.Path]; target != nil && target != pkg {
				visible = append(visible, target)
			}
		}
	}

	var out []*Capability
	for _, target := range visible {
		for _, name := range sortedKeys(target.Capabilities) {
			c := target.Capabilities[name]
			if u.declaresOp(c, op, pkg, f) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (u *Universe) declaresOp(c *Capability, op store.Operation, pkg *Package, f *store.FileFacts) bool {
	same := func(capType, opType string) bool {
		return tokensMatch(u.typeTokens(capType, c.Pkg, c.file, c.Slots), u.typeTokens(opType, pkg, f, nil))
	}
	for _, o := range c.Ops {
		if o.Name != op.Name || len(o.Params) != len(op.Params) || len(o.Results) != len(op.Results) {
			continue
		}
		ok := true
		for i := range o.Params {
			if o.Params[i].Variadic != op.Params[i].Variadic || !same(o.Params[i].Type, op.Params[i].Type) {
				ok = false
				break
			}
		}
		for i := 0; ok && i < len(o.Results); i++ {
			ok = same(o.Results[i], op.Results[i])
		}
		if ok {
			return true
		}
	}
	return false
}
