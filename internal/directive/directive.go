// Package directive parses //capwire: comment directives and the provider
// expressions they carry.
package directive

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kballard/go-shellquote"
)

// Prefix introduces a directive comment. Like //go:generate it is written
// without a space after the slashes.
const Prefix = "//capwire:"

// Directive verbs.
const (
	VerbCapability = "capability"
	VerbProvider   = "provider"
	VerbWhere      = "where"
	VerbContext    = "context"
	VerbBundle     = "bundle"
	VerbDelegate   = "delegate"
	VerbUse        = "use"
	VerbGetter     = "getter"
	VerbSlot       = "slot"
	VerbRequire    = "require"
)

var knownVerbs = map[string]bool{
	VerbCapability: true,
	VerbProvider:   true,
	VerbWhere:      true,
	VerbContext:    true,
	VerbBundle:     true,
	VerbDelegate:   true,
	VerbUse:        true,
	VerbGetter:     true,
	VerbSlot:       true,
	VerbRequire:    true,
}

// Directive is one parsed //capwire: line.
type Directive struct {
	Verb string
	Args []string
	Raw  string // text after the verb, unsplit
	Line int
}

// IsDirective reports whether a comment is a capwire directive.
func IsDirective(comment string) bool {
	return strings.HasPrefix(comment, Prefix)
}

// Parse parses a single comment line. ok is false for comments that are not
// directives. Arguments are split with shell quoting rules, so values that
// contain spaces can be quoted.
func Parse(comment string, line int) (d Directive, ok bool, err error) {
	if !IsDirective(comment) {
		return Directive{}, false, nil
	}
	body := strings.TrimSpace(strings.TrimPrefix(comment, Prefix))
	verb, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)
	if !knownVerbs[verb] {
		return Directive{}, true, fmt.Errorf("line %d: unknown directive %q", line, "capwire:"+verb)
	}
	d = Directive{Verb: verb, Raw: rest, Line: line}
	if verb == VerbWhere {
		// Predicates are Risor source; quoting belongs to the expression.
		if rest == "" {
			return Directive{}, true, fmt.Errorf("line %d: capwire:where needs an expression", line)
		}
		return d, true, nil
	}
	if rest != "" {
		args, err := shellquote.Split(rest)
		if err != nil {
			return Directive{}, true, fmt.Errorf("line %d: %s arguments: %w", line, verb, err)
		}
		d.Args = args
	}
	return d, true, nil
}

// Pair is a key=value argument.
type Pair struct {
	Key   string
	Value string
}

// Pairs returns the key=value arguments of d, in order. Bare words are
// returned with an empty Value.
func (d Directive) Pairs() []Pair {
	pairs := make([]Pair, 0, len(d.Args))
	for _, a := range d.Args {
		k, v, _ := strings.Cut(a, "=")
		pairs = append(pairs, Pair{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return pairs
}

// Option returns the value of the first key=value argument named key.
func (d Directive) Option(key string) (string, bool) {
	for _, a := range d.Args {
		k, v, found := strings.Cut(a, "=")
		if found && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Positional returns the arguments that are not key=value pairs.
func (d Directive) Positional() []string {
	var out []string
	for _, a := range d.Args {
		if !strings.Contains(a, "=") {
			out = append(out, a)
		}
	}
	return out
}

// Expr is a provider expression: a provider name applied to the inner
// providers it composes, e.g. ScaledArea[RectangleArea].
type Expr struct {
	Name string
	Args []Expr
}

// String renders e in canonical form.
func (e Expr) String() string {
	if len(e.Args) == 0 {
		return e.Name
	}
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return e.Name + "[" + strings.Join(parts, ", ") + "]"
}

// Names returns every provider name in e, outermost first.
func (e Expr) Names() []string {
	names := []string{e.Name}
	for _, a := range e.Args {
		names = append(names, a.Names()...)
	}
	return names
}

// ParseExpr parses a provider expression.
func ParseExpr(s string) (Expr, error) {
	p := &exprParser{src: []rune(s)}
	e, err := p.expr()
	if err != nil {
		return Expr{}, fmt.Errorf("provider expression %q: %w", s, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Expr{}, fmt.Errorf("provider expression %q: unexpected %q at offset %d", s, string(p.src[p.pos]), p.pos)
	}
	return e, nil
}

type exprParser struct {
	src []rune
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *exprParser) expr() (Expr, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if r == '_' || r == '.' || unicode.IsLetter(r) || (p.pos > start && unicode.IsDigit(r)) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		if p.pos < len(p.src) {
			return Expr{}, fmt.Errorf("expected provider name at offset %d, found %q", p.pos, string(p.src[p.pos]))
		}
		return Expr{}, fmt.Errorf("expected provider name at offset %d", p.pos)
	}
	e := Expr{Name: string(p.src[start:p.pos])}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '[' {
		return e, nil
	}
	p.pos++ // '['
	for {
		arg, err := p.expr()
		if err != nil {
			return Expr{}, err
		}
		e.Args = append(e.Args, arg)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Expr{}, fmt.Errorf("unterminated argument list for %s", e.Name)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return e, nil
		default:
			return Expr{}, fmt.Errorf("unexpected %q at offset %d", string(p.src[p.pos]), p.pos)
		}
	}
}
