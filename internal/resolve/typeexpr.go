package resolve

import (
	"path"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jward/capwire/internal/store"
)

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// mapIdents rewrites every unqualified identifier of a Go type expression
// through fn. Package qualifiers and the names they qualify are left alone.
func mapIdents(expr string, fn func(string) string) string {
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
		qualified := (i > 0 && rs[i-1] == '.') || (j < len(rs) && rs[j] == '.')
		if qualified {
			b.WriteString(word)
		} else {
			b.WriteString(fn(word))
		}
		i = j
	}
	return b.String()
}

// substitute replaces identifiers found in m.
func substitute(expr string, m map[string]string) string {
	if len(m) == 0 {
		return expr
	}
	return mapIdents(expr, func(w string) string {
		if v, ok := m[w]; ok {
			return v
		}
		return w
	})
}

// baseName strips a pointer star and type arguments: "*geom.Box[T]" is
// "geom.Box".
func baseName(expr string) string {
	expr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expr), "*"))
	if i := strings.IndexByte(expr, '['); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

// splitQualified splits "geom.Box" into ("geom", "Box"); unqualified names
// return an empty qualifier.
func splitQualified(name string) (qual, local string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[n:]
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// wildcard is the token a capability slot normalises to.
const wildcard = "?"

// typeTokens splits a type expression written in file f of pkg into
// tokens that compare equal across files: package qualifiers become import
// paths, names declared in pkg are prefixed with its directory and names
// in wild become wildcards.
func (u *Universe) typeTokens(expr string, pkg *Package, f *store.FileFacts, wild []string) []string {
	var toks []string
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
			continue
		case !isIdentStart(r):
			toks = append(toks, string(r))
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
			qual := word
			if f != nil {
				for _, imp := range f.Imports {
					name := imp.Alias
					if name == "" {
						name = path.Base(imp.Path)
					}
					if name == word {
						qual = imp.Path
						break
					}
				}
			}
			toks = append(toks, qual+"."+string(rs[j+1:k]))
			i = k
			continue
		}

		switch {
		case slices.Contains(wild, word):
			toks = append(toks, wildcard)
		case pkg != nil && pkg.Types[word]:
			id := pkg.ImportPath
			if id == "" {
				id = pkg.Dir
			}
			toks = append(toks, id+"."+word)
		default:
			toks = append(toks, word)
		}
		i = j
	}
	return toks
}

// tokensMatch compares two token lists; a wildcard in want matches any
// single token.
func tokensMatch(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != wildcard && want[i] != got[i] {
			return false
		}
	}
	return true
}
