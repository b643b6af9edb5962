// Package pattern decides whether a document identifier matches an assignment pattern.
//
// Supported forms:
//
//	**           every document
//	/regex/flags regular expression tested against ":" + id
//	ns:**        documents in ns and all namespaces below it
//	ns:*         documents directly inside ns
//	ns:page      exactly that document
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

type Kind int

const (
	KindExact Kind = iota
	KindNamespace
	KindDescendants
	KindRegexp
	KindAll
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindRegexp:
		return "regexp"
	case KindDescendants:
		return "descendants"
	case KindNamespace:
		return "namespace"
	default:
		return "exact"
	}
}

// Pattern is a compiled assignment pattern. It is immutable and safe for concurrent use.
type Pattern struct {
	raw  string
	kind Kind
	path string // ":ns:" for namespace kinds, the clean id for exact matches
	re   *regexp.Regexp
}

// Compile parses raw. The only failure is a regular expression that does not compile.
func Compile(raw string) (*Pattern, error) {
	p := &Pattern{raw: raw}

	if strings.Trim(raw, Separator) == "**" {
		p.kind = KindAll
		return p, nil
	}

	if strings.HasPrefix(raw, "/") {
		re, err := compileRegexp(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", raw, err)
		}
		p.kind = KindRegexp
		p.re = re
		return p, nil
	}

	switch {
	case strings.HasSuffix(raw, "**"):
		p.kind = KindDescendants
		p.path = wrap(CleanID(strings.TrimSuffix(raw, "**")))
	case strings.HasSuffix(raw, "*"):
		p.kind = KindNamespace
		p.path = wrap(CleanID(strings.TrimSuffix(raw, "*")))
	default:
		p.kind = KindExact
		p.path = CleanID(raw)
	}
	return p, nil
}

// Match reports whether raw matches id. A pattern that does not compile never matches;
// use Compile to surface the error.
func Match(raw, id string) bool {
	p, err := Compile(raw)
	if err != nil {
		return false
	}
	return p.Matches(id)
}

func (p *Pattern) String() string {
	return p.raw
}

func (p *Pattern) Kind() Kind {
	return p.kind
}

// Matches tests a canonical document identifier.
func (p *Pattern) Matches(id string) bool {
	switch p.kind {
	case KindAll:
		return true
	case KindRegexp:
		return p.re.MatchString(Separator + id)
	case KindDescendants:
		// the namespace start page itself ("ns" for "ns:**") counts as inside
		return strings.HasPrefix(wrap(id), p.path)
	case KindNamespace:
		return wrap(Namespace(id)) == p.path
	default:
		return p.path == id
	}
}

var flagSuffix = regexp.MustCompile(`^[imsuU]*$`)

// compileRegexp accepts "expr" or "expr/flags" (the leading slash is already stripped).
func compileRegexp(body string) (*regexp.Regexp, error) {
	expr := body
	var flags string
	if i := strings.LastIndex(body, "/"); i >= 0 && flagSuffix.MatchString(body[i+1:]) {
		expr, flags = body[:i], body[i+1:]
	}
	if expr == "" {
		return nil, fmt.Errorf("empty regular expression")
	}

	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		}
	}
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}
	return regexp.Compile(expr)
}
