package filter

import (
	"strings"

	"github.com/sln-repo/strongline/internal/errs"
)

// ParseUserFilter compiles the query surface syntax (field:value, quoted
// strings, boolean and/or/not, parentheses) into a filter tree. Empty
// input compiles to All; unparseable input returns EINVAL.
func ParseUserFilter(input string) (*Filter, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return All(), nil
	}

	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, errs.Wrap(errs.EINVAL, "unexpected trailing input at token %d", p.pos)
	}
	return f, nil
}

type tokKind int

const (
	tokWord tokKind = iota
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		default:
			start := i
			inQuote := false
			var b strings.Builder
			for i < len(s) {
				ch := s[i]
				if ch == '"' {
					inQuote = !inQuote
					i++
					continue
				}
				if !inQuote && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '(' || ch == ')') {
					break
				}
				b.WriteByte(ch)
				i++
			}
			if inQuote {
				return nil, errs.Wrap(errs.EINVAL, "unterminated quote starting at %d", start)
			}
			if b.Len() == 0 {
				return nil, errs.Wrap(errs.EINVAL, "empty token at %d", start)
			}
			toks = append(toks, token{kind: tokWord, text: b.String()})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) isKeyword(word string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (p *parser) parseOr() (*Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*Filter{left}
	for p.isKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return Or(children...), nil
}

func (p *parser) parseAnd() (*Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []*Filter{left}
	for {
		if p.isKeyword("and") {
			p.pos++
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			children = append(children, right)
			continue
		}
		// implicit AND: another term follows without an explicit operator
		if t, ok := p.peek(); ok && !p.isKeyword("or") && (t.kind == tokLParen || (t.kind == tokWord && !strings.EqualFold(t.text, "and"))) {
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			children = append(children, right)
			continue
		}
		break
	}
	if len(children) == 1 {
		return left, nil
	}
	return And(children...), nil
}

func (p *parser) parseNot() (*Filter, error) {
	if p.isKeyword("not") {
		p.pos++
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Filter, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errs.Wrap(errs.EINVAL, "unexpected end of input")
	}

	if t.kind == tokLParen {
		p.pos++
		f, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		t, ok = p.peek()
		if !ok || t.kind != tokRParen {
			return nil, errs.Wrap(errs.EINVAL, "missing closing parenthesis")
		}
		p.pos++
		return f, nil
	}

	if t.kind != tokWord {
		return nil, errs.Wrap(errs.EINVAL, "unexpected token")
	}
	p.pos++

	if t.text == "*" {
		return All(), nil
	}

	idx := strings.IndexByte(t.text, ':')
	if idx <= 0 || idx == len(t.text)-1 {
		return nil, errs.Wrap(errs.EINVAL, "expected field:value, got %q", t.text)
	}
	field := t.text[:idx]
	value := t.text[idx+1:]
	return Badge(field, value), nil
}
