// Package template renders EPP command documents from text with %(NAME)s
// placeholders. Rendering is plain text replacement; documents are never parsed.
package template

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDefine = errors.New("template: invalid define")

// Template is one named document, read once.
type Template struct {
	Name string
	Text string
}

// Var is one substitution pair.
type Var struct {
	Name  string
	Value string
}

// Substitutions is an ordered set of uniquely named variables. The zero value
// is empty and ready to use; methods never mutate the receiver.
type Substitutions struct {
	vars []Var
}

// NewSubstitutions builds a set from pairs. A repeated name keeps its first
// position and takes the last value.
func NewSubstitutions(vars ...Var) Substitutions {
	var s Substitutions
	for _, v := range vars {
		s = s.With(v.Name, v.Value)
	}
	return s
}

// ParseDefines parses NAME=VALUE strings as given to -d/--define.
func ParseDefines(defines []string) (Substitutions, error) {
	vars := make([]Var, 0, len(defines))
	for _, d := range defines {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			return Substitutions{}, fmt.Errorf("%w: %q has no '='", ErrInvalidDefine, d)
		}
		if strings.TrimSpace(name) == "" {
			return Substitutions{}, fmt.Errorf("%w: %q has an empty name", ErrInvalidDefine, d)
		}
		vars = append(vars, Var{Name: name, Value: value})
	}
	return NewSubstitutions(vars...), nil
}

// With returns a copy of s with name set to value.
func (s Substitutions) With(name, value string) Substitutions {
	out := make([]Var, len(s.vars), len(s.vars)+1)
	copy(out, s.vars)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return Substitutions{vars: out}
		}
	}
	return Substitutions{vars: append(out, Var{Name: name, Value: value})}
}

// Merge returns s overlaid with every variable of other.
func (s Substitutions) Merge(other Substitutions) Substitutions {
	out := s
	for _, v := range other.vars {
		out = out.With(v.Name, v.Value)
	}
	return out
}

func (s Substitutions) Lookup(name string) (string, bool) {
	for _, v := range s.vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

func (s Substitutions) Len() int { return len(s.vars) }

// Vars returns a copy of the pairs in order.
func (s Substitutions) Vars() []Var {
	out := make([]Var, len(s.vars))
	copy(out, s.vars)
	return out
}

// Placeholder returns the in-document form of name.
func Placeholder(name string) string {
	return "%(" + name + ")s"
}

// Render replaces every %(NAME)s for each NAME in subs. Unknown placeholders
// are left as they are. Replacement values are not rescanned.
func Render(text string, subs Substitutions) string {
	if len(subs.vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(subs.vars))
	for _, v := range subs.vars {
		pairs = append(pairs, Placeholder(v.Name), v.Value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Render is a convenience for Render(t.Text, subs).
func (t Template) Render(subs Substitutions) string {
	return Render(t.Text, subs)
}
