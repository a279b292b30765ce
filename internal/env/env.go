// Package env expands ${VAR} references in configuration values such as
// store DSNs and file paths.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

type Env struct {
	Var Var // explicit variables (K->V), override the OS
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies "K=V" entries; malformed ones are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Lookup resolves k from explicit variables first, then the OS.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Expand replaces ${VAR} with its value. Unknown variables and bare $VAR
// forms are left untouched so DSN passwords containing '$' survive.
// Expansion is not recursive.
func (e *Env) Expand(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
