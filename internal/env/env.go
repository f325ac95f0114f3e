package env

import (
	"os"
	"strings"
)

// proxyVars are stripped from every child environment: bot runtimes must
// never inherit the panel's outbound proxy.
var proxyVars = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY",
	"http_proxy", "https_proxy", "all_proxy",
}

type Var map[string]string

// Env builds sanitized child environments from the OS environment plus
// overrides.
type Env struct {
	Var Var // overrides (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets an override K=V applied to every sanitized environment.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Sanitized composes the child environment: OS base (or cached), minus all
// proxy variables, with NO_PROXY=* forced, then global overrides, then
// perProc ("K=V") overrides. Returns the slice in "K=V" form.
func (e *Env) Sanitized(perProc []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env))
	for k, v := range e.env {
		m[k] = v
	}
	for _, k := range proxyVars {
		delete(m, k)
	}
	m["NO_PROXY"] = "*"
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perProc {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
