package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func TestSanitizedStripsProxyVars(t *testing.T) {
	e := New()
	e.env = Var{
		"PATH":        "/usr/bin",
		"HTTP_PROXY":  "http://proxy:3128",
		"https_proxy": "http://proxy:3128",
		"ALL_PROXY":   "socks5://proxy:1080",
	}
	m := toMap(e.Sanitized(nil))
	require.Equal(t, "/usr/bin", m["PATH"])
	require.NotContains(t, m, "HTTP_PROXY")
	require.NotContains(t, m, "https_proxy")
	require.NotContains(t, m, "ALL_PROXY")
	require.Equal(t, "*", m["NO_PROXY"])
}

func TestSanitizedOverrides(t *testing.T) {
	e := New()
	e.env = Var{"PATH": "/usr/bin", "HOME": "/root"}
	e.Set("HOME", "/srv/bots")
	m := toMap(e.Sanitized([]string{"TOKEN=abc", "=bad"}))
	require.Equal(t, "/srv/bots", m["HOME"])
	require.Equal(t, "abc", m["TOKEN"])
	require.NotContains(t, m, "")
}

func TestSanitizedUsesOSBaseWhenUncached(t *testing.T) {
	t.Setenv("BOTFARM_ENV_PROBE", "1")
	t.Setenv("HTTP_PROXY", "http://proxy:3128")
	e := New()
	m := toMap(e.Sanitized(nil))
	require.Equal(t, "1", m["BOTFARM_ENV_PROBE"])
	require.NotContains(t, m, "HTTP_PROXY")
}
