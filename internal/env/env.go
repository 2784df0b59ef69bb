package env

import (
	"regexp"
	"sort"
	"strings"
)

var ref = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Merge composes a task environment from base (usually os.Environ()) and
// overrides, both in "K=V" form. Later entries win. ${VAR} references in
// values are expanded once against the composed map; unknown references are
// left as written. Entries without '=' or with an empty key are dropped.
// The result is sorted by key.
func Merge(base, overrides []string) []string {
	m := make(map[string]string, len(base)+len(overrides))
	for _, list := range [][]string{base, overrides} {
		for _, kv := range list {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			m[k] = v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+Expand(m[k], m))
	}
	return out
}

// Expand replaces ${VAR} with vars[VAR] when present.
func Expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return ref.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
