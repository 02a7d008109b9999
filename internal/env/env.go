// Package env composes the environment handed to application scripts.
package env

import (
	"os"
	"sort"
	"strings"
)

// Variables set for every script. Per-application scripts also get App,
// PIDFile and RunDir.
const (
	App        = "APPMGR_APP"
	PIDFile    = "APPMGR_PID_FILE"
	RunDir     = "APPMGR_RUN_DIR"
	AppDir     = "APPMGR_APP_DIR"
	DataRoot   = "APPMGR_DATA_ROOT"
	ConfigRoot = "APPMGR_CONFIG_ROOT"
)

type Var map[string]string

type Env struct {
	Var Var // global variables (K->V)
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
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// SetPairs applies "K=V" entries. Malformed entries are returned, not applied.
func (e *Env) SetPairs(pairs []string) (rejected []string) {
	for _, kv := range pairs {
		k, v, ok := split(kv)
		if !ok {
			rejected = append(rejected, kv)
			continue
		}
		e.Set(k, v)
	}
	return rejected
}

// Merge composes the final environment in this order: the OS base, the
// global variables, then extra "K=V" overrides. ${VAR} references are
// expanded once against the composed map. The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range extra {
		if k, v, ok := split(kv); ok {
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
		out = append(out, k+"="+expand(m[k], m, keys))
	}
	return out
}

func split(kv string) (k, v string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand replaces ${VAR} for known keys; unknown references stay as written.
func expand(s string, m Var, keys []string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for _, k := range keys {
		res = strings.ReplaceAll(res, "${"+k+"}", m[k])
	}
	return res
}
