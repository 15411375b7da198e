// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package policy implements the route policy table: a static mapping of
// path prefix to allowed role set, loaded once at startup and read-only
// thereafter. Lookup is longest-prefix-wins; ambiguous configurations are
// a startup error, never resolved at runtime.
//
// Role checks are enforced by Casbin. The table resolves the governing
// prefix itself (segment-aware, longest wins) and asks the enforcer the
// single question "may this role enter this prefix", so the Casbin model
// stays an exact (role, prefix) match and cannot be widened by a
// shorter-prefix rule.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// routeModel is the RBAC model: one policy row per (role, prefix) pair,
// matched exactly. Prefix resolution happens in Lookup, not the matcher.
const routeModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj
`

// Config errors are fatal at startup.
var (
	// ErrEmptyPrefix indicates an entry with no path prefix.
	ErrEmptyPrefix = errors.New("policy entry has empty path prefix")

	// ErrBadPrefix indicates a prefix that does not start with "/".
	ErrBadPrefix = errors.New("policy path prefix must start with /")

	// ErrNoRoles indicates an entry with an empty allowed role set.
	ErrNoRoles = errors.New("policy entry has no allowed roles")

	// ErrAmbiguousPrefix indicates two entries with the same prefix.
	ErrAmbiguousPrefix = errors.New("ambiguous policy: duplicate path prefix")
)

// Entry maps a path prefix to the set of roles allowed under it.
type Entry struct {
	PathPrefix string

	roles    []string
	enforcer *casbin.SyncedEnforcer
}

// Allows reports whether the role may enter the entry's prefix.
func (e *Entry) Allows(role string) bool {
	allowed, err := e.enforcer.Enforce(role, e.PathPrefix)
	return err == nil && allowed
}

// AllowedRoles returns the allowed roles in sorted order.
func (e *Entry) AllowedRoles() []string {
	return e.roles
}

// EntryConfig is the external configuration shape for one policy entry.
type EntryConfig struct {
	PathPrefix   string   `koanf:"path_prefix"`
	AllowedRoles []string `koanf:"allowed_roles"`
}

// Table is the immutable route policy table. Safe for concurrent reads.
type Table struct {
	// entries sorted by descending prefix length so the first match wins.
	entries []*Entry
}

// NewTable validates the configured entries and builds the table, loading
// one Casbin policy row per (role, prefix) pair. Malformed entries and
// duplicate prefixes return an error; callers treat it as fatal.
func NewTable(configs []EntryConfig) (*Table, error) {
	m, err := model.NewModelFromString(routeModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	seen := make(map[string]struct{}, len(configs))
	entries := make([]*Entry, 0, len(configs))

	for i, c := range configs {
		prefix := strings.TrimSpace(c.PathPrefix)
		if prefix == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyPrefix)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("entry %d (%q): %w", i, prefix, ErrBadPrefix)
		}
		// Normalize trailing slash so "/admin/" and "/admin" collide
		// instead of silently coexisting.
		if prefix != "/" {
			prefix = strings.TrimRight(prefix, "/")
		}
		if _, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("entry %d (%q): %w", i, prefix, ErrAmbiguousPrefix)
		}
		seen[prefix] = struct{}{}

		if len(c.AllowedRoles) == 0 {
			return nil, fmt.Errorf("entry %d (%q): %w", i, prefix, ErrNoRoles)
		}
		roles := make([]string, 0, len(c.AllowedRoles))
		for _, r := range c.AllowedRoles {
			r = strings.TrimSpace(r)
			if r == "" {
				return nil, fmt.Errorf("entry %d (%q): %w", i, prefix, ErrNoRoles)
			}
			added, err := enforcer.AddPolicy(r, prefix)
			if err != nil {
				return nil, fmt.Errorf("entry %d (%q): add policy for role %q: %w", i, prefix, r, err)
			}
			if added {
				roles = append(roles, r)
			}
		}
		sort.Strings(roles)

		entries = append(entries, &Entry{PathPrefix: prefix, roles: roles, enforcer: enforcer})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].PathPrefix) > len(entries[j].PathPrefix)
	})

	return &Table{entries: entries}, nil
}

// Lookup returns the entry governing the path, or nil if the path is
// public. The longest matching prefix wins; matching is segment-aware, so
// "/admin" governs "/admin" and "/admin/users" but not "/administrator".
func (t *Table) Lookup(path string) *Entry {
	for _, e := range t.entries {
		if matches(path, e.PathPrefix) {
			return e
		}
	}
	return nil
}

// Len returns the number of entries. Used for startup logging.
func (t *Table) Len() int {
	return len(t.entries)
}

func matches(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
