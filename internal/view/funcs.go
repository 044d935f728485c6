package view

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/claimdesk/claimdesk/internal/authz"
)

// funcMap exposes the policy evaluator to templates so guarded markup is
// only executed for actors that pass the check:
//
//	{{if can .Actor "delete_users"}} ... {{end}}
func funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": formatDate,
		"formatDatePtr": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return formatDate(*t)
		},
		"can": func(p authz.Principal, perm string) bool {
			return authz.HasPermission(p, authz.Permission(perm))
		},
		"canAny": func(p authz.Principal, perms ...string) bool {
			return authz.HasAnyPermission(p, toPermissions(perms)...)
		},
		"canAll": func(p authz.Principal, perms ...string) bool {
			return authz.HasAllPermissions(p, toPermissions(perms)...)
		},
		"canDo": func(p authz.Principal, action, resource string) bool {
			return authz.CanPerformAction(p, action, resource)
		},
		"hasRole": func(p authz.Principal, role string) bool {
			return authz.HasRole(p, authz.Role(role))
		},
		"hasAnyRole": func(p authz.Principal, roles ...string) bool {
			out := make([]authz.Role, len(roles))
			for i, r := range roles {
				out[i] = authz.Role(r)
			}
			return authz.HasAnyRole(p, out...)
		},
		"atLeast": func(p authz.Principal, role string) bool {
			return authz.HasMinimumRole(p, authz.Role(role))
		},
		"canManage": func(p authz.Principal, target authz.Role) bool {
			return authz.CanManageRole(p, target)
		},
		"roleName": func(r authz.Role) string {
			return r.DisplayName()
		},
		"title": func(s string) string {
			return strings.ReplaceAll(s, "_", " ")
		},
		"money": money,
		"amount": func(v *float64) string {
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%.2f", *v)
		},
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}
}

func toPermissions(raw []string) []authz.Permission {
	out := make([]authz.Permission, len(raw))
	for i, p := range raw {
		out[i] = authz.Permission(p)
	}
	return out
}

func money(v any) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("$%.2f", n)
	case *float64:
		if n == nil {
			return ""
		}
		return fmt.Sprintf("$%.2f", *n)
	case int64:
		return fmt.Sprintf("$%d", n)
	}
	return ""
}
