package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const enforcerModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Enforcer answers resource/action questions server side. Its policy is
// derived from the static role table so it can never disagree with Role.Has.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer seeded with one policy line per granted
// permission.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(enforcerModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	for _, role := range Roles() {
		for _, perm := range PermissionsFor(role) {
			action, resource := perm.Split()
			if _, err := e.AddPolicy(string(role), resource, action); err != nil {
				return nil, fmt.Errorf("add policy %s %s: %w", role, perm, err)
			}
		}
	}
	return &Enforcer{enforcer: e}, nil
}

// Enforce reports whether role may perform action on resource.
func (e *Enforcer) Enforce(role Role, resource, action string) (bool, error) {
	if !role.Valid() {
		return false, nil
	}
	allowed, err := e.enforcer.Enforce(string(role), resource, action)
	if err != nil {
		return false, fmt.Errorf("enforce %s %s %s: %w", role, action, resource, err)
	}
	return allowed, nil
}

// EnforcePrincipal checks p against a resource/action pair.
func (e *Enforcer) EnforcePrincipal(p Principal, resource, action string) (bool, error) {
	role, ok := roleOf(p)
	if !ok {
		return false, nil
	}
	return e.Enforce(role, resource, action)
}
