package shared

import (
	"context"
	"strings"
)

// Role names supplied by the identity provider.
type Role string

const (
	RoleSuperAdmin   Role = "superadmin"
	RoleAdmin        Role = "admin"
	RoleManager      Role = "manager"
	RoleAdminQC      Role = "admin_qc"
	RoleQCStaff      Role = "qc_staff"
	RolePicker       Role = "picker"
	RoleProduction   Role = "production"
	RoleStore        Role = "store"
	RoleAccount      Role = "account"
	RoleAuditor      Role = "auditor"
	RolePackingStaff Role = "packing_staff"
)

// Actor identifies the user performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	return strings.TrimSpace(a.ID) != ""
}

// System is used for worker initiated operations.
var System = Actor{ID: "system", Role: RoleSuperAdmin}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || !actor.Valid() {
		return Actor{}, false
	}
	return actor, true
}
