package entity

// SystemActorID identifies transitions triggered by the service itself
// (scheduled jobs, public form submissions).
const SystemActorID = "system"

// Actor is the identity attached to every engine operation.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// System returns the built-in system actor.
func System() Actor {
	return Actor{ID: SystemActorID}
}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}
