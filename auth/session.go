package auth

import "github.com/ewen-r/to-do-list/domain"

// Session value keys. Only the minimal identity is serialized; everything
// else is looked up per request.
const (
	sessionKeyUserID   = "uid"
	sessionKeyUsername = "username"
)

// Principal is the identity deserialized from a session. The zero value is
// the anonymous principal.
type Principal struct {
	ID       string
	Username string
}

// IsAuthenticated reports whether the principal belongs to a signed-in user.
func (p Principal) IsAuthenticated() bool { return p.ID != "" }

// UserID returns the owner key for this principal.
func (p Principal) UserID() string { return p.ID }

// BindPrincipal serializes a user's minimal identity into session values.
func BindPrincipal(values map[interface{}]interface{}, u domain.User) {
	values[sessionKeyUserID] = u.ID
	values[sessionKeyUsername] = u.Username
}

// UnbindPrincipal removes the identity from session values.
func UnbindPrincipal(values map[interface{}]interface{}) {
	delete(values, sessionKeyUserID)
	delete(values, sessionKeyUsername)
}

// PrincipalFromSession deserializes the identity stored by BindPrincipal.
// Sessions without a bound identity yield the anonymous principal.
func PrincipalFromSession(values map[interface{}]interface{}) Principal {
	id, _ := values[sessionKeyUserID].(string)
	name, _ := values[sessionKeyUsername].(string)
	if id == "" {
		return Principal{}
	}
	return Principal{ID: id, Username: name}
}
