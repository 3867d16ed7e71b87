// Package auth maps credentials and external identities to user accounts and
// binds the minimal signed-in identity into the session.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ewen-r/to-do-list/domain"
)

var (
	// ErrInvalidCredentials is returned for an unknown username or a wrong
	// password; the two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameTaken is returned when registering an already used username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmptyCredentials is returned when registration input is blank.
	ErrEmptyCredentials = errors.New("username and password must not be empty")
)

type notFoundError interface {
	error
	NotFound()
}

type conflictError interface {
	error
	Conflict()
}

// Directory abstracts persistent user records.
type Directory interface {
	InsertLocalUser(ctx context.Context, u domain.User) error
	LocalUser(ctx context.Context, username string) (domain.User, error)
	InsertExternalUser(ctx context.Context, u domain.User) error
	UserByExternalID(ctx context.Context, externalID string) (domain.User, error)
}

// Gate authenticates requests against the user directory.
type Gate struct {
	users Directory
}

// NewGate creates a Gate backed by the given directory.
func NewGate(users Directory) *Gate {
	if users == nil {
		panic("auth.NewGate: directory is nil")
	}
	return &Gate{users: users}
}

// Register creates a credential-backed account. The password is stored as a
// salted bcrypt hash, never verbatim.
func (g *Gate) Register(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, ErrEmptyCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{ID: uuid.NewString(), Username: username, PasswordHash: string(hash)}
	if err := g.users.InsertLocalUser(ctx, u); err != nil {
		var conflict conflictError
		if errors.As(err, &conflict) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate verifies a username/password pair against the stored hash.
func (g *Gate) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := g.users.LocalUser(ctx, strings.TrimSpace(username))
	if err != nil {
		var notFound notFoundError
		if errors.As(err, &notFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// AuthenticateOrProvision resolves an external identity to an account,
// creating one on first login. Repeated logins are idempotent, including
// against a concurrent first login.
func (g *Gate) AuthenticateOrProvision(ctx context.Context, externalID, username string) (domain.User, error) {
	if externalID == "" {
		return domain.User{}, errors.New("missing external identity")
	}
	u, err := g.users.UserByExternalID(ctx, externalID)
	if err == nil {
		return u, nil
	}
	var notFound notFoundError
	if !errors.As(err, &notFound) {
		return domain.User{}, err
	}

	if username == "" {
		username = externalID
	}
	u = domain.User{ID: uuid.NewString(), Username: username, ExternalID: externalID}
	if err := g.users.InsertExternalUser(ctx, u); err != nil {
		var conflict conflictError
		if errors.As(err, &conflict) {
			// Someone else provisioned the same identity first; use theirs.
			return g.users.UserByExternalID(ctx, externalID)
		}
		return domain.User{}, err
	}
	return u, nil
}
