package api

import (
	"context"

	"github.com/ewen-r/to-do-list/domain"
	"github.com/ewen-r/to-do-list/policy"
)

// ListService abstracts the list rules for handlers.
type ListService interface {
	AddItem(ctx context.Context, list, text string, authCtx policy.AuthContext) (domain.Task, error)
	DeleteList(ctx context.Context, list string, authCtx policy.AuthContext) (int, error)
	PruneList(ctx context.Context, list string, authCtx policy.AuthContext) (int, error)
	SetDone(ctx context.Context, taskID string, done bool, authCtx policy.AuthContext) (domain.Task, error)
	View(ctx context.Context, list string, authCtx policy.AuthContext) (domain.ListView, error)
	NormalizeListName(raw string) string
	ResolveOwner(authCtx policy.AuthContext) (string, error)
	DefaultList() string
}

// Authenticator is implemented by types able to resolve users from
// credentials or external identities.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (domain.User, error)
	Authenticate(ctx context.Context, username, password string) (domain.User, error)
	AuthenticateOrProvision(ctx context.Context, externalID, username string) (domain.User, error)
}

// ChangeSink receives change events for the activity feed.
type ChangeSink interface {
	EnqueueChanges(ctx context.Context, events []domain.ChangeEvent) error
}

// ValidationError matches rejected input reported by storage.
type ValidationError interface {
	error
	InvalidInput()
}

// NotFoundError matches operations that targeted a missing record.
type NotFoundError interface {
	error
	NotFound()
}
