// Package policy enforces list-level rules before delegating to storage:
// canonical list naming, owner scoping and default-list protection.
package policy

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ewen-r/to-do-list/domain"
)

// DefaultListName is the list that always exists and can never be deleted.
const DefaultListName = "Personal"

var (
	// ErrProtectedList is returned when a caller tries to delete the default list.
	ErrProtectedList = errors.New("the default list cannot be deleted")
	// ErrUnauthenticated is returned when an owner-scoped operation has no
	// authenticated user and anonymous access is disabled.
	ErrUnauthenticated = errors.New("authentication required")
)

// AuthContext exposes the identity of the inbound request.
type AuthContext interface {
	IsAuthenticated() bool
	UserID() string
}

// TaskStore abstracts task persistence for the policy layer.
type TaskStore interface {
	CreateTask(ctx context.Context, list, text, owner string) (domain.Task, error)
	ListTasks(ctx context.Context, list, owner string) ([]domain.Task, error)
	SetDone(ctx context.Context, owner, taskID string, done bool) (domain.Task, error)
	DeleteList(ctx context.Context, list, owner string) (int, error)
	PruneCompleted(ctx context.Context, list, owner string) (int, error)
}

// Policy applies list rules on top of a TaskStore.
type Policy struct {
	store          TaskStore
	defaultList    string
	anonymousOwner string // empty means authentication is required
}

// New creates a Policy. defaultList falls back to DefaultListName when empty.
// A non-empty anonymousOwner enables unauthenticated access under that fixed
// owner key; when empty, unauthenticated requests fail with ErrUnauthenticated.
func New(store TaskStore, defaultList, anonymousOwner string) *Policy {
	if store == nil {
		panic("policy.New: store is nil")
	}
	if defaultList == "" {
		defaultList = DefaultListName
	}
	return &Policy{store: store, defaultList: defaultList, anonymousOwner: anonymousOwner}
}

// DefaultList returns the configured default list name.
func (p *Policy) DefaultList() string { return p.defaultList }

// NormalizeListName maps raw user input to the canonical list name: first
// letter upper-cased, the rest lowered. Empty input means the default list.
func (p *Policy) NormalizeListName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p.defaultList
	}
	r, size := utf8.DecodeRuneInString(raw)
	return string(unicode.ToUpper(r)) + strings.ToLower(raw[size:])
}

// ResolveOwner maps the request identity to the owner key used for scoping.
func (p *Policy) ResolveOwner(authCtx AuthContext) (string, error) {
	if authCtx != nil && authCtx.IsAuthenticated() {
		return authCtx.UserID(), nil
	}
	if p.anonymousOwner != "" {
		return p.anonymousOwner, nil
	}
	return "", ErrUnauthenticated
}

// AddItem creates a new pending task in the named list.
func (p *Policy) AddItem(ctx context.Context, list, text string, authCtx AuthContext) (domain.Task, error) {
	owner, err := p.ResolveOwner(authCtx)
	if err != nil {
		return domain.Task{}, err
	}
	return p.store.CreateTask(ctx, p.NormalizeListName(list), text, owner)
}

// DeleteList removes the named list. The default list is protected and an
// absent list deletes nothing without failing.
func (p *Policy) DeleteList(ctx context.Context, list string, authCtx AuthContext) (int, error) {
	name := p.NormalizeListName(list)
	if name == p.defaultList {
		return 0, ErrProtectedList
	}
	owner, err := p.ResolveOwner(authCtx)
	if err != nil {
		return 0, err
	}
	return p.store.DeleteList(ctx, name, owner)
}

// PruneList removes the completed tasks from the named list.
func (p *Policy) PruneList(ctx context.Context, list string, authCtx AuthContext) (int, error) {
	owner, err := p.ResolveOwner(authCtx)
	if err != nil {
		return 0, err
	}
	return p.store.PruneCompleted(ctx, p.NormalizeListName(list), owner)
}

// SetDone updates a task's completion flag. The toggle is owner-scoped: a
// task id belonging to someone else reads as not found.
func (p *Policy) SetDone(ctx context.Context, taskID string, done bool, authCtx AuthContext) (domain.Task, error) {
	owner, err := p.ResolveOwner(authCtx)
	if err != nil {
		return domain.Task{}, err
	}
	return p.store.SetDone(ctx, owner, taskID, done)
}

// View returns the render-ready projection of the named list.
func (p *Policy) View(ctx context.Context, list string, authCtx AuthContext) (domain.ListView, error) {
	name := p.NormalizeListName(list)
	owner, err := p.ResolveOwner(authCtx)
	if err != nil {
		return domain.ListView{}, err
	}
	tasks, err := p.store.ListTasks(ctx, name, owner)
	if err != nil {
		return domain.ListView{}, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return domain.ListView{List: name, Tasks: tasks}, nil
}
