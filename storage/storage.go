package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"github.com/ewen-r/to-do-list/domain"
)

const (
	localPartition = "local"
	oidcPartition  = "oidc"
)

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to underlying persistence mechanisms. Tasks are
// partitioned by owner with the task id as row key, so every owner-scoped
// lookup stays within a single partition.
type Storage struct {
	taskTable     tableClient
	userTable     tableClient
	activityQueue queueClient
}

// New creates a Storage instance from the given connection string. The
// activity queue name may be empty, in which case change events are dropped.
func New(connStr, tasksTable, usersTable, activityQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}
	if activityQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, activityQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.activityQueue = q
	}
	return s, nil
}

type taskEntity struct {
	aztables.Entity
	List string `json:"List"`
	Text string `json:"Text"`
	Done bool   `json:"Done"`
}

type userEntity struct {
	aztables.Entity
	UserID       string `json:"UserID"`
	Username     string `json:"Username"`
	PasswordHash string `json:"PasswordHash,omitempty"`
}

// CreateTask inserts a new pending task for the owner and returns it.
func (s *Storage) CreateTask(ctx context.Context, list, text, owner string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, ValidationError{Field: "text", Reason: "must not be empty"}
	}
	t := domain.Task{ID: uuid.NewString(), List: list, Text: text, Owner: owner}
	ent := taskEntity{
		Entity: aztables.Entity{PartitionKey: owner, RowKey: t.ID},
		List:   list,
		Text:   text,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks returns the owner's tasks in the named list, pending first and
// alphabetical within each completion group. A list with no tasks yields an
// empty slice.
func (s *Storage) ListTasks(ctx context.Context, list, owner string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + quoteOData(owner) + "' and List eq '" + quoteOData(list) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, domain.Task{
				ID:    ent.RowKey,
				List:  ent.List,
				Text:  ent.Text,
				Done:  ent.Done,
				Owner: ent.PartitionKey,
			})
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

// SetDone updates a single task's completion flag and returns the updated
// task. The lookup is keyed by (owner, taskID), so a task belonging to a
// different owner is indistinguishable from a missing one.
func (s *Storage) SetDone(ctx context.Context, owner, taskID string, done bool) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, taskID, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Task{}, NotFoundError{Kind: "task", ID: taskID}
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	ent.Done = done
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Task{}, NotFoundError{Kind: "task", ID: taskID}
		}
		return domain.Task{}, err
	}
	return domain.Task{ID: ent.RowKey, List: ent.List, Text: ent.Text, Done: done, Owner: owner}, nil
}

// DeleteList removes every task in the owner's named list and reports how
// many were removed. An absent list is not an error.
func (s *Storage) DeleteList(ctx context.Context, list, owner string) (int, error) {
	filter := "PartitionKey eq '" + quoteOData(owner) + "' and List eq '" + quoteOData(list) + "'"
	return s.deleteMatching(ctx, filter)
}

// PruneCompleted removes only the completed tasks in the owner's named list.
func (s *Storage) PruneCompleted(ctx context.Context, list, owner string) (int, error) {
	filter := "PartitionKey eq '" + quoteOData(owner) + "' and List eq '" + quoteOData(list) + "' and Done eq true"
	return s.deleteMatching(ctx, filter)
}

// deleteMatching deletes entities one by one; the matching set is not removed
// atomically and concurrent inserts may be missed.
func (s *Storage) deleteMatching(ctx context.Context, filter string) (int, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	count := 0
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return count, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return count, err
			}
			if _, err := s.taskTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil {
				if hasStatus(err, http.StatusNotFound) {
					// Lost a race with a concurrent delete; already gone.
					continue
				}
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// InsertLocalUser stores a credential-backed account. Username uniqueness is
// enforced by the row key.
func (s *Storage) InsertLocalUser(ctx context.Context, u domain.User) error {
	ent := userEntity{
		Entity:       aztables.Entity{PartitionKey: localPartition, RowKey: u.Username},
		UserID:       u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return ConflictError{Kind: "user", Key: u.Username}
		}
		return err
	}
	return nil
}

// LocalUser fetches a credential-backed account by username.
func (s *Storage) LocalUser(ctx context.Context, username string) (domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, localPartition, username, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.User{}, NotFoundError{Kind: "user", ID: username}
		}
		return domain.User{}, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.UserID, Username: ent.Username, PasswordHash: ent.PasswordHash}, nil
}

// InsertExternalUser stores an account provisioned from an external identity.
func (s *Storage) InsertExternalUser(ctx context.Context, u domain.User) error {
	ent := userEntity{
		Entity:   aztables.Entity{PartitionKey: oidcPartition, RowKey: u.ExternalID},
		UserID:   u.ID,
		Username: u.Username,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return ConflictError{Kind: "user", Key: u.ExternalID}
		}
		return err
	}
	return nil
}

// UserByExternalID fetches an account by its external identity.
func (s *Storage) UserByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, oidcPartition, externalID, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.User{}, NotFoundError{Kind: "user", ID: externalID}
		}
		return domain.User{}, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.UserID, Username: ent.Username, ExternalID: ent.RowKey}, nil
}

// EnqueueChanges sends change events to the activity queue. It is a no-op
// when no queue is configured.
func (s *Storage) EnqueueChanges(ctx context.Context, events []domain.ChangeEvent) error {
	if s.activityQueue == nil {
		return nil
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.activityQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Done != tasks[j].Done {
			return !tasks[i].Done
		}
		return tasks[i].Text < tasks[j].Text
	})
}

func quoteOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
