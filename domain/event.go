package domain

// Change event types emitted to the activity queue.
const (
	ChangeItemAdded   = "item-added"
	ChangeDoneSet     = "done-set"
	ChangeListPruned  = "list-pruned"
	ChangeListDeleted = "list-deleted"
)

// ChangeEvent records one successful mutation for the activity feed.
type ChangeEvent struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	List      string `json:"list"`
	TaskID    string `json:"taskId,omitempty"`
	Type      string `json:"type"`
	Count     int    `json:"count,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
