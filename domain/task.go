package domain

// Task is a single to-do item. List, Text and Owner are fixed at creation;
// only Done changes afterwards.
type Task struct {
	ID    string `json:"id"`
	List  string `json:"list"`
	Text  string `json:"text"`
	Done  bool   `json:"done,omitempty"`
	Owner string `json:"-"`
}

// ListView is the render-ready projection of one named list.
type ListView struct {
	List  string `json:"list"`
	Tasks []Task `json:"tasks"`
}
