package domain

import (
	"encoding/json"
	"time"
)

// Todo is a single item on a user's list. Position orders a user's todos and
// is only dense right after a reorder.
type Todo struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"-"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	DueDate   *string   `json:"dueDate"`
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// NewTodo carries the fields a caller supplies on creation.
type NewTodo struct {
	OwnerID int64
	Text    string
	DueDate *string
}

// TodoPatch is a partial update. Text and Completed apply only when Set;
// DueDate is always written, so an absent or null value clears it.
type TodoPatch struct {
	Text      Optional[string]  `json:"text"`
	Completed Optional[bool]    `json:"completed"`
	DueDate   Optional[*string] `json:"dueDate"`
}

// Optional records whether a JSON field was present at all, so that an
// omitted field can be told apart from an explicit null or zero value.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// UnmarshalJSON marks the field present, including for a literal null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON encodes the held value, or null when unset.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// TodoEventType names a change applied to a user's list.
type TodoEventType string

const (
	TodoCreated   TodoEventType = "todo.created"
	TodoUpdated   TodoEventType = "todo.updated"
	TodoDeleted   TodoEventType = "todo.deleted"
	TodoReordered TodoEventType = "todo.reordered"
)

// TodoEvent is pushed to a user's realtime subscribers after a mutation.
type TodoEvent struct {
	Type    TodoEventType `json:"type"`
	OwnerID int64         `json:"-"`
	TodoID  int64         `json:"todoId,omitempty"`
	TodoIDs []int64       `json:"todoIds,omitempty"`
	Todo    *Todo         `json:"todo,omitempty"`
	At      time.Time     `json:"at"`
}
