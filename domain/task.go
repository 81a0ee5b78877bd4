package domain

// Column is one of the fixed board columns a task can sit in.
type Column string

const (
	ColumnToDo       Column = "To Do"
	ColumnInProgress Column = "In Progress"
	ColumnDone       Column = "Done"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnToDo, ColumnInProgress, ColumnDone}

// Valid reports whether c is one of the board columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnToDo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// InteractionAction describes what a peer is doing with a task.
type InteractionAction string

const (
	ActionMoving  InteractionAction = "moving"
	ActionEditing InteractionAction = "editing"
)

// ActiveUser is the ephemeral presence annotation carried on a task record.
type ActiveUser struct {
	ID     string            `json:"id"`
	Action InteractionAction `json:"action"`
}

// Task is a single board item.
type Task struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Column     Column      `json:"column"`
	ActiveUser *ActiveUser `json:"activeUser,omitempty"`
}

// User is a connected peer. ID is connection scoped and changes across reconnects.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Interaction is the payload of a task:interaction event. A nil Action clears
// the annotation.
type Interaction struct {
	TaskID string             `json:"taskId"`
	UserID string             `json:"userId"`
	Action *InteractionAction `json:"action"`
}

// ActionPtr returns a pointer to a, for building interactions.
func ActionPtr(a InteractionAction) *InteractionAction {
	return &a
}

// FindTask returns the first task with the given id.
func FindTask(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// WithoutPresence returns a copy of tasks with every ActiveUser annotation removed.
func WithoutPresence(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		t.ActiveUser = nil
		out[i] = t
	}
	return out
}
