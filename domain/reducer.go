package domain

// ActionType tags a reducer Action.
type ActionType string

const (
	AddTaskAction    ActionType = "ADD_TASK"
	UpdateTaskAction ActionType = "UPDATE_TASK"
	DeleteTaskAction ActionType = "DELETE_TASK"
	SetTasksAction   ActionType = "SET_TASKS"
)

// Action is the input of Apply. Only the field matching Type is read.
type Action struct {
	Type  ActionType
	Task  Task
	ID    string
	Tasks []Task
}

// AddTask appends t.
func AddTask(t Task) Action { return Action{Type: AddTaskAction, Task: t} }

// UpdateTask replaces the task with t's id.
func UpdateTask(t Task) Action { return Action{Type: UpdateTaskAction, Task: t} }

// DeleteTask removes the task with the given id.
func DeleteTask(id string) Action { return Action{Type: DeleteTaskAction, ID: id} }

// SetTasks replaces the whole collection with ts.
func SetTasks(ts []Task) Action { return Action{Type: SetTasksAction, Tasks: ts} }

// Apply returns the task collection that results from applying action to
// tasks. It never modifies tasks in place. Duplicate ids are not detected and
// updates or deletes of unknown ids leave the collection unchanged.
func Apply(tasks []Task, action Action) []Task {
	switch action.Type {
	case AddTaskAction:
		out := make([]Task, 0, len(tasks)+1)
		out = append(out, tasks...)
		return append(out, action.Task)
	case UpdateTaskAction:
		out := make([]Task, len(tasks))
		for i, t := range tasks {
			if t.ID == action.Task.ID {
				out[i] = action.Task
				continue
			}
			out[i] = t
		}
		return out
	case DeleteTaskAction:
		out := make([]Task, 0, len(tasks))
		for _, t := range tasks {
			if t.ID != action.ID {
				out = append(out, t)
			}
		}
		return out
	case SetTasksAction:
		return action.Tasks
	default:
		return tasks
	}
}
