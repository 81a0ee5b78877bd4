// Package presence derives who is doing what on the board from the replica
// and the peer set. It holds no state of its own.
package presence

import (
	"github.com/dahch/task-board-sync/domain"
)

// Source is the read side of a replica.
type Source interface {
	Tasks() []domain.Task
	ConnectedUsers() []domain.User
	CurrentUser() (domain.User, bool)
}

// Static is a Source over a fixed view.
type Static struct {
	TaskList []domain.Task
	Users    []domain.User
	Current  *domain.User
}

func (s Static) Tasks() []domain.Task          { return s.TaskList }
func (s Static) ConnectedUsers() []domain.User { return s.Users }

func (s Static) CurrentUser() (domain.User, bool) {
	if s.Current == nil {
		return domain.User{}, false
	}
	return *s.Current, true
}

// Activity is what a peer is doing right now.
type Activity struct {
	TaskID    string
	TaskTitle string
	Action    domain.InteractionAction
}

// PeerStatus is one row of the connected users panel.
type PeerStatus struct {
	User      domain.User
	IsCurrent bool
	Label     string
	Activity  *Activity
}

type Tracker struct {
	src Source
}

func New(src Source) *Tracker {
	return &Tracker{src: src}
}

// ActiveUser returns the annotation on the task. It is not checked against
// the peer set, so a peer that vanished mid-interaction stays visible until
// the next snapshot.
func (t *Tracker) ActiveUser(taskID string) (domain.ActiveUser, bool) {
	task, ok := domain.FindTask(t.src.Tasks(), taskID)
	if !ok || task.ActiveUser == nil {
		return domain.ActiveUser{}, false
	}
	return *task.ActiveUser, true
}

// Peers returns the peer set from the last users:update.
func (t *Tracker) Peers() []domain.User {
	return t.src.ConnectedUsers()
}

// ActivityOf returns the first task, in replica order, that userID is active on.
func (t *Tracker) ActivityOf(userID string) (Activity, bool) {
	return activityOf(t.src.Tasks(), userID)
}

// Roster lists every peer with its label and current activity.
func (t *Tracker) Roster() []PeerStatus {
	tasks := t.src.Tasks()
	current, hasCurrent := t.src.CurrentUser()
	users := t.src.ConnectedUsers()

	out := make([]PeerStatus, 0, len(users))
	for _, u := range users {
		st := PeerStatus{
			User:      u,
			IsCurrent: hasCurrent && u.ID == current.ID,
		}
		st.Label = Label(u, st.IsCurrent)
		if a, ok := activityOf(tasks, u.ID); ok {
			st.Activity = &a
		}
		out = append(out, st)
	}
	return out
}

// Label is the display name of a peer: "You" for the local user, otherwise
// "User " and the first four characters of the id.
func Label(u domain.User, isCurrent bool) string {
	if isCurrent {
		return "You"
	}
	id := []rune(u.ID)
	if len(id) > 4 {
		id = id[:4]
	}
	return "User " + string(id)
}

func activityOf(tasks []domain.Task, userID string) (Activity, bool) {
	for _, task := range tasks {
		if task.ActiveUser != nil && task.ActiveUser.ID == userID {
			return Activity{TaskID: task.ID, TaskTitle: task.Title, Action: task.ActiveUser.Action}, true
		}
	}
	return Activity{}, false
}
