package client

import "github.com/dahch/task-board-sync/domain"

// ConnectionState is the transport lifecycle state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the client taken after a change.
type Snapshot struct {
	Tasks   []domain.Task
	Users   []domain.User
	Current *domain.User
	State   ConnectionState
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{State: s.State}
	if s.Tasks != nil {
		out.Tasks = make([]domain.Task, len(s.Tasks))
		copy(out.Tasks, s.Tasks)
	}
	if s.Users != nil {
		out.Users = make([]domain.User, len(s.Users))
		copy(out.Users, s.Users)
	}
	if s.Current != nil {
		u := *s.Current
		out.Current = &u
	}
	return out
}
