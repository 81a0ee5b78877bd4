package client

import (
	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/protocol"
)

// message is anything the event loop handles.
type message interface {
	handle(c *Client)
}

type mutateMsg struct {
	action domain.Action
	done   chan struct{}
}

func (m mutateMsg) handle(c *Client) {
	defer close(m.done)
	c.tasks = domain.Apply(c.tasks, m.action)
	c.emitTasks(c.tasks)
	c.publish()
}

type interactionMsg struct {
	taskID string
	action *domain.InteractionAction
	done   chan struct{}
}

func (m interactionMsg) handle(c *Client) {
	defer close(m.done)
	if c.current == nil {
		return
	}
	c.emit(protocol.EventTaskInteraction, domain.Interaction{
		TaskID: m.taskID,
		UserID: c.current.ID,
		Action: m.action,
	})
}

type stateMsg struct {
	state   ConnectionState
	attempt int
}

func (m stateMsg) handle(c *Client) {
	if m.attempt > 0 {
		c.logger.WithFields(log.Fields{"attempt": m.attempt, "state": m.state.String()}).Debug("dialing relay")
	}
	c.setState(m.state)
	c.publish()
}

type sessionUpMsg struct {
	sess *session
}

func (m sessionUpMsg) handle(c *Client) {
	c.sess = m.sess
	c.logger.WithField("session", m.sess.id).Debug("transport open, waiting for handshake")
}

type sessionDownMsg struct {
	sess *session
	err  error
}

func (m sessionDownMsg) handle(c *Client) {
	if c.sess != m.sess {
		return
	}
	close(m.sess.out)
	c.sess = nil
	c.current = nil
	c.setState(Connecting)
	c.logger.WithError(m.err).WithField("session", m.sess.id).Warn("lost connection to relay")
	c.publish()
}

type inboundMsg struct {
	sess *session
	env  protocol.Envelope
}

func (m inboundMsg) handle(c *Client) {
	if c.sess != m.sess {
		return
	}
	logger := c.logger.WithField("event", m.env.Event)
	switch m.env.Event {
	case protocol.EventConnect:
		var data protocol.ConnectData
		if err := m.env.Bind(&data); err != nil || data.ID == "" {
			logger.WithError(err).Warn("connect without identity")
			c.current = nil
		} else {
			c.current = &domain.User{ID: data.ID}
			logger = logger.WithField("user", data.ID)
		}
		c.setState(Connected)
		logger.Info("connected to relay")
		c.flushPending()
	case protocol.EventUsersUpdate:
		var users []domain.User
		if err := m.env.Bind(&users); err != nil {
			logger.WithError(err).Warn("dropping malformed event")
			return
		}
		c.users = users
	case protocol.EventTasksUpdate:
		var tasks []domain.Task
		if err := m.env.Bind(&tasks); err != nil {
			logger.WithError(err).Warn("dropping malformed event")
			return
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		c.tasks = domain.Apply(c.tasks, domain.SetTasks(tasks))
		c.storeCache(tasks)
	case protocol.EventTaskInteraction:
		var in domain.Interaction
		if err := m.env.Bind(&in); err != nil {
			logger.WithError(err).Warn("dropping malformed event")
			return
		}
		c.applyInteraction(in)
	default:
		logger.Debug("ignoring unknown event")
		return
	}
	c.publish()
}

func (c *Client) applyInteraction(in domain.Interaction) {
	task, ok := domain.FindTask(c.tasks, in.TaskID)
	if !ok {
		return
	}
	if in.Action != nil {
		task.ActiveUser = &domain.ActiveUser{ID: in.UserID, Action: *in.Action}
	} else {
		task.ActiveUser = nil
	}
	c.tasks = domain.Apply(c.tasks, domain.UpdateTask(task))
}
