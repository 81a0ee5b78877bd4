// Package client keeps a local replica of the board in sync with the relay.
//
// A Client owns a single event loop goroutine. Local mutations, inbound relay
// frames and connection lifecycle changes are all delivered to that loop as
// messages, so the replica is only ever touched by one goroutine and each
// handler works on the authoritative current collection.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/protocol"
	"github.com/dahch/task-board-sync/storage"
)

const (
	// ReconnectAttempts is the number of dial attempts per outage before the
	// client gives up for the rest of the session.
	ReconnectAttempts = 5
	// ReconnectDelay is the fixed pause between dial attempts.
	ReconnectDelay = 1000 * time.Millisecond

	outboundBuffer = 64
	cacheTimeout   = 5 * time.Second
	flushTimeout   = time.Second
)

var (
	ErrAlreadyStarted = errors.New("client: already started")
	ErrStopped        = errors.New("client: not running")
)

// Options configures a Client.
type Options struct {
	// URL is the relay origin, e.g. http://localhost:9000.
	URL    string
	Cache  storage.Cache
	Logger *log.Logger
	Dialer Dialer
}

// Client is the transport client of a board replica.
type Client struct {
	target string
	cache  storage.Cache
	logger *log.Logger
	dialer Dialer
	delay  time.Duration

	msgs     chan message
	loopDone chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	lifeMu  sync.Mutex
	started bool
	stopped bool

	snap atomic.Pointer[Snapshot]

	subMu      sync.Mutex
	subs       map[*Subscription]struct{}
	subsClosed bool

	// owned by the event loop
	tasks   []domain.Task
	users   []domain.User
	current *domain.User
	state   ConnectionState
	sess    *session
	baseCtx context.Context

	// pending is the newest collection mutated while no session was up.
	pending    []domain.Task
	hasPending bool
}

// New creates a client for the relay at opts.URL.
func New(opts Options) (*Client, error) {
	target, err := endpoint(opts.URL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		target:   target,
		cache:    opts.Cache,
		logger:   opts.Logger,
		dialer:   opts.Dialer,
		delay:    ReconnectDelay,
		msgs:     make(chan message),
		loopDone: make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
		tasks:    []domain.Task{},
		state:    Disconnected,
		baseCtx:  context.Background(),
	}
	if c.cache == nil {
		c.cache = storage.Nop{}
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	c.snap.Store(&Snapshot{Tasks: []domain.Task{}, State: Disconnected})
	return c, nil
}

// Start hydrates the replica from the persistence cache and begins connecting
// to the relay. It does not wait for the connection.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	loadCtx, cancelLoad := context.WithTimeout(ctx, cacheTimeout)
	cached, ok, err := c.cache.Load(loadCtx)
	cancelLoad()
	switch {
	case err != nil:
		c.logger.WithError(err).Warn("failed to read task cache")
	case ok:
		c.tasks = domain.Apply(c.tasks, domain.SetTasks(cached))
		c.logger.WithField("tasks", len(cached)).Debug("hydrated replica from cache")
	}
	c.publish()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.baseCtx = runCtx
	c.wg.Add(2)
	go c.run(runCtx)
	go c.connect(runCtx)
	return nil
}

// Stop tears down the connection and the event loop. Frames already queued
// are written first. After Stop returns no further events are handled and
// every subscription channel is closed.
func (c *Client) Stop() {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.lifeMu.Unlock()

	if started {
		c.cancel()
		c.wg.Wait()
	}
	c.closeSubscriptions()
}

// Tasks returns the current replica.
func (c *Client) Tasks() []domain.Task { return c.snapshot().Tasks }

// ConnectedUsers returns the peer set from the last users:update.
func (c *Client) ConnectedUsers() []domain.User { return c.snapshot().Users }

// CurrentUser returns the identity assigned on the current connection.
func (c *Client) CurrentUser() (domain.User, bool) {
	s := c.snapshot()
	if s.Current == nil {
		return domain.User{}, false
	}
	return *s.Current, true
}

// State returns the connection state.
func (c *Client) State() ConnectionState { return c.snapshot().State }

// Snapshot returns a copy of the current client view.
func (c *Client) Snapshot() Snapshot { return c.snapshot() }

func (c *Client) snapshot() Snapshot { return c.snap.Load().clone() }

// AddTask appends t locally and sends the resulting collection to the relay.
func (c *Client) AddTask(t domain.Task) error {
	return c.mutate(domain.AddTask(t))
}

// UpdateTask replaces the task with t.ID locally and sends the resulting
// collection to the relay.
func (c *Client) UpdateTask(t domain.Task) error {
	return c.mutate(domain.UpdateTask(t))
}

// DeleteTask removes the task locally and sends the resulting collection to
// the relay.
func (c *Client) DeleteTask(id string) error {
	return c.mutate(domain.DeleteTask(id))
}

// EmitTaskInteraction announces that the current user started (non-nil action)
// or stopped (nil) moving or editing a task. Without a current identity the
// call does nothing.
func (c *Client) EmitTaskInteraction(taskID string, action *domain.InteractionAction) error {
	done := make(chan struct{})
	if !c.post(interactionMsg{taskID: taskID, action: action, done: done}) {
		return ErrStopped
	}
	return c.wait(done)
}

func (c *Client) mutate(action domain.Action) error {
	done := make(chan struct{})
	if !c.post(mutateMsg{action: action, done: done}) {
		return ErrStopped
	}
	return c.wait(done)
}

func (c *Client) wait(done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-c.loopDone:
		return ErrStopped
	}
}

func (c *Client) post(m message) bool {
	c.lifeMu.Lock()
	running := c.started && !c.stopped
	c.lifeMu.Unlock()
	if !running {
		return false
	}
	select {
	case c.msgs <- m:
		return true
	case <-c.loopDone:
		return false
	}
}

// send posts from goroutines owned by the client; it skips the lifecycle
// check since those goroutines only exist while the loop runs.
func (c *Client) send(m message) bool {
	select {
	case c.msgs <- m:
		return true
	case <-c.loopDone:
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.loopDone)
	for {
		select {
		case <-ctx.Done():
			if c.sess != nil {
				close(c.sess.out)
				c.sess = nil
			}
			c.current = nil
			c.state = Disconnected
			c.publish()
			return
		case m := <-c.msgs:
			m.handle(c)
		}
	}
}

// emitTasks sends the collection, or holds it for the next session when
// there is none. Only the newest held collection is kept.
func (c *Client) emitTasks(tasks []domain.Task) {
	if c.sess == nil {
		c.pending, c.hasPending = tasks, true
		c.logger.WithField("tasks", len(tasks)).Debug("no connection, holding task update for the next session")
		return
	}
	c.pending, c.hasPending = nil, false
	c.emit(protocol.EventTasksUpdate, tasks)
}

// flushPending sends the held collection once the relay has assigned an
// identity on the new session.
func (c *Client) flushPending() {
	if !c.hasPending {
		return
	}
	tasks := c.pending
	c.pending, c.hasPending = nil, false
	c.logger.WithField("tasks", len(tasks)).Info("sending task update held during the outage")
	c.emit(protocol.EventTasksUpdate, tasks)
}

// emit queues a frame on the live session. Frames are dropped when there is
// no session or its buffer is full.
func (c *Client) emit(event string, v any) {
	if c.sess == nil {
		c.logger.WithField("event", event).Debug("no connection, dropping outbound event")
		return
	}
	frame, err := protocol.Encode(event, v)
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("failed to encode outbound event")
		return
	}
	select {
	case c.sess.out <- frame:
	default:
		c.logger.WithField("event", event).Warn("outbound buffer full, dropping event")
	}
}

func (c *Client) setState(s ConnectionState) {
	if c.state == s {
		return
	}
	c.logger.WithFields(log.Fields{"from": c.state.String(), "state": s.String()}).Info("connection state changed")
	c.state = s
}

func (c *Client) publish() {
	s := &Snapshot{Tasks: c.tasks, Users: c.users, Current: c.current, State: c.state}
	cp := s.clone()
	c.snap.Store(&cp)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subs {
		sub.offer(cp.clone())
	}
}

func (c *Client) storeCache(tasks []domain.Task) {
	ctx, cancel := context.WithTimeout(c.baseCtx, cacheTimeout)
	defer cancel()
	if err := c.cache.Store(ctx, tasks); err != nil {
		c.logger.WithError(err).Warn("failed to write task cache")
	}
}
