// Package hub is the relay's connection registry. It assigns connection ids,
// keeps the peer list and the canonical snapshot, and fans events out to
// every connected peer.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/internal/telemetry"
	"github.com/dahch/task-board-sync/protocol"
)

const sendBuffer = 64

var ErrUnknownEvent = errors.New("hub: unknown event")

// Store persists the canonical snapshot.
type Store interface {
	Load(ctx context.Context) ([]domain.Task, bool, error)
	Save(ctx context.Context, tasks []domain.Task) error
}

// Publisher forwards relayed frames to other relay instances.
type Publisher interface {
	Publish(ctx context.Context, frame []byte) error
}

// Peer is one connected replica.
type Peer struct {
	ID   string
	send chan []byte
}

// Send returns the frames queued for the peer. It is closed on Unregister.
func (p *Peer) Send() <-chan []byte { return p.send }

type Options struct {
	Logger    *log.Logger
	Store     Store
	Publisher Publisher
}

type Hub struct {
	logger    *log.Logger
	store     Store
	publisher Publisher

	// saveMu orders persistence with the state updates it follows.
	saveMu sync.Mutex

	mu       sync.Mutex
	peers    []*Peer
	tasks    []domain.Task
	hasTasks bool
}

func New(opts Options) *Hub {
	h := &Hub{
		logger:    opts.Logger,
		store:     opts.Store,
		publisher: opts.Publisher,
	}
	if h.logger == nil {
		h.logger = log.StandardLogger()
	}
	return h
}

// Restore loads the canonical snapshot from the store.
func (h *Hub) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	tasks, ok, err := h.store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	h.mu.Lock()
	h.tasks = domain.WithoutPresence(tasks)
	h.hasTasks = true
	h.mu.Unlock()
	h.logger.WithField("tasks", len(tasks)).Info("restored canonical snapshot")
	return nil
}

// Register adds a peer. The peer receives its id, every peer receives the new
// peer set, and the new peer receives the snapshot if the relay holds one.
func (h *Hub) Register() *Peer {
	p := &Peer{ID: uuid.NewString(), send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers = append(h.peers, p)
	h.deliver(p, protocol.EventConnect, protocol.ConnectData{ID: p.ID})
	h.broadcast(protocol.EventUsersUpdate, h.users())
	if h.hasTasks {
		h.deliver(p, protocol.EventTasksUpdate, h.tasks)
	}
	h.logger.WithFields(log.Fields{"peer_id": p.ID, "peers": len(h.peers)}).Info("peer connected")
	return p
}

// Unregister removes the peer and closes its send channel. Annotations the
// peer left on tasks are kept.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, other := range h.peers {
		if other == p {
			h.peers = append(h.peers[:i:i], h.peers[i+1:]...)
			close(p.send)
			h.broadcast(protocol.EventUsersUpdate, h.users())
			h.logger.WithFields(log.Fields{"peer_id": p.ID, "peers": len(h.peers)}).Info("peer disconnected")
			return
		}
	}
}

// Handle processes a frame received from p.
func (h *Hub) Handle(ctx context.Context, p *Peer, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		h.logger.WithError(err).WithField("peer_id", p.ID).Warn("dropping undecodable frame")
		return err
	}
	ctx, span := telemetry.StartEvent(ctx, h.logger, env.Event, p.ID)
	var n int
	switch env.Event {
	case protocol.EventTasksUpdate:
		var tasks []domain.Task
		if err = env.Bind(&tasks); err == nil {
			span.SetTasks(len(tasks))
			n, err = h.replace(ctx, tasks, true)
		}
	case protocol.EventTaskInteraction:
		var in domain.Interaction
		if err = env.Bind(&in); err == nil {
			n, err = h.interaction(ctx, in, true)
		}
	default:
		err = ErrUnknownEvent
	}
	span.SetRecipients(n)
	span.End(err)
	return err
}

// Deliver applies a frame relayed by another instance to the local peers.
// It is not persisted or published again.
func (h *Hub) Deliver(ctx context.Context, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	switch env.Event {
	case protocol.EventTasksUpdate:
		var tasks []domain.Task
		if err := env.Bind(&tasks); err != nil {
			return err
		}
		_, err = h.replace(ctx, tasks, false)
		return err
	case protocol.EventTaskInteraction:
		var in domain.Interaction
		if err := env.Bind(&in); err != nil {
			return err
		}
		_, err = h.interaction(ctx, in, false)
		return err
	default:
		return ErrUnknownEvent
	}
}

// Tasks returns the canonical snapshot and whether the relay holds one.
func (h *Hub) Tasks() ([]domain.Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Task, len(h.tasks))
	copy(out, h.tasks)
	return out, h.hasTasks
}

// Users returns the connected peers in connect order.
func (h *Hub) Users() []domain.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users()
}

func (h *Hub) replace(ctx context.Context, tasks []domain.Task, origin bool) (int, error) {
	canonical := domain.WithoutPresence(tasks)
	if canonical == nil {
		canonical = []domain.Task{}
	}

	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	h.mu.Lock()
	h.tasks = canonical
	h.hasTasks = true
	frame := h.broadcast(protocol.EventTasksUpdate, canonical)
	n := len(h.peers)
	h.mu.Unlock()

	if !origin {
		return n, nil
	}
	var errs []error
	if h.store != nil {
		if err := h.store.Save(ctx, canonical); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.publish(ctx, frame); err != nil {
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}

func (h *Hub) interaction(ctx context.Context, in domain.Interaction, origin bool) (int, error) {
	h.mu.Lock()
	frame := h.broadcast(protocol.EventTaskInteraction, in)
	n := len(h.peers)
	h.mu.Unlock()
	if !origin {
		return n, nil
	}
	return n, h.publish(ctx, frame)
}

func (h *Hub) publish(ctx context.Context, frame []byte) error {
	if h.publisher == nil || frame == nil {
		return nil
	}
	return h.publisher.Publish(ctx, frame)
}

// users builds the peer set. Callers hold mu.
func (h *Hub) users() []domain.User {
	out := make([]domain.User, len(h.peers))
	for i, p := range h.peers {
		out[i] = domain.User{ID: p.ID}
	}
	return out
}

// broadcast queues the event for every peer and returns the encoded frame.
// Callers hold mu.
func (h *Hub) broadcast(event string, v any) []byte {
	frame, err := protocol.Encode(event, v)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("failed to encode event")
		return nil
	}
	for _, p := range h.peers {
		h.queue(p, event, frame)
	}
	return frame
}

// deliver queues the event for one peer. Callers hold mu.
func (h *Hub) deliver(p *Peer, event string, v any) {
	frame, err := protocol.Encode(event, v)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("failed to encode event")
		return
	}
	h.queue(p, event, frame)
}

func (h *Hub) queue(p *Peer, event string, frame []byte) {
	select {
	case p.send <- frame:
	default:
		h.logger.WithFields(log.Fields{"peer_id": p.ID, "event": event}).Warn("peer send buffer full, dropping event")
	}
}
