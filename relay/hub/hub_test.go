package hub

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/protocol"
)

type fakeStore struct {
	mu     sync.Mutex
	tasks  []domain.Task
	ok     bool
	saves  int
	saveFn func([]domain.Task) error
}

func (f *fakeStore) Load(context.Context) ([]domain.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks, f.ok, nil
}

func (f *fakeStore) Save(_ context.Context, tasks []domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveFn != nil {
		return f.saveFn(tasks)
	}
	f.tasks, f.ok = tasks, true
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func newTestHub(store Store, pub Publisher) *Hub {
	logger, _ := test.NewNullLogger()
	return New(Options{Logger: logger, Store: store, Publisher: pub})
}

func drain(p *Peer) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case frame, ok := <-p.Send():
			if !ok {
				return out
			}
			env, err := protocol.Decode(frame)
			if err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func events(envs []protocol.Envelope) []string {
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Event
	}
	return out
}

func encode(t *testing.T, event string, v any) []byte {
	t.Helper()
	frame, err := protocol.Encode(event, v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func TestRegisterSendsIdentityAndPeers(t *testing.T) {
	h := newTestHub(nil, nil)
	a := h.Register()

	envs := drain(a)
	if !reflect.DeepEqual(events(envs), []string{protocol.EventConnect, protocol.EventUsersUpdate}) {
		t.Fatalf("unexpected events %v", events(envs))
	}
	var data protocol.ConnectData
	if err := envs[0].Bind(&data); err != nil || data.ID != a.ID {
		t.Fatalf("expected connect id %s, got %+v (%v)", a.ID, data, err)
	}

	b := h.Register()
	if a.ID == b.ID {
		t.Fatalf("expected distinct connection ids")
	}
	envs = drain(a)
	if len(envs) != 1 || envs[0].Event != protocol.EventUsersUpdate {
		t.Fatalf("expected users:update for existing peer, got %v", events(envs))
	}
	var users []domain.User
	if err := envs[0].Bind(&users); err != nil {
		t.Fatalf("bind users: %v", err)
	}
	if len(users) != 2 || users[0].ID != a.ID || users[1].ID != b.ID {
		t.Fatalf("expected peers in connect order, got %+v", users)
	}
}

func TestRegisterSendsSnapshotWhenHeld(t *testing.T) {
	h := newTestHub(nil, nil)
	a := h.Register()
	tasks := []domain.Task{{ID: "1", Title: "A", Column: domain.ColumnToDo}}
	if err := h.Handle(context.Background(), a, encode(t, protocol.EventTasksUpdate, tasks)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	b := h.Register()
	envs := drain(b)
	want := []string{protocol.EventConnect, protocol.EventUsersUpdate, protocol.EventTasksUpdate}
	if !reflect.DeepEqual(events(envs), want) {
		t.Fatalf("expected %v, got %v", want, events(envs))
	}
}

func TestTasksUpdateIsCanonicalizedAndBroadcast(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	h := newTestHub(store, pub)
	a := h.Register()
	b := h.Register()
	drain(a)
	drain(b)

	tasks := []domain.Task{{
		ID: "1", Title: "A", Column: domain.ColumnInProgress,
		ActiveUser: &domain.ActiveUser{ID: a.ID, Action: domain.ActionMoving},
	}}
	if err := h.Handle(context.Background(), a, encode(t, protocol.EventTasksUpdate, tasks)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, p := range []*Peer{a, b} {
		envs := drain(p)
		if len(envs) != 1 || envs[0].Event != protocol.EventTasksUpdate {
			t.Fatalf("expected snapshot broadcast to %s, got %v", p.ID, events(envs))
		}
		var got []domain.Task
		if err := envs[0].Bind(&got); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if got[0].ActiveUser != nil {
			t.Fatalf("expected presence stripped, got %+v", got[0].ActiveUser)
		}
	}

	held, ok := h.Tasks()
	if !ok || len(held) != 1 || held[0].ActiveUser != nil {
		t.Fatalf("unexpected canonical snapshot %+v", held)
	}
	if store.saves != 1 || store.tasks[0].ActiveUser != nil {
		t.Fatalf("expected canonical snapshot persisted, got %+v", store.tasks)
	}
	if len(pub.frames) != 1 {
		t.Fatalf("expected one published frame, got %d", len(pub.frames))
	}
}

func TestInteractionBroadcastToAllPeers(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHub(nil, pub)
	a := h.Register()
	b := h.Register()
	drain(a)
	drain(b)

	in := domain.Interaction{TaskID: "1", UserID: a.ID, Action: domain.ActionPtr(domain.ActionEditing)}
	if err := h.Handle(context.Background(), a, encode(t, protocol.EventTaskInteraction, in)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	for _, p := range []*Peer{a, b} {
		envs := drain(p)
		if len(envs) != 1 || envs[0].Event != protocol.EventTaskInteraction {
			t.Fatalf("expected interaction for %s, got %v", p.ID, events(envs))
		}
		var got domain.Interaction
		if err := envs[0].Bind(&got); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if got.TaskID != "1" || got.UserID != a.ID || got.Action == nil || *got.Action != domain.ActionEditing {
			t.Fatalf("unexpected interaction %+v", got)
		}
	}
	if _, ok := h.Tasks(); ok {
		t.Fatalf("interactions must not create a snapshot")
	}
	if len(pub.frames) != 1 {
		t.Fatalf("expected one published frame, got %d", len(pub.frames))
	}
}

func TestUnregisterBroadcastsPeersAndClosesSend(t *testing.T) {
	h := newTestHub(nil, nil)
	a := h.Register()
	b := h.Register()
	drain(a)
	drain(b)

	h.Unregister(a)
	h.Unregister(a)

	if _, ok := <-a.Send(); ok {
		t.Fatalf("expected closed send channel")
	}
	envs := drain(b)
	if len(envs) != 1 || envs[0].Event != protocol.EventUsersUpdate {
		t.Fatalf("expected users:update, got %v", events(envs))
	}
	if users := h.Users(); len(users) != 1 || users[0].ID != b.ID {
		t.Fatalf("unexpected peers %+v", users)
	}
}

func TestUnregisterKeepsAnnotationsOnSnapshot(t *testing.T) {
	h := newTestHub(nil, nil)
	a := h.Register()
	b := h.Register()
	h.Handle(context.Background(), a, encode(t, protocol.EventTasksUpdate, []domain.Task{{ID: "1", Title: "A", Column: domain.ColumnToDo}}))
	h.Handle(context.Background(), a, encode(t, protocol.EventTaskInteraction, domain.Interaction{
		TaskID: "1", UserID: a.ID, Action: domain.ActionPtr(domain.ActionMoving),
	}))
	drain(b)

	h.Unregister(a)
	envs := drain(b)
	if len(envs) != 1 || envs[0].Event != protocol.EventUsersUpdate {
		t.Fatalf("expected only users:update after disconnect, got %v", events(envs))
	}
}

func TestSlowPeerDropsFrames(t *testing.T) {
	h := newTestHub(nil, nil)
	slow := h.Register()
	fast := h.Register()

	frame := encode(t, protocol.EventTaskInteraction, domain.Interaction{TaskID: "1", UserID: fast.ID})
	for i := 0; i < sendBuffer*2; i++ {
		drain(fast)
		if err := h.Handle(context.Background(), fast, frame); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if got := len(slow.send); got != sendBuffer {
		t.Fatalf("expected slow peer buffer capped at %d, got %d", sendBuffer, got)
	}
	if envs := drain(fast); len(envs) != 1 {
		t.Fatalf("expected fast peer to keep receiving, got %d", len(envs))
	}
}

func TestHandleRejectsBadFrames(t *testing.T) {
	h := newTestHub(nil, nil)
	a := h.Register()
	drain(a)

	if err := h.Handle(context.Background(), a, []byte("nope")); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := h.Handle(context.Background(), a, encode(t, "board:rename", map[string]string{})); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if err := h.Handle(context.Background(), a, []byte(`{"event":"tasks:update","data":{"id":"1"}}`)); err == nil {
		t.Fatalf("expected bind error")
	}
	if envs := drain(a); len(envs) != 0 {
		t.Fatalf("expected nothing broadcast, got %v", events(envs))
	}
}

func TestSaveFailureStillBroadcasts(t *testing.T) {
	boom := errors.New("storage down")
	store := &fakeStore{saveFn: func([]domain.Task) error { return boom }}
	h := newTestHub(store, nil)
	a := h.Register()
	drain(a)

	err := h.Handle(context.Background(), a, encode(t, protocol.EventTasksUpdate, []domain.Task{}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if envs := drain(a); len(envs) != 1 {
		t.Fatalf("expected broadcast despite save failure, got %v", events(envs))
	}
}

func TestRestoreAndDeliver(t *testing.T) {
	store := &fakeStore{ok: true, tasks: []domain.Task{{
		ID: "1", Title: "A", Column: domain.ColumnDone,
		ActiveUser: &domain.ActiveUser{ID: "ghost", Action: domain.ActionEditing},
	}}}
	pub := &fakePublisher{}
	h := newTestHub(store, pub)
	if err := h.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	held, ok := h.Tasks()
	if !ok || len(held) != 1 || held[0].ActiveUser != nil {
		t.Fatalf("unexpected restored snapshot %+v", held)
	}

	a := h.Register()
	drain(a)
	remote := []domain.Task{{ID: "2", Title: "B", Column: domain.ColumnToDo}}
	if err := h.Deliver(context.Background(), encode(t, protocol.EventTasksUpdate, remote)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if held, _ := h.Tasks(); !reflect.DeepEqual(held, remote) {
		t.Fatalf("expected remote snapshot held, got %+v", held)
	}
	if envs := drain(a); len(envs) != 1 {
		t.Fatalf("expected local broadcast, got %v", events(envs))
	}
	if store.saves != 0 || len(pub.frames) != 0 {
		t.Fatalf("relayed frames must not be saved or republished")
	}
}
