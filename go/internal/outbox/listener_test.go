package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/sqlc-dev/pqtype"
)

type memStore struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*Event
	seq     int64
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID]*Event)}
}

func (s *memStore) add(t *testing.T, table string, kind models.ChangeKind, after any) Event {
	t.Helper()
	data, err := json.Marshal(after)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e := &Event{
		ID:        uuid.New(),
		Seq:       s.seq,
		Table:     table,
		Kind:      string(kind),
		After:     pqtype.NullRawMessage{RawMessage: data, Valid: true},
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	s.events[e.ID] = e
	return *e
}

func (s *memStore) sent(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return ok && e.SentAt != nil
}

func (s *memStore) ClaimByID(_ context.Context, id uuid.UUID, publish func(Event) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.SentAt != nil {
		return false, nil
	}
	if err := publish(*e); err != nil {
		return false, err
	}
	now := time.Now()
	e.SentAt = &now
	return true, nil
}

func (s *memStore) ClaimUnsent(_ context.Context, limit int, publish func(Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*Event
	for _, e := range s.events {
		if e.SentAt == nil {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	n := 0
	for _, e := range pending {
		if n == limit {
			break
		}
		if err := publish(*e); err != nil {
			return n, err
		}
		now := time.Now()
		e.SentAt = &now
		n++
	}
	return n, nil
}

func (s *memStore) CountPending(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.SentAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *memStore) PurgeSent(context.Context, time.Duration) (int64, error) { return 0, nil }

func (s *memStore) Ping(context.Context) error { return s.pingErr }

type fakeNotifier struct {
	ch     chan *pq.Notification
	closed chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *pq.Notification, 8), closed: make(chan struct{})}
}

func (n *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return n.ch }

func (n *fakeNotifier) Ping() error { return nil }

func (n *fakeNotifier) Close() error {
	close(n.closed)
	return nil
}

func (n *fakeNotifier) notify(id uuid.UUID) {
	n.ch <- &pq.Notification{Channel: "trivia_changes", Extra: id.String()}
}

type recorder struct {
	mu      sync.Mutex
	changes []models.Change
	fail    int // number of publishes to reject
}

func (r *recorder) Publish(_ context.Context, ch models.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("nats: no responders available")
	}
	r.changes = append(r.changes, ch)
	return nil
}

func (r *recorder) published() []models.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Change(nil), r.changes...)
}

func (r *recorder) ids() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, len(r.changes))
	for i, ch := range r.changes {
		out[i] = ch.ID
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startListener(t *testing.T, store Store, pub relay.Publisher) (*Listener, *fakeNotifier, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	n := newFakeNotifier()
	cfg := DefaultListenerConfig()
	cfg.BatchSize = 2
	cfg.Retention = 0
	l := NewListener(store, n, pub, cfg, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("listener stopped with %v", err)
		}
	})
	eventually(t, "listener running", func() bool {
		_, _, running := l.Stats()
		return running
	})
	return l, n, clock
}

func TestStartRelaysBacklogInOrder(t *testing.T) {
	store := newMemStore()
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		want = append(want, store.add(t, models.TableGames, models.ChangeUpdate, map[string]int{"id": 1, "version": i + 1}).ID)
	}
	rec := &recorder{}
	l, _, _ := startListener(t, store, rec)

	eventually(t, "backlog relayed", func() bool { return len(rec.ids()) == 5 })
	for i, id := range rec.ids() {
		if id != want[i] {
			t.Fatalf("event %d out of order", i)
		}
	}
	if processed, _, _ := l.Stats(); processed != 5 {
		t.Errorf("expected 5 processed, got %d", processed)
	}
}

func TestNotificationPublishesChange(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	_, n, _ := startListener(t, store, rec)

	e := store.add(t, models.TableGamePlayers, models.ChangeInsert, map[string]any{"id": 7, "game_id": 3, "username": "ana"})
	n.notify(e.ID)

	eventually(t, "change published", func() bool { return store.sent(e.ID) })
	changes := rec.published()
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %d", len(changes))
	}
	ch := changes[0]
	if ch.ID != e.ID || ch.Table != models.TableGamePlayers || ch.Kind != models.ChangeInsert || len(ch.Before) != 0 {
		t.Fatalf("unexpected change %+v", ch)
	}
	var p models.Participant
	if err := ch.Decode(&p); err != nil || p.Username != "ana" || p.GameID != 3 {
		t.Fatalf("decode: %+v, %v", p, err)
	}

	// a duplicate notification is a no-op
	n.notify(e.ID)
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.ids()); got != 1 {
		t.Errorf("expected no republish, got %d publishes", got)
	}
}

func TestFallbackPicksUpMissedEvents(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	_, _, clock := startListener(t, store, rec)

	e := store.add(t, models.TableRooms, models.ChangeDelete, map[string]any{"id": 1, "code": "ABCD"})
	clock.Advance(DefaultListenerConfig().FallbackInterval)

	eventually(t, "missed event relayed", func() bool { return store.sent(e.ID) })
}

func TestInvalidNotificationIsIgnored(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	_, n, _ := startListener(t, store, rec)

	n.ch <- &pq.Notification{Extra: "not-a-uuid"}
	e := store.add(t, models.TableGames, models.ChangeUpdate, map[string]int{"id": 1})
	n.notify(e.ID)
	eventually(t, "valid notification handled", func() bool { return store.sent(e.ID) })
}

func TestPublishWithRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{fail: 2}
	cfg := DefaultListenerConfig()
	l := NewListener(newMemStore(), newFakeNotifier(), rec, cfg, WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.publishWithRetry(ctx, Event{ID: uuid.New(), Table: models.TableGames, Kind: "update"}) }()

	for attempt := 1; attempt <= 2; attempt++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for retry %d: %v", attempt, err)
		}
		clock.Advance(cfg.RetryDelay * time.Duration(attempt))
	}
	if err := <-done; err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if got := len(rec.ids()); got != 1 {
		t.Fatalf("expected one publish, got %d", got)
	}
}

func TestPublishGivesUp(t *testing.T) {
	rec := &recorder{fail: 10}
	cfg := DefaultListenerConfig()
	cfg.MaxRetries = 0
	l := NewListener(newMemStore(), newFakeNotifier(), rec, cfg, WithClock(clockwork.NewFakeClock()))
	if err := l.publishWithRetry(context.Background(), Event{ID: uuid.New()}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestHealthReportsBacklog(t *testing.T) {
	store := newMemStore()
	store.add(t, models.TableGames, models.ChangeUpdate, map[string]int{"id": 1})
	l := NewListener(store, newFakeNotifier(), &recorder{}, DefaultListenerConfig(), WithClock(clockwork.NewFakeClock()))

	connected := true
	h := NewHealthChecker(l, store, func() bool { return connected }, time.Minute)
	if status := h.Check(context.Background()); status.Healthy || status.ListenerActive {
		t.Fatalf("expected a stopped listener to be unhealthy, got %+v", status)
	}

	l.setRunning(true)
	status := h.Check(context.Background())
	if !status.Healthy || status.PendingEvents != 1 || !status.DatabaseConnected {
		t.Fatalf("unexpected status %+v", status)
	}

	connected = false
	store.pingErr = errors.New("connection refused")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DatabaseConnected || body.NATSConnected || len(body.Errors) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
}
