package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store stand-in so sweepOnce can be exercised
// without a real cron tick or a SQLite file.
type fakeStore struct {
	mu         sync.Mutex
	watches    map[string]*Watch
	notifiedAt map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{watches: map[string]*Watch{}, notifiedAt: map[string]time.Time{}}
}

func (f *fakeStore) Touch(_ context.Context, sessionID, teacherID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches[sessionID] = &Watch{SessionID: sessionID, TeacherID: teacherID, LastTurnAt: at}
	delete(f.notifiedAt, sessionID)
	return nil
}

func (f *fakeStore) Due(_ context.Context, cutoff time.Time) ([]Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Watch
	for id, w := range f.watches {
		notified, wasNotified := f.notifiedAt[id]
		if w.LastTurnAt.After(cutoff) {
			continue
		}
		if wasNotified && notified.Equal(w.LastTurnAt) {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeStore) MarkNotified(_ context.Context, sessionID string, turnAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiedAt[sessionID] = turnAt
	return nil
}

func (f *fakeStore) Forget(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watches, sessionID)
	delete(f.notifiedAt, sessionID)
	return nil
}

type fakeSink struct {
	mu            sync.Mutex
	notifications []Notification
	failNext      error
}

func (f *fakeSink) EmitTeacherNotification(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func TestSweepOnce_NotifiesStaleWatchExactlyOnce(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	sw := New(store, sink, 5*time.Minute, "", nil)

	require.NoError(t, store.Touch(context.Background(), "sess-1", "teacher-1", time.Now().Add(-10*time.Minute)))

	sw.sweepOnce()
	sw.sweepOnce()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.notifications, 1, "idempotency: a second sweep must not re-notify the same turn")
	assert.Equal(t, "teacher-1", sink.notifications[0].TeacherID)
	assert.Equal(t, TypeSystemAlert, sink.notifications[0].Type)
}

func TestSweepOnce_SkipsRecentActivity(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	sw := New(store, sink, 5*time.Minute, "", nil)

	require.NoError(t, store.Touch(context.Background(), "sess-2", "teacher-1", time.Now()))
	sw.sweepOnce()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.notifications)
}

func TestSweepOnce_RetriesOnNextTickAfterDeliveryFailure(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{failNext: errors.New("sink unavailable")}
	sw := New(store, sink, 5*time.Minute, "", nil)

	require.NoError(t, store.Touch(context.Background(), "sess-3", "teacher-1", time.Now().Add(-10*time.Minute)))

	sw.sweepOnce()
	sink.mu.Lock()
	assert.Empty(t, sink.notifications)
	sink.mu.Unlock()

	sw.sweepOnce()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.notifications, 1, "a delivery failure must not be marked notified, so the next tick retries")
}

func TestNew_DefaultsZeroValuedWindowAndSchedule(t *testing.T) {
	sw := New(newFakeStore(), &fakeSink{}, 0, "", nil)
	assert.Equal(t, 5*time.Minute, sw.window)
	assert.Equal(t, "*/1 * * * *", sw.schedule)
}

func TestTouch_PersistsThroughToDue(t *testing.T) {
	store := newFakeStore()
	sw := New(store, &fakeSink{}, 5*time.Minute, "", nil)

	require.NoError(t, sw.Touch(context.Background(), "sess-4", "teacher-2", time.Now().Add(-6*time.Minute)))

	due, err := store.Due(context.Background(), time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "teacher-2", due[0].TeacherID)
}
