// Package escalation replaces the source's per-turn background thread
// (spec §9 open question 4) with a single cron-scheduled sweep: every
// completed turn for a teacher-assigned learner touches a watch row, and a
// periodic job checks which watches have gone quiet for the configured
// inactivity window, emitting a teacher notification for each exactly once.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/learnobot/mediation/core"
)

// Notification is the payload delivered to a NotificationSink (spec §6's
// emit_teacher_notification). Type/Priority mirror the two shapes the
// source produced: an automatic inactivity alert and a manual teacher call.
// ID is generated fresh per notification so a sink that persists or
// dedupes deliveries (e.g. a push provider's idempotency key) has
// something stable to key on other than session_id+turn, which Touch can
// legitimately reuse across distinct notifications.
type Notification struct {
	ID        string
	SessionID string
	TeacherID string
	Type      string
	Priority  string
	Title     string
	Message   string
}

// newNotificationID generates the per-notification identifier.
func newNotificationID() string {
	return uuid.NewString()
}

const (
	TypeSystemAlert = "system_alert"
	PriorityNormal  = "normal"
)

// NotificationSink is the durable egress collaborator named in spec §6.
type NotificationSink interface {
	EmitTeacherNotification(ctx context.Context, n Notification) error
}

// Watch is one session's inactivity-tracking row.
type Watch struct {
	SessionID string
	TeacherID string
	LastTurnAt time.Time
}

// Store is the durable row store backing the sweep (spec §5: "the check
// must be idempotent against the durable notification store"). Touch is
// called after every turn for a teacher-assigned learner; Due returns the
// watches whose last turn is old enough and have not yet been notified for
// that exact turn; MarkNotified records that a notification was sent so a
// later sweep does not repeat it for the same turn.
type Store interface {
	Touch(ctx context.Context, sessionID, teacherID string, turnAt time.Time) error
	Due(ctx context.Context, cutoff time.Time) ([]Watch, error)
	MarkNotified(ctx context.Context, sessionID string, turnAt time.Time) error
	Forget(ctx context.Context, sessionID string) error
}

// Sweeper owns the cron schedule and drives Store/NotificationSink on each
// tick. It holds no per-turn goroutines or timers, unlike the source.
type Sweeper struct {
	store    Store
	sink     NotificationSink
	window   time.Duration
	schedule string
	logger   core.Logger
	cron     *cron.Cron
	entryID  cron.EntryID
}

// New constructs a Sweeper. window and schedule default to spec §5's
// 5-minute inactivity threshold and a once-a-minute cron cadence
// (core.EscalationConfig's defaults) when zero-valued.
func New(store Store, sink NotificationSink, window time.Duration, schedule string, logger core.Logger) *Sweeper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if schedule == "" {
		schedule = "*/1 * * * *"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("escalation")
	}
	return &Sweeper{
		store:    store,
		sink:     sink,
		window:   window,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Touch records that a turn has just completed for sessionID under
// teacherID. Call this after every MediationEngine turn for a learner who
// currently has a teacher assigned; callers with no teacher assigned
// should not call Touch (there is nobody to notify).
func (s *Sweeper) Touch(ctx context.Context, sessionID, teacherID string, at time.Time) error {
	if err := s.store.Touch(ctx, sessionID, teacherID, at); err != nil {
		return fmt.Errorf("escalation: touch %s: %w", sessionID, err)
	}
	return nil
}

// Forget removes sessionID's watch row, for use on end_session.
func (s *Sweeper) Forget(ctx context.Context, sessionID string) error {
	return s.store.Forget(ctx, sessionID)
}

// Start schedules the periodic sweep. Cancellation of an in-flight sweep
// is not required by spec §5; Stop waits for the current tick to finish.
func (s *Sweeper) Start() error {
	id, err := s.cron.AddFunc(s.schedule, s.sweepOnce)
	if err != nil {
		return fmt.Errorf("escalation: invalid schedule %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and blocks until the running job, if any,
// completes.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.window)

	watches, err := s.store.Due(ctx, cutoff)
	if err != nil {
		s.logger.Error("escalation sweep: could not load due watches", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, w := range watches {
		notification := Notification{
			ID:        newNotificationID(),
			SessionID: w.SessionID,
			TeacherID: w.TeacherID,
			Type:      TypeSystemAlert,
			Priority:  PriorityNormal,
			Title:     "התלמיד לא הגיב במשך 5 דקות",
			Message:   "התלמיד לא הגיב לבוט במשך יותר מ-5 דקות. ייתכן שהוא צריך עזרה נוספת.",
		}
		if err := s.sink.EmitTeacherNotification(ctx, notification); err != nil {
			s.logger.Warn("escalation sweep: notification delivery failed, will retry next tick", map[string]interface{}{"session_id": w.SessionID, "error": err.Error()})
			continue
		}
		if err := s.store.MarkNotified(ctx, w.SessionID, w.LastTurnAt); err != nil {
			s.logger.Error("escalation sweep: could not mark notified", map[string]interface{}{"session_id": w.SessionID, "error": err.Error()})
		}
	}
}
