package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"planner/internal/model"
	"planner/internal/notify"
)

const (
	reminderTitle    = "Task Reminder"
	defaultFallback  = 5 * time.Minute
	defaultFanout    = 4
	reminderOpenPath = "/"
)

// ReminderStore is the task store view the reminder scheduler needs.
type ReminderStore interface {
	DueReminders(ctx context.Context, now time.Time) ([]model.Task, error)
	NextReminder(ctx context.Context, now time.Time) (*model.Task, error)
	MarkReminderSent(ctx context.Context, id string, reminderAt time.Time) (bool, error)
}

// EndpointLister lists every registered push endpoint.
type EndpointLister interface {
	List(ctx context.Context) ([]model.PushEndpoint, error)
}

// PushDispatcher fans a payload out to endpoints.
type PushDispatcher interface {
	Dispatch(ctx context.Context, payload notify.Payload, endpoints []model.PushEndpoint) []notify.Result
}

// ReminderConfig tunes the reminder scheduler.
type ReminderConfig struct {
	// Fallback is how long to wait before re-polling when nothing is scheduled.
	Fallback time.Duration
	// Workers bounds how many due tasks are dispatched at once.
	Workers int
}

// TickResult summarises one polling cycle.
type TickResult struct {
	Skipped     bool
	Due         int
	Marked      int
	NextCheckAt time.Time
}

// ReminderScheduler polls for due reminders and pushes them exactly once.
type ReminderScheduler struct {
	cfg        ReminderConfig
	tasks      ReminderStore
	endpoints  EndpointLister
	dispatcher PushDispatcher
	cache      *ScheduleCache
	now        func() time.Time
	log        zerolog.Logger
}

// ReminderOption customises a ReminderScheduler.
type ReminderOption func(*ReminderScheduler)

// WithReminderClock replaces time.Now.
func WithReminderClock(now func() time.Time) ReminderOption {
	return func(s *ReminderScheduler) { s.now = now }
}

// WithScheduleCache shares an existing cache.
func WithScheduleCache(c *ScheduleCache) ReminderOption {
	return func(s *ReminderScheduler) { s.cache = c }
}

func NewReminderScheduler(cfg ReminderConfig, tasks ReminderStore, endpoints EndpointLister, dispatcher PushDispatcher, log zerolog.Logger, opts ...ReminderOption) *ReminderScheduler {
	if cfg.Fallback <= 0 {
		cfg.Fallback = defaultFallback
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultFanout
	}
	s := &ReminderScheduler{
		cfg:        cfg,
		tasks:      tasks,
		endpoints:  endpoints,
		dispatcher: dispatcher,
		cache:      NewScheduleCache(),
		now:        time.Now,
		log:        log.With().Str("component", "reminders").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset invalidates the cached wake time. The task-mutation layer calls it
// whenever a reminder-relevant field changes.
func (s *ReminderScheduler) Reset() {
	s.cache.Reset()
}

// NextCheckAt reports when the store will next be queried, if known.
func (s *ReminderScheduler) NextCheckAt() (time.Time, bool) {
	return s.cache.NextCheckAt()
}

// Tick runs one polling cycle. Store failures abort the cycle and leave the
// cache as it was; the next tick retries.
func (s *ReminderScheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.now()
	next, ok, gen := s.cache.Snapshot()
	if ok && now.Before(next) {
		s.log.Debug().Time("next_check_at", next).Msg("no reminder due yet, skipping query")
		return TickResult{Skipped: true, NextCheckAt: next}, nil
	}

	due, err := s.tasks.DueReminders(ctx, now)
	if err != nil {
		return TickResult{}, &StoreQueryError{Op: "due reminders", Err: err}
	}

	if len(due) == 0 {
		upcoming, err := s.tasks.NextReminder(ctx, now)
		if err != nil {
			return TickResult{}, &StoreQueryError{Op: "next reminder", Err: err}
		}
		wake := now.Add(s.cfg.Fallback)
		if upcoming != nil && upcoming.ReminderAt != nil {
			wake = *upcoming.ReminderAt
		}
		if !s.cache.SetIf(gen, wake) {
			s.log.Debug().Msg("schedule reset during poll, keeping cache clear")
			return TickResult{}, nil
		}
		return TickResult{NextCheckAt: wake}, nil
	}

	// A reminder may be added while we dispatch; make the next tick query again.
	s.cache.Reset()

	endpoints, err := s.endpoints.List(ctx)
	if err != nil {
		return TickResult{Due: len(due)}, &StoreQueryError{Op: "list endpoints", Err: err}
	}
	if len(endpoints) == 0 {
		s.log.Warn().Int("due", len(due)).Msg("no push endpoints registered")
	}

	var marked atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, task := range due {
		task := task
		g.Go(func() error {
			flipped, err := s.fire(ctx, task, endpoints)
			if flipped {
				marked.Add(1)
			}
			return err
		})
	}
	err = g.Wait()

	res := TickResult{Due: len(due), Marked: int(marked.Load())}
	if err != nil {
		return res, &StoreQueryError{Op: "mark reminder sent", Err: err}
	}
	return res, nil
}

// fire pushes one reminder to every endpoint and marks it sent regardless of
// delivery. A reminder re-scheduled while the push was in flight stays armed.
func (s *ReminderScheduler) fire(ctx context.Context, task model.Task, endpoints []model.PushEndpoint) (bool, error) {
	payload := notify.Payload{
		Title: reminderTitle,
		Body:  task.Title,
		Data:  notify.PayloadData{TaskID: task.ID, URL: reminderOpenPath},
	}

	results := s.dispatcher.Dispatch(ctx, payload, endpoints)
	delivered, failed := 0, 0
	for _, r := range results {
		if r.Delivered {
			delivered++
		} else {
			failed++
		}
	}

	flipped, err := s.tasks.MarkReminderSent(ctx, task.ID, *task.ReminderAt)
	if err != nil {
		s.log.Error().Err(err).Str("task", task.ID).Msg("mark reminder sent failed")
		return false, err
	}

	ev := s.log.Info()
	if failed > 0 {
		ev = s.log.Warn()
	}
	ev.Str("task", task.ID).Str("title", task.Title).
		Int("delivered", delivered).Int("failed", failed).
		Bool("marked", flipped).
		Msg("reminder sent")
	return flipped, nil
}
