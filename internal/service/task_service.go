package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/repository"
)

// TaskInput represents data required to create or edit a task.
type TaskInput struct {
	Title       string
	Description string
	Class       string
	DueAt       *time.Time
	ReminderAt  *time.Time
	Priority    model.Priority
	Recurrence  model.Recurrence
}

// TaskStore is the task store view the task service needs.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	UpdateDetails(ctx context.Context, task *model.Task, rearmReminder bool) error
	FindByID(ctx context.Context, id string) (*model.Task, error)
	Delete(ctx context.Context, id string) error
	ListOpen(ctx context.Context) ([]model.Task, error)
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error)
	SetIncomplete(ctx context.Context, id string) error
	CreateSuccessor(ctx context.Context, next *model.Task) error
}

// ClassStore resolves class names to classes.
type ClassStore interface {
	GetOrCreate(ctx context.Context, name string) (*model.Class, error)
}

// ScheduleResetter invalidates the reminder wake time.
type ScheduleResetter interface {
	Reset()
}

// CompletionResult describes what completing a task did.
type CompletionResult struct {
	Task *model.Task
	// AlreadyCompleted is set when another call completed the task first.
	AlreadyCompleted bool
	Successor        *model.Task
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo  TaskStore
	classRepo ClassStore
	reminders ScheduleResetter
	now       func() time.Time
	location  func(ctx context.Context) *time.Location
	log       zerolog.Logger
}

// TaskOption customises a TaskService.
type TaskOption func(*TaskService)

// WithTaskLocation sets the timezone recurring tasks advance in.
func WithTaskLocation(location func(ctx context.Context) *time.Location) TaskOption {
	return func(s *TaskService) { s.location = location }
}

// WithTaskClock overrides the completion timestamp source.
func WithTaskClock(now func() time.Time) TaskOption {
	return func(s *TaskService) { s.now = now }
}

func NewTaskService(taskRepo TaskStore, classRepo ClassStore, reminders ScheduleResetter, log zerolog.Logger, opts ...TaskOption) *TaskService {
	s := &TaskService{
		taskRepo:  taskRepo,
		classRepo: classRepo,
		reminders: reminders,
		now:       time.Now,
		location:  func(context.Context) *time.Location { return time.UTC },
		log:       log.With().Str("component", "tasks").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TaskService) CreateTask(ctx context.Context, input TaskInput) (*model.Task, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	task := model.Task{}
	if err := s.apply(ctx, &task, input); err != nil {
		return nil, err
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	if task.ReminderAt != nil {
		s.reminders.Reset()
	}
	return &task, nil
}

// UpdateTask replaces the editable fields of a task. Changing the reminder
// time re-arms the reminder; completion and delivery state are left alone.
func (s *TaskService) UpdateTask(ctx context.Context, id string, input TaskInput) (*model.Task, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	reminderChanged := !sameInstant(task.ReminderAt, input.ReminderAt)
	if err := s.apply(ctx, task, input); err != nil {
		return nil, err
	}
	if err := s.taskRepo.UpdateDetails(ctx, task, reminderChanged); err != nil {
		return nil, err
	}
	if reminderChanged {
		s.reminders.Reset()
	}
	return s.taskRepo.FindByID(ctx, id)
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, id)
}

func (s *TaskService) ListOpen(ctx context.Context) ([]model.Task, error) {
	return s.taskRepo.ListOpen(ctx)
}

// CompleteTask marks a task as done. A recurring task spawns its successor.
// Completing an already completed recurring task retries a spawn that failed
// earlier; the successor is created at most once.
func (s *TaskService) CompleteTask(ctx context.Context, id string) (*CompletionResult, error) {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	completedAt := s.now()
	flipped, err := s.taskRepo.MarkCompleted(ctx, id, completedAt)
	if err != nil {
		return nil, err
	}
	res := &CompletionResult{Task: task, AlreadyCompleted: !flipped}
	if flipped {
		task.CompletedAt = &completedAt
	}
	task.Completed = true

	if !task.IsRecurring() {
		return res, nil
	}

	next, err := recurrence.NextIn(task, s.location(ctx))
	switch {
	case err == nil:
	case errors.Is(err, recurrence.ErrSeriesComplete):
		if flipped {
			s.log.Info().Str("task", task.ID).Msg("recurrence series complete")
		}
		return res, nil
	default:
		if flipped {
			s.log.Warn().Err(err).Str("task", task.ID).Msg("recurring task has unusable rule, no successor created")
		}
		return res, nil
	}

	if err := s.taskRepo.CreateSuccessor(ctx, next); err != nil {
		if errors.Is(err, repository.ErrSuccessorExists) {
			s.log.Debug().Str("task", task.ID).Msg("successor already spawned")
			return res, nil
		}
		return res, fmt.Errorf("spawn next occurrence: %w", err)
	}
	res.Successor = next
	if next.ReminderAt != nil {
		s.reminders.Reset()
	}
	s.log.Info().Str("task", task.ID).Str("successor", next.ID).Time("due_at", *next.DueAt).Msg("next occurrence created")
	return res, nil
}

// ReopenTask marks a completed task as not done again.
func (s *TaskService) ReopenTask(ctx context.Context, id string) error {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.taskRepo.SetIncomplete(ctx, id); err != nil {
		return err
	}
	if task.ReminderAt != nil && !task.ReminderSent {
		s.reminders.Reset()
	}
	return nil
}

// DeleteTask removes a task completely.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	return s.taskRepo.Delete(ctx, id)
}

func (s *TaskService) apply(ctx context.Context, task *model.Task, input TaskInput) error {
	var classID *string
	if input.Class != "" {
		class, err := s.classRepo.GetOrCreate(ctx, input.Class)
		if err != nil {
			return err
		}
		if class != nil {
			classID = &class.ID
		}
	}

	task.Title = input.Title
	task.Description = input.Description
	task.ClassID = classID
	task.DueAt = input.DueAt
	task.ReminderAt = input.ReminderAt
	task.Priority = input.Priority
	task.Recurrence = input.Recurrence
	return nil
}

func validateInput(input *TaskInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Class = strings.TrimSpace(input.Class)
	if input.Title == "" {
		return invalidf("title is required")
	}
	if input.Priority == "" {
		input.Priority = model.PriorityMedium
	}
	if !input.Priority.Valid() {
		return invalidf("unknown priority %q", input.Priority)
	}
	if input.DueAt != nil && input.ReminderAt != nil && input.ReminderAt.After(*input.DueAt) {
		return invalidf("reminder must not be after the due date")
	}

	rule := &input.Recurrence
	switch rule.Type {
	case model.RecurNone:
		rule.Interval = 0
		rule.EndAt = nil
	case model.RecurDaily, model.RecurWeekly, model.RecurMonthly:
		if rule.Interval == 0 {
			rule.Interval = 1
		}
		if rule.Interval < 1 {
			return invalidf("recurrence interval must be at least 1")
		}
	default:
		return invalidf("unknown recurrence %q", rule.Type)
	}
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
