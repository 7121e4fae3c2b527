// Package recurrence computes the next occurrence of a recurring task.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"planner/internal/model"
)

var (
	// ErrNotRecurring is returned for tasks without a rule or without a due date.
	ErrNotRecurring = errors.New("task does not recur")
	// ErrInvalidRule is returned for malformed recurrence settings.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrSeriesComplete means the next occurrence would fall after the series end.
	ErrSeriesComplete = errors.New("recurrence series complete")
)

// Next builds the successor of task, stepping in the location of its due date.
// The result is not persisted and has no ID yet.
func Next(task *model.Task) (*model.Task, error) {
	if task == nil || task.DueAt == nil {
		return nil, ErrNotRecurring
	}
	return NextIn(task, task.DueAt.Location())
}

// NextIn builds the successor of task with calendar steps taken in loc, so a
// daily 09:00 task stays at 09:00 local time across DST changes and monthly
// clamping uses the local day of month. A nil loc means UTC.
func NextIn(task *model.Task, loc *time.Location) (*model.Task, error) {
	if task == nil || !task.IsRecurring() || task.DueAt == nil {
		return nil, ErrNotRecurring
	}
	rule := task.Recurrence
	if rule.Interval < 1 {
		return nil, fmt.Errorf("%w: interval %d", ErrInvalidRule, rule.Interval)
	}
	if loc == nil {
		loc = time.UTC
	}

	due := task.DueAt.In(loc)
	nextDue, err := Advance(due, rule.Type, rule.Interval)
	if err != nil {
		return nil, err
	}
	if rule.EndAt != nil && nextDue.After(*rule.EndAt) {
		return nil, ErrSeriesComplete
	}

	next := &model.Task{
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		ClassID:     copyString(task.ClassID),
		Recurrence: model.Recurrence{
			Type:     rule.Type,
			Interval: rule.Interval,
			EndAt:    copyTime(rule.EndAt),
		},
		DueAt: &nextDue,
	}
	if task.ID != "" {
		parent := task.ID
		next.ParentID = &parent
	}
	if task.ReminderAt != nil {
		offset := due.Sub(*task.ReminderAt)
		reminder := nextDue.Add(-offset)
		next.ReminderAt = &reminder
	}
	return next, nil
}

// Advance moves t forward by interval units of kind.
// Monthly steps keep the day of month, clamped to the last day of the target month.
func Advance(t time.Time, kind model.RecurrenceType, interval int) (time.Time, error) {
	switch kind {
	case model.RecurDaily:
		return t.AddDate(0, 0, interval), nil
	case model.RecurWeekly:
		return t.AddDate(0, 0, 7*interval), nil
	case model.RecurMonthly:
		return addMonthsClamped(t, interval), nil
	default:
		return time.Time{}, fmt.Errorf("%w: type %q", ErrInvalidRule, kind)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	first := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)
	if last := daysInMonth(first.Month(), first.Year()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
