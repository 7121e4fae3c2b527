package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"planner/internal/model"
)

// ErrSuccessorExists means the task already spawned its next occurrence.
var ErrSuccessorExists = errors.New("successor already exists")

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateDetails writes the user-editable columns of task. Completion state is
// never touched; reminder_sent is cleared only when rearmReminder is set.
func (r *TaskRepository) UpdateDetails(ctx context.Context, task *model.Task, rearmReminder bool) error {
	fields := map[string]interface{}{
		"title":               task.Title,
		"description":         task.Description,
		"class_id":            nullString(task.ClassID),
		"due_at":              nullTime(task.DueAt),
		"reminder_at":         nullTime(task.ReminderAt),
		"priority":            string(task.Priority),
		"recurrence_type":     string(task.Recurrence.Type),
		"recurrence_interval": task.Recurrence.Interval,
		"recurrence_end_at":   nullTime(task.Recurrence.EndAt),
	}
	if rearmReminder {
		fields["reminder_sent"] = false
	}
	res := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", task.ID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListOpen returns incomplete tasks, dated ones first.
func (r *TaskRepository) ListOpen(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("completed = ?", false).
		Order("due_at IS NULL, due_at ASC, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return tasks, nil
}

// ListOpenDueBefore returns incomplete tasks with a due date at or before until.
func (r *TaskRepository) ListOpenDueBefore(ctx context.Context, until time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("completed = ? AND due_at IS NOT NULL AND due_at <= ?", false, until.UTC()).
		Order("due_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return tasks, nil
}

// DueReminders returns pending reminders whose time has come.
func (r *TaskRepository) DueReminders(ctx context.Context, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("reminder_sent = ? AND completed = ? AND reminder_at IS NOT NULL AND reminder_at <= ?", false, false, now.UTC()).
		Order("reminder_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	return tasks, nil
}

// NextReminder returns the soonest pending reminder after now, or nil when none is scheduled.
func (r *TaskRepository) NextReminder(ctx context.Context, now time.Time) (*model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("reminder_sent = ? AND completed = ? AND reminder_at > ?", false, false, now.UTC()).
		Order("reminder_at ASC").
		Limit(1).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("query next reminder: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// MarkReminderSent flips reminder_sent from false to true for the reminder
// instant that was dispatched and reports whether this call flipped it. A
// reminder moved in the meantime stays armed.
func (r *TaskRepository) MarkReminderSent(ctx context.Context, id string, reminderAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND reminder_sent = ? AND reminder_at = ?", id, false, reminderAt.UTC()).
		Update("reminder_sent", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted flips completed from false to true and reports whether this call flipped it.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND completed = ?", id, false).
		Updates(map[string]interface{}{
			"completed":    true,
			"completed_at": completedAt.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *TaskRepository) SetIncomplete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed":    false,
			"completed_at": nil,
		}).Error; err != nil {
		return fmt.Errorf("reopen task: %w", err)
	}
	return nil
}

// CreateSuccessor inserts the next occurrence of a recurring task.
func (r *TaskRepository) CreateSuccessor(ctx context.Context, next *model.Task) error {
	if next.ParentID == nil {
		return fmt.Errorf("create successor: missing parent")
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Task{}).Where("parent_id = ?", *next.ParentID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSuccessorExists
		}
		return tx.Create(next).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSuccessorExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrSuccessorExists
	default:
		return fmt.Errorf("create successor: %w", err)
	}
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
