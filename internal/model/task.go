package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// RecurrenceType is the unit a recurring task advances by.
type RecurrenceType string

const (
	RecurNone    RecurrenceType = ""
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
)

// Recurrence describes how a completed task spawns its successor.
type Recurrence struct {
	Type     RecurrenceType
	Interval int `gorm:"default:1"`
	EndAt    *time.Time
}

// Task represents a single item in the planner.
type Task struct {
	ID           string `gorm:"primaryKey;size:36"`
	Title        string
	Description  string
	DueAt        *time.Time `gorm:"index"`
	ReminderAt   *time.Time `gorm:"index"`
	ReminderSent bool       `gorm:"default:false;index"`
	Completed    bool       `gorm:"default:false;index"`
	CompletedAt  *time.Time
	Priority     Priority   `gorm:"size:8;default:medium"`
	ClassID      *string    `gorm:"index;size:36"`
	Recurrence   Recurrence `gorm:"embedded;embeddedPrefix:recurrence_"`
	// ParentID links a spawned occurrence to the task it was spawned from.
	ParentID  *string `gorm:"uniqueIndex;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t *Task) IsRecurring() bool {
	return t.Recurrence.Type != RecurNone
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	return nil
}

// BeforeSave keeps every instant in UTC so lexical comparisons in sqlite match time order.
func (t *Task) BeforeSave(*gorm.DB) error {
	t.DueAt = utcPtr(t.DueAt)
	t.ReminderAt = utcPtr(t.ReminderAt)
	t.CompletedAt = utcPtr(t.CompletedAt)
	t.Recurrence.EndAt = utcPtr(t.Recurrence.EndAt)
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
