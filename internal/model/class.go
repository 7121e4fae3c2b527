package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Class groups tasks by area (a course, a project, health, etc.).
type Class struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"uniqueIndex"`
	Color     string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Class) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
