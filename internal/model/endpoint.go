package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PushEndpoint holds browser push subscription credentials.
type PushEndpoint struct {
	ID        string `gorm:"primaryKey;size:36"`
	Endpoint  string `gorm:"uniqueIndex"`
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

func (e *PushEndpoint) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
