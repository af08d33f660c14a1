package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// ValidStatus reports whether status is a known task status.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task represents a unit of work assigned to a user.
type Task struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Title        string    `json:"title" gorm:"size:255;not null"`
	Description  string    `json:"description" gorm:"type:text;not null"`
	AssignedToID uuid.UUID `json:"assigned_to_id" gorm:"type:char(36);not null;index"`
	CreatedByID  uuid.UUID `json:"created_by_id" gorm:"type:char(36);not null"`
	Status       string    `json:"status" gorm:"size:20;not null;default:'pending';index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relations
	AssignedTo *User `json:"assigned_to,omitempty" gorm:"foreignKey:AssignedToID"`
}

// BeforeCreate sets the UUID before creating the record.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
