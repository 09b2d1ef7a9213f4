package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SystemLog stores structured error logs so swallowed webhook failures
// stay discoverable after the fact.
type SystemLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	Level          string         `gorm:"size:10;not null;index" json:"level"`
	Message        string         `gorm:"type:text" json:"message"`
	EventType      string         `gorm:"size:64;index" json:"event_type"`
	SubscriptionID string         `gorm:"size:255;index" json:"subscription_id"`
	CustomerID     string         `gorm:"size:255" json:"customer_id"`
	UserID         *string        `gorm:"size:36" json:"user_id"`
	Error          string         `gorm:"type:text" json:"error"`
	Extra          datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"extra"`
	CreatedAt      time.Time      `json:"created_at"`
}
