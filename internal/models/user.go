package models

import (
	"time"

	"github.com/google/uuid"
)

// Role values mirror what the entitlement sync triggers write.
const (
	RoleFree       = "free"
	RoleSubscriber = "subscriber"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email     string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Role      string    `gorm:"size:20;default:'free'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
