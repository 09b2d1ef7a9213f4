package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status values as written by the reconciler.
const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusPaused    = "paused"
	StatusTrialing  = "trialing"
	StatusCancelled = "cancelled"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// UserSubscription is one user's billing relation to Paddle. Rows are
// uniquely keyed by paddle_subscription_id and never deleted by the
// webhook path; cancellation is a status transition.
type UserSubscription struct {
	ID                   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID               uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	PaddleSubscriptionID string    `gorm:"size:255;not null;uniqueIndex" json:"paddle_subscription_id"`
	PaddleCustomerID     string    `gorm:"size:255;index" json:"paddle_customer_id"`
	PlanID               string    `gorm:"size:50;default:'pro'" json:"plan_id"`
	BillingCycle         string    `gorm:"size:20;default:'monthly'" json:"billing_cycle"`
	Status               string    `gorm:"size:20;not null;default:'active'" json:"status"`
	CancelAtPeriodEnd    bool      `gorm:"default:false" json:"cancel_at_period_end"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	User                 User      `gorm:"foreignKey:UserID" json:"-"`
}
