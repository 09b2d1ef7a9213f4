package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/budgetly/backend/internal/models"
	"github.com/budgetly/backend/internal/paddle"
	"gorm.io/gorm"
)

// Fixed-duration billing periods. Deliberately not calendar-aware; a
// calendar-month implementation would replace these two constants.
const (
	monthlyPeriod = 30 * 24 * time.Hour
	yearlyPeriod  = 365 * 24 * time.Hour
)

const (
	defaultPlanID       = "pro"
	defaultBillingCycle = models.BillingCycleMonthly
)

type handlerFunc func(ctx context.Context, event *paddle.Event) error

// SubscriptionService reconciles Paddle lifecycle events into
// user_subscriptions rows and the entitlement stored procedures.
//
// Error policy is uniform across handlers: database/RPC failures are
// returned (the caller answers 5xx and Paddle retries); business
// non-matches (unresolvable identity, missing row, unknown event type)
// are logged and swallowed so the event is acknowledged and never
// redelivered.
type SubscriptionService struct {
	db       *gorm.DB
	now      func() time.Time
	handlers map[paddle.EventType]handlerFunc
}

func NewSubscriptionService(db *gorm.DB) *SubscriptionService {
	s := &SubscriptionService{db: db, now: time.Now}
	s.handlers = map[paddle.EventType]handlerFunc{
		paddle.EventSubscriptionCreated:          s.handleCreated,
		paddle.EventSubscriptionActivated:        s.handleActivated,
		paddle.EventSubscriptionUpdated:          s.handleUpdated,
		paddle.EventSubscriptionCancelled:        s.handleCancelled,
		paddle.EventSubscriptionPaused:           s.handlePaused,
		paddle.EventSubscriptionResumed:          s.handleResumed,
		paddle.EventSubscriptionTrialing:         s.handleTrialing,
		paddle.EventSubscriptionPaymentSucceeded: s.handlePaymentSucceeded,
		paddle.EventSubscriptionPaymentFailed:    s.handlePaymentFailed,
		paddle.EventSubscriptionPaymentRefunded:  s.handlePaymentRefunded,
		paddle.EventTransactionCompleted:         s.handleTransactionCompleted,
	}
	return s
}

// HandleEvent dispatches a verified event to its handler. Unknown event
// types are acknowledged without side effects.
func (s *SubscriptionService) HandleEvent(ctx context.Context, event *paddle.Event) error {
	h, ok := s.handlers[event.Type]
	if !ok {
		slog.Info("ignoring unhandled webhook event", "event_type", string(event.Type))
		return nil
	}
	return h(ctx, event)
}

// --- identity resolution -------------------------------------------------

// resolveUserID is the shared fallback chain: checkout custom_data first,
// then the stored subscription mapping, then customer id, then email.
func (s *SubscriptionService) resolveUserID(ctx context.Context, event *paddle.Event) (string, bool, error) {
	if id, ok := userFromCustomData(event); ok {
		return id, true, nil
	}
	return s.resolveFromStore(ctx, event)
}

// resolveStoredFirst prefers the persisted mapping and only falls back to
// custom_data afterwards. transaction.completed corroborates existing
// subscriptions, so the stored row is the stronger signal there.
func (s *SubscriptionService) resolveStoredFirst(ctx context.Context, event *paddle.Event) (string, bool, error) {
	if id, ok, err := s.userBySubscriptionID(ctx, event.SubscriptionID()); err != nil || ok {
		return id, ok, err
	}
	if id, ok, err := s.userByCustomerID(ctx, event.Data.CustomerID); err != nil || ok {
		return id, ok, err
	}
	if id, ok := userFromCustomData(event); ok {
		return id, true, nil
	}
	return s.userByEmail(ctx, event.Email())
}

func (s *SubscriptionService) resolveFromStore(ctx context.Context, event *paddle.Event) (string, bool, error) {
	if id, ok, err := s.userBySubscriptionID(ctx, event.SubscriptionID()); err != nil || ok {
		return id, ok, err
	}
	if id, ok, err := s.userByCustomerID(ctx, event.Data.CustomerID); err != nil || ok {
		return id, ok, err
	}
	return s.userByEmail(ctx, event.Email())
}

// userFromCustomData passes the checkout-supplied id through verbatim;
// the stored procedures own casting it to the users table's key type.
func userFromCustomData(event *paddle.Event) (string, bool) {
	cd := event.Data.CustomData
	if cd == nil || cd.UserID == "" {
		return "", false
	}
	return cd.UserID, true
}

func (s *SubscriptionService) userBySubscriptionID(ctx context.Context, subID string) (string, bool, error) {
	if subID == "" {
		return "", false, nil
	}
	var sub models.UserSubscription
	err := s.db.WithContext(ctx).Where("paddle_subscription_id = ?", subID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup by subscription id: %w", err)
	}
	return sub.UserID.String(), true, nil
}

func (s *SubscriptionService) userByCustomerID(ctx context.Context, customerID string) (string, bool, error) {
	if customerID == "" {
		return "", false, nil
	}
	var sub models.UserSubscription
	err := s.db.WithContext(ctx).Where("paddle_customer_id = ?", customerID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup by customer id: %w", err)
	}
	return sub.UserID.String(), true, nil
}

func (s *SubscriptionService) userByEmail(ctx context.Context, email string) (string, bool, error) {
	if email == "" {
		return "", false, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup by email: %w", err)
	}
	return user.ID.String(), true, nil
}

// --- event handlers ------------------------------------------------------

func (s *SubscriptionService) handleCreated(ctx context.Context, event *paddle.Event) error {
	userID, ok, err := s.resolveUserID(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		s.logUnresolved(event)
		return nil
	}

	planID := defaultPlanID
	billingCycle := defaultBillingCycle
	if cd := event.Data.CustomData; cd != nil {
		if cd.PlanID != "" {
			planID = cd.PlanID
		}
		if cd.BillingCycle != "" {
			billingCycle = cd.BillingCycle
		}
	}

	// The procedure upserts on paddle_subscription_id, so redelivered
	// created events never duplicate rows.
	err = s.db.WithContext(ctx).Exec(
		"SELECT activate_user_subscription(?, ?, ?, ?, ?)",
		userID, planID, billingCycle, event.SubscriptionID(), event.Data.CustomerID,
	).Error
	if err != nil {
		return fmt.Errorf("activate_user_subscription: %w", err)
	}

	slog.Info("subscription activated",
		"user_id", userID,
		"subscription_id", event.SubscriptionID(),
		"plan_id", planID,
		"billing_cycle", billingCycle)
	return nil
}

func (s *SubscriptionService) handleActivated(ctx context.Context, event *paddle.Event) error {
	return s.updateStatus(ctx, event, models.StatusActive)
}

func (s *SubscriptionService) handleUpdated(ctx context.Context, event *paddle.Event) error {
	if event.Data.Status != models.StatusActive {
		slog.Info("subscription.updated with non-active status, no action",
			"subscription_id", event.SubscriptionID(), "status", event.Data.Status)
		return nil
	}

	userID, ok, err := s.userBySubscriptionID(ctx, event.SubscriptionID())
	if err != nil {
		return err
	}
	if !ok {
		s.logUnresolved(event)
		return nil
	}
	return s.reactivate(ctx, userID)
}

func (s *SubscriptionService) handleCancelled(ctx context.Context, event *paddle.Event) error {
	userID, ok, err := s.userBySubscriptionID(ctx, event.SubscriptionID())
	if err != nil {
		return err
	}
	if !ok {
		s.logUnresolved(event)
		return nil
	}

	// Access persists until the paid period ends; the procedure flips
	// cancel_at_period_end rather than revoking immediately.
	err = s.db.WithContext(ctx).Exec(
		"SELECT cancel_user_subscription(?, ?)", userID, true,
	).Error
	if err != nil {
		return fmt.Errorf("cancel_user_subscription: %w", err)
	}

	slog.Info("subscription cancelled at period end",
		"user_id", userID, "subscription_id", event.SubscriptionID())
	return nil
}

func (s *SubscriptionService) handlePaused(ctx context.Context, event *paddle.Event) error {
	return s.updateStatus(ctx, event, models.StatusPaused)
}

func (s *SubscriptionService) handleResumed(ctx context.Context, event *paddle.Event) error {
	return s.updateStatus(ctx, event, models.StatusActive)
}

func (s *SubscriptionService) handleTrialing(ctx context.Context, event *paddle.Event) error {
	updates := map[string]interface{}{
		"status":     models.StatusTrialing,
		"updated_at": s.now(),
	}
	if end, ok := event.TrialEnd(); ok {
		updates["current_period_end"] = end
	}

	result := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("paddle_subscription_id = ?", event.SubscriptionID()).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("set trialing status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.logUnresolved(event)
	}
	return nil
}

func (s *SubscriptionService) handlePaymentSucceeded(ctx context.Context, event *paddle.Event) error {
	var sub models.UserSubscription
	err := s.db.WithContext(ctx).
		Where("paddle_subscription_id = ?", event.SubscriptionID()).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && event.Data.CustomerID != "" {
		err = s.db.WithContext(ctx).
			Where("paddle_customer_id = ?", event.Data.CustomerID).
			First(&sub).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logUnresolved(event)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup subscription for payment: %w", err)
	}

	periodStart := s.now()
	period := monthlyPeriod
	if sub.BillingCycle == models.BillingCycleYearly {
		period = yearlyPeriod
	}

	result := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":               models.StatusActive,
			"current_period_start": periodStart,
			"current_period_end":   periodStart.Add(period),
			"updated_at":           periodStart,
		})
	if result.Error != nil {
		return fmt.Errorf("refresh billing period: %w", result.Error)
	}

	// Re-grant the entitlement role even if it lapsed; successful payment
	// is the self-healing path against missed or out-of-order events.
	return s.reactivate(ctx, sub.UserID.String())
}

func (s *SubscriptionService) handlePaymentFailed(ctx context.Context, event *paddle.Event) error {
	// Soft fail: past_due only. Revocation after a grace period is a
	// future extension, not handled here.
	return s.updateStatus(ctx, event, models.StatusPastDue)
}

func (s *SubscriptionService) handlePaymentRefunded(_ context.Context, event *paddle.Event) error {
	slog.Info("payment refunded, no automatic entitlement change",
		"subscription_id", event.SubscriptionID(), "customer_id", event.Data.CustomerID)
	return nil
}

func (s *SubscriptionService) handleTransactionCompleted(ctx context.Context, event *paddle.Event) error {
	if event.Data.SubscriptionID == "" {
		slog.Info("one-time purchase transaction, no entitlement action",
			"transaction_id", event.Data.ID, "customer_id", event.Data.CustomerID)
		return nil
	}

	userID, ok, err := s.resolveStoredFirst(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		s.logUnresolved(event)
		return nil
	}
	return s.reactivate(ctx, userID)
}

// --- shared mutations ----------------------------------------------------

func (s *SubscriptionService) updateStatus(ctx context.Context, event *paddle.Event, status string) error {
	result := s.db.WithContext(ctx).Model(&models.UserSubscription{}).
		Where("paddle_subscription_id = ?", event.SubscriptionID()).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("set status %s: %w", status, result.Error)
	}
	if result.RowsAffected == 0 {
		s.logUnresolved(event)
	}
	return nil
}

func (s *SubscriptionService) reactivate(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Exec(
		"SELECT reactivate_user_subscription(?)", userID,
	).Error
	if err != nil {
		return fmt.Errorf("reactivate_user_subscription: %w", err)
	}
	slog.Info("subscription entitlement reactivated", "user_id", userID)
	return nil
}

// logUnresolved records an event that was acknowledged without effect. A
// permanently unresolvable event will not succeed on redelivery, so it is
// dropped here rather than bounced back to the provider.
func (s *SubscriptionService) logUnresolved(event *paddle.Event) {
	slog.Error("could not resolve webhook event to a user, event dropped",
		"event_type", string(event.Type),
		"subscription_id", event.SubscriptionID(),
		"customer_id", event.Data.CustomerID)
}
