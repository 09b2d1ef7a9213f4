package paddle

import (
	"encoding/json"
	"time"
)

type EventType string

// Billing lifecycle events this service reconciles. Anything else is
// acknowledged and ignored so Paddle stops redelivering it.
const (
	EventSubscriptionCreated          EventType = "subscription.created"
	EventSubscriptionActivated        EventType = "subscription.activated"
	EventSubscriptionUpdated          EventType = "subscription.updated"
	EventSubscriptionCancelled        EventType = "subscription.cancelled"
	EventSubscriptionPaused           EventType = "subscription.paused"
	EventSubscriptionResumed          EventType = "subscription.resumed"
	EventSubscriptionTrialing         EventType = "subscription.trialing"
	EventSubscriptionPaymentSucceeded EventType = "subscription.payment_succeeded"
	EventSubscriptionPaymentFailed    EventType = "subscription.payment_failed"
	EventSubscriptionPaymentRefunded  EventType = "subscription.payment_refunded"
	EventTransactionCompleted         EventType = "transaction.completed"
)

// CustomData is the metadata the checkout client attaches. Its userId is
// the primary identity-resolution path but is not guaranteed present.
type CustomData struct {
	UserID       string `json:"userId"`
	PlanID       string `json:"planId"`
	BillingCycle string `json:"billingCycle"`
	Source       string `json:"source"`
}

type Item struct {
	Quantity int `json:"quantity"`
	Price    struct {
		ID string `json:"id"`
	} `json:"price"`
}

// EventData covers the fields shared across the lifecycle payloads.
// Subscription events carry the subscription id in "id"; transaction
// events reference it through "subscription_id".
type EventData struct {
	ID             string      `json:"id"`
	SubscriptionID string      `json:"subscription_id"`
	CustomerID     string      `json:"customer_id"`
	Status         string      `json:"status"`
	Items          []Item      `json:"items"`
	CustomData     *CustomData `json:"custom_data"`
	TrialEndsAt    string      `json:"trial_ends_at"`
}

type envelope struct {
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Event is a parsed webhook payload. The raw data object is retained for
// the loosely-typed fallbacks (email extraction).
type Event struct {
	ID   string
	Type EventType
	Data EventData

	raw json.RawMessage
}

func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	ev := &Event{ID: env.EventID, Type: env.EventType, raw: env.Data}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ev.Data); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// SubscriptionID returns the external subscription id regardless of which
// payload shape carried it.
func (e *Event) SubscriptionID() string {
	if e.Data.SubscriptionID != "" {
		return e.Data.SubscriptionID
	}
	return e.Data.ID
}

// TrialEnd parses trial_ends_at when present.
func (e *Event) TrialEnd() (time.Time, bool) {
	if e.Data.TrialEndsAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.Data.TrialEndsAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Email digs through the payload locations Paddle has been observed to
// put a customer email in, in preference order.
func (e *Event) Email() string {
	if len(e.raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.raw, &m); err != nil {
		return ""
	}

	if customer := jsonObject(m["customer"]); customer != nil {
		if email := jsonString(customer["email"]); email != "" {
			return email
		}
	}
	if email := jsonString(m["customer_email"]); email != "" {
		return email
	}
	if email := jsonString(m["email"]); email != "" {
		return email
	}
	if billing := jsonObject(m["billing_details"]); billing != nil {
		if email := jsonString(billing["email"]); email != "" {
			return email
		}
	}
	if customer := jsonObject(m["customer"]); customer != nil {
		if email := jsonString(customer["email_address"]); email != "" {
			return email
		}
	}
	return ""
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func jsonObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
