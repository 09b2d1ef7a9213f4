package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/budgetly/backend/internal/paddle"
	"github.com/budgetly/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "whsec_test"

func newTestApp(t *testing.T, secrets ...string) (*fiber.App, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}

	verifier := paddle.NewVerifier(secrets, 5*time.Minute, false)
	handler := NewWebhookHandler(services.NewSubscriptionService(db), verifier)

	app := fiber.New()
	app.All("/paddle-webhook", handler.HandlePaddle)
	return app, mock
}

func signedRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/paddle-webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(body)
	req.Header.Set("Paddle-Signature", fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, raw)
	}
	return m
}

func TestWebhookRejectsNonPost(t *testing.T) {
	app, _ := newTestApp(t, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/paddle-webhook", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "Method not allowed" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestWebhookAnswersPreflight(t *testing.T) {
	app, _ := newTestApp(t, testSecret)

	req := httptest.NewRequest(http.MethodOptions, "/paddle-webhook", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS, got %d", resp.StatusCode)
	}
}

func TestWebhookWithoutSecretsIsMisconfigured(t *testing.T) {
	app, _ := newTestApp(t) // no secrets

	body := []byte(`{"event_type":"subscription.created","data":{}}`)
	resp, err := app.Test(signedRequest(t, testSecret, body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["error"] != "Server misconfigured" {
		t.Fatalf("unexpected body: %v", b)
	}
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	app, _ := newTestApp(t, testSecret)

	// A body that fails to parse never reaches handler logic, valid
	// signature or not.
	resp, err := app.Test(signedRequest(t, testSecret, []byte(`{not json`)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["error"] != "Invalid JSON" {
		t.Fatalf("unexpected body: %v", b)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	app, mock := newTestApp(t, testSecret)

	body := []byte(`{"event_type":"subscription.created","data":{"subscription_id":"sub_1","custom_data":{"userId":"u1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/paddle-webhook", bytes.NewReader(body))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["error"] != "Unauthorized" {
		t.Fatalf("unexpected body: %v", b)
	}
	// No database call is made for unauthenticated deliveries.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app, mock := newTestApp(t, testSecret)

	body := []byte(`{"event_type":"subscription.created","data":{}}`)
	resp, err := app.Test(signedRequest(t, "wrong-secret", body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["error"] != "Invalid signature" {
		t.Fatalf("unexpected body: %v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestWebhookAcceptsRotatedSecret(t *testing.T) {
	app, _ := newTestApp(t, "primary", testSecret)

	body := []byte(`{"event_type":"price.updated","data":{}}`)
	resp, err := app.Test(signedRequest(t, testSecret, body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for alternate secret, got %d", resp.StatusCode)
	}
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	app, mock := newTestApp(t, testSecret)

	body := []byte(`{"event_type":"address.created","data":{"id":"add_1"}}`)
	resp, err := app.Test(signedRequest(t, testSecret, body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["success"] != true {
		t.Fatalf("unexpected body: %v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database activity: %v", err)
	}
}

func TestWebhookProcessesSubscriptionCreated(t *testing.T) {
	app, mock := newTestApp(t, testSecret)

	mock.ExpectExec("SELECT activate_user_subscription").
		WithArgs("u1", "pro", "yearly", "sub_1", "cus_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"event_type":"subscription.created","data":{
		"subscription_id":"sub_1","customer_id":"cus_1",
		"custom_data":{"userId":"u1","planId":"pro","billingCycle":"yearly"}}}`)
	resp, err := app.Test(signedRequest(t, testSecret, body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if b := decodeBody(t, resp); b["success"] != true {
		t.Fatalf("unexpected body: %v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookReportsHandlerFailure(t *testing.T) {
	app, mock := newTestApp(t, testSecret)

	mock.ExpectExec("SELECT activate_user_subscription").
		WillReturnError(fmt.Errorf("connection refused"))

	body := []byte(`{"event_type":"subscription.created","data":{
		"subscription_id":"sub_1","custom_data":{"userId":"u1"}}}`)
	resp, err := app.Test(signedRequest(t, testSecret, body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	b := decodeBody(t, resp)
	if b["error"] != "Internal server error" {
		t.Fatalf("unexpected error body: %v", b)
	}
	if b["details"] == nil || b["details"] == "" {
		t.Fatalf("expected failure details, got %v", b)
	}
}
