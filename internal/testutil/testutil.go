// Package testutil provides common test utilities and helpers for CoachPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
)

// NewTestServer creates an API server over an in-memory store with console
// senders on every channel. Options (e.g. api.WithCronSecret) are passed
// through.
func NewTestServer(st store.Store, opts ...api.Option) *api.Server {
	if st == nil {
		st = store.NewInMemoryStore()
	}
	return api.NewServer(st, map[models.SequenceChannel]messaging.Sender{}, opts...)
}

// SeedUser saves a user whose signup is backdated by signupAge. loginAge nil
// means the user never logged in; otherwise the last login is backdated by
// *loginAge.
func SeedUser(t *testing.T, st store.Store, now time.Time, signupAge time.Duration, loginAge *time.Duration) models.User {
	t.Helper()
	user := models.User{
		ID:        util.GenerateUserID(),
		FirstName: "Alex",
		Email:     "alex@example.com",
		Phone:     "+15550100",
		SignupAt:  now.Add(-signupAge),
		IsActive:  true,
	}
	if loginAge != nil {
		loginAt := now.Add(-*loginAge)
		user.LastLoginAt = &loginAt
	}
	if err := st.SaveUser(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, url, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
