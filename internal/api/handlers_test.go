package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/recovery"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/testutil"
)

func TestRecoveryRunRequiresBearerToken(t *testing.T) {
	srv := testutil.NewTestServer(nil, api.WithCronSecret("s3cret"))
	handler := srv.Handler()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"correct token", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/recovery/run", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, tc.want, rr.Code, tc.name)
	}
}

func TestRecoveryRunOpenWithoutSecret(t *testing.T) {
	srv := testutil.NewTestServer(nil)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/recovery/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "no secret configured")
}

func TestRecoveryRunReport(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := recovery.EnsureDefaultSequences(st); err != nil {
		t.Fatalf("failed to seed sequences: %v", err)
	}
	now := time.Now().UTC()
	testutil.SeedUser(t, st, now, 30*time.Hour, nil)

	srv := testutil.NewTestServer(st)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/recovery/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "recovery run")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result in %v", resp)
	}
	if success, _ := result["success"].(bool); !success {
		t.Errorf("expected success=true, got %v", result["success"])
	}
	conditions, ok := result["conditions"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing conditions in %v", result)
	}
	nli, ok := conditions[recovery.SlugNeverLoggedIn].(map[string]interface{})
	if !ok {
		t.Fatalf("missing never_logged_in condition in %v", conditions)
	}
	if enrolled, _ := nli["enrolled"].(float64); enrolled != 1 {
		t.Errorf("expected 1 enrollment, got %v", nli["enrolled"])
	}
	if _, ok := result["exits"]; !ok {
		t.Error("report must include exits")
	}
}

func TestRecoveryRunMethodNotAllowed(t *testing.T) {
	srv := testutil.NewTestServer(nil)
	req := testutil.CreateHTTPRequest(t, http.MethodDelete, "/recovery/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "DELETE recovery run")
}

func TestSequencesEndpoints(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := recovery.EnsureDefaultSequences(st); err != nil {
		t.Fatalf("failed to seed sequences: %v", err)
	}
	srv := testutil.NewTestServer(st)
	handler := srv.Handler()

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/sequences", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list sequences")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if result, ok := resp["result"].([]interface{}); !ok || len(result) != 3 {
		t.Errorf("expected 3 sequences, got %v", resp["result"])
	}

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sequences/never_logged_in/enrollments", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list enrollments")

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sequences/not_a_sequence/enrollments", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown slug")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestUserTagsEndpoint(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.AddUserTag("u1", "recovery:abandoned"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv := testutil.NewTestServer(st)

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/users/u1/tags", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list tags")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].([]interface{})
	if !ok || len(result) != 1 {
		t.Fatalf("expected 1 tag, got %v", resp["result"])
	}
	tag := result[0].(map[string]interface{})
	if tag["tag"] != "recovery:abandoned" {
		t.Errorf("unexpected tag: %v", tag)
	}
}

func TestMilestonePreview(t *testing.T) {
	srv := testutil.NewTestServer(nil)
	handler := srv.Handler()

	body := map[string]interface{}{"trigger": "lesson_complete", "lesson": 5, "first_name": "Priya"}
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/milestones/preview", body)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "lesson 5 preview")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result := resp["result"].(map[string]interface{})
	coach, _ := result["coach"].(string)
	if coach == "" {
		t.Fatal("expected rendered coach message")
	}
	if !strings.Contains(coach, "Priya") {
		t.Errorf("coach message not rendered with first name: %q", coach)
	}

	// Unscripted lesson numbers have no bundle.
	body["lesson"] = 4
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/milestones/preview", body)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "lesson 4 preview")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/milestones/preview", map[string]interface{}{"lesson": 5})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing trigger")
}

func TestHealthEndpoint(t *testing.T) {
	srv := testutil.NewTestServer(nil)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestDispatchRunEndpoint(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now().UTC()
	user := testutil.SeedUser(t, st, now, 48*time.Hour, nil)

	seq := models.Sequence{ID: "s1", Slug: "abandoned", Name: "Abandoned", IsActive: true}
	if err := st.SaveSequence(seq); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := models.SequenceStep{ID: "st0", SequenceID: "s1", StepIndex: 0, Channel: models.ChannelChat, Body: "Hi {{firstName}}"}
	if err := st.SaveSequenceStep(step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.CreateEnrollment(models.Enrollment{
		ID: "e1", UserID: user.ID, SequenceID: "s1",
		Status: models.EnrollmentStatusActive, NextSendAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv := testutil.NewTestServer(st)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/dispatch/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "dispatch run")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result := resp["result"].(map[string]interface{})
	if sent, _ := result["sent"].(float64); sent != 1 {
		t.Errorf("expected 1 sent, got %v", result["sent"])
	}
}
