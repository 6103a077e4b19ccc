// Package api provides HTTP handlers for CoachPipe endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/dispatch"
	"github.com/BTreeMap/CoachPipe/internal/milestone"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// authorizeCron checks the bearer token on scheduler-invoked endpoints.
// When no secret is configured the endpoint is open.
func (s *Server) authorizeCron(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

// recoveryRunHandler runs the trigger and exit evaluators and responds with
// the combined run report (POST|GET /recovery/run).
func (s *Server) recoveryRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.recoveryRunHandler: processing recovery run", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.recoveryRunHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeCron(r) {
		slog.Warn("Server.recoveryRunHandler: unauthorized", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	report, err := s.RunRecovery(r.Context())
	if err != nil {
		slog.Error("Server.recoveryRunHandler: recovery run failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Recovery run failed"))
		return
	}

	slog.Info("Server.recoveryRunHandler: recovery run complete", "errors", report.Errors, "success", report.Success)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Recovery run complete", report))
}

// RunRecovery executes the trigger evaluator followed by the exit evaluator
// and merges their reports. Shared by the HTTP endpoint and the in-process
// cron job.
func (s *Server) RunRecovery(ctx context.Context) (models.RunReport, error) {
	report := models.NewRunReport(time.Now().UTC())

	triggerReport, err := s.trigger.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("trigger evaluation failed: %w", err)
	}
	exitReport, err := s.exits.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("exit evaluation failed: %w", err)
	}

	report.Conditions = triggerReport.Conditions
	report.Exits = exitReport.Exits
	report.Errors = triggerReport.Errors + exitReport.Errors
	report.Success = triggerReport.Success && exitReport.Success
	return report, nil
}

// RunDispatch executes one dispatcher tick. Shared by the HTTP endpoint and
// the in-process cron job.
func (s *Server) RunDispatch(ctx context.Context) (dispatch.Report, error) {
	return s.dispatcher.Run(ctx, time.Now().UTC())
}

// dispatchRunHandler triggers one dispatcher tick over due enrollments
// (POST|GET /dispatch/run, same auth as the recovery run).
func (s *Server) dispatchRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.dispatchRunHandler: processing dispatch run", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.dispatchRunHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeCron(r) {
		slog.Warn("Server.dispatchRunHandler: unauthorized", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	report, err := s.RunDispatch(r.Context())
	if err != nil {
		slog.Error("Server.dispatchRunHandler: dispatch run failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Dispatch run failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Dispatch run complete", report))
}

// sequencesHandler lists the sequence catalog with enrollment counters
// (GET /sequences).
func (s *Server) sequencesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sequencesHandler: listing sequences")
	sequences, err := s.st.ListSequences()
	if err != nil {
		slog.Error("Server.sequencesHandler: failed to list sequences", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sequences"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sequences))
}

// sequenceEnrollmentsHandler lists the active enrollments under a sequence
// (GET /sequences/{slug}/enrollments).
func (s *Server) sequenceEnrollmentsHandler(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	slog.Debug("Server.sequenceEnrollmentsHandler: listing enrollments", "slug", slug)

	seq, err := s.st.GetSequenceBySlug(slug)
	if err != nil {
		slog.Error("Server.sequenceEnrollmentsHandler: failed to look up sequence", "slug", slug, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up sequence"))
		return
	}
	if seq == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Sequence not found"))
		return
	}

	enrollments, err := s.st.ListActiveEnrollments(seq.ID)
	if err != nil {
		slog.Error("Server.sequenceEnrollmentsHandler: failed to list enrollments", "sequenceID", seq.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list enrollments"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(enrollments))
}

// userTagsHandler lists a user's behavioral tags (GET /users/{id}/tags).
func (s *Server) userTagsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	slog.Debug("Server.userTagsHandler: listing tags", "userID", userID)

	tags, err := s.st.ListUserTags(userID)
	if err != nil {
		slog.Error("Server.userTagsHandler: failed to list tags", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list tags"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tags))
}

// milestonePreviewRequest is the body of POST /milestones/preview.
type milestonePreviewRequest struct {
	Trigger   string `json:"trigger"`
	Lesson    int    `json:"lesson"`
	FirstName string `json:"first_name"`
}

// milestonePreviewResponse carries the rendered coach and peer messages.
type milestonePreviewResponse struct {
	Trigger string               `json:"trigger"`
	Lesson  int                  `json:"lesson,omitempty"`
	Coach   string               `json:"coach"`
	Peers   []renderedPeerOutput `json:"peers,omitempty"`
}

type renderedPeerOutput struct {
	PersonaName string `json:"persona_name"`
	Delay       string `json:"delay,omitempty"`
	Text        string `json:"text"`
}

// milestonePreviewHandler renders the message bundle for a trigger so coaches
// can review copy before it goes out (POST /milestones/preview).
func (s *Server) milestonePreviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req milestonePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.milestonePreviewHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Trigger == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("trigger is required"))
		return
	}

	bundle, ok := milestone.GetMessage(milestone.Trigger(req.Trigger), req.Lesson)
	if !ok {
		slog.Debug("Server.milestonePreviewHandler: no bundle", "trigger", req.Trigger, "lesson", req.Lesson)
		writeJSONResponse(w, http.StatusNotFound, models.Error("No message bundle for trigger"))
		return
	}

	resp := milestonePreviewResponse{
		Trigger: req.Trigger,
		Lesson:  bundle.Lesson,
		Coach:   milestone.RenderCoach(bundle, req.FirstName),
	}
	for _, p := range bundle.Peers {
		resp.Peers = append(resp.Peers, renderedPeerOutput{
			PersonaName: p.PersonaName,
			Delay:       p.Delay,
			Text:        milestone.RenderPeer(p, req.FirstName),
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// healthHandler reports liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
