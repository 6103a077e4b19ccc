package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// ExitEvaluator runs after trigger evaluation each cycle. For every recovery
// sequence it scans the ACTIVE enrollments and exits any whose triggering
// condition has been resolved by later user behavior. Only active
// enrollments are queried, so repeated runs have no effect on enrollments
// that already exited.
type ExitEvaluator struct {
	st  store.Store
	mgr *Manager
}

// NewExitEvaluator creates an exit evaluator.
func NewExitEvaluator(st store.Store, mgr *Manager) *ExitEvaluator {
	return &ExitEvaluator{st: st, mgr: mgr}
}

// exitRule decides whether the user's current state resolves the sequence's
// trigger condition.
type exitRule struct {
	slug    string
	reason  string
	resolve func(user *models.User, now time.Time) (bool, error)
}

func (e *ExitEvaluator) rules() []exitRule {
	return []exitRule{
		{
			slug:   SlugNeverLoggedIn,
			reason: ExitReasonLoggedIn,
			resolve: func(user *models.User, _ time.Time) (bool, error) {
				return user.LastLoginAt != nil, nil
			},
		},
		{
			slug:   SlugNeverStarted,
			reason: ExitReasonStartedLearning,
			resolve: func(user *models.User, _ time.Time) (bool, error) {
				count, err := e.st.CountProgressRecords(user.ID)
				if err != nil {
					return false, err
				}
				return count > 0, nil
			},
		},
		{
			slug:   SlugAbandoned,
			reason: ExitReasonBecameActive,
			resolve: func(user *models.User, now time.Time) (bool, error) {
				// Re-engagement window: any activity within the last three
				// days exits, even though entry required seven days idle.
				latest, err := e.st.LatestActivityAt(user.ID)
				if err != nil {
					return false, err
				}
				return latest != nil && latest.After(now.Add(-ReengagementWindow)), nil
			},
		},
	}
}

// Run scans each recovery sequence's active enrollments and exits the
// resolved ones via the enrollment manager, so counter and tag invariants
// hold. Sequences are processed whether or not they are still active as
// enrollment targets: deactivating a sequence stops new enrollments, not the
// lifecycle of existing ones. Per-enrollment failures are logged and counted
// without aborting the batch.
func (e *ExitEvaluator) Run(ctx context.Context) (models.RunReport, error) {
	now := time.Now().UTC()
	report := models.NewRunReport(now)

	for _, rule := range e.rules() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		seq, err := e.st.GetSequenceBySlug(rule.slug)
		if err != nil {
			slog.Error("ExitEvaluator.Run: sequence lookup failed", "error", err, "slug", rule.slug)
			return report, err
		}
		if seq == nil {
			slog.Debug("ExitEvaluator.Run: sequence absent, skipping", "slug", rule.slug)
			continue
		}

		enrollments, err := e.st.ListActiveEnrollments(seq.ID)
		if err != nil {
			slog.Error("ExitEvaluator.Run: active enrollment query failed", "error", err, "slug", rule.slug)
			return report, err
		}

		exitReport := models.ExitReport{}
		for _, enrollment := range enrollments {
			if err := ctx.Err(); err != nil {
				report.Exits[rule.slug] = exitReport
				return report, err
			}
			exitReport.Checked++

			user, err := e.st.GetUser(enrollment.UserID)
			if err != nil {
				slog.Error("ExitEvaluator.Run: user lookup failed", "error", err, "userID", enrollment.UserID)
				report.Errors++
				continue
			}
			if user == nil {
				slog.Warn("ExitEvaluator.Run: enrollment references missing user", "userID", enrollment.UserID, "enrollmentID", enrollment.ID)
				continue
			}

			resolved, err := rule.resolve(user, now)
			if err != nil {
				slog.Error("ExitEvaluator.Run: failed to evaluate exit rule", "error", err, "userID", user.ID, "slug", rule.slug)
				report.Errors++
				continue
			}
			if !resolved {
				continue
			}

			if err := e.mgr.Exit(enrollment.ID, rule.reason); err != nil {
				slog.Error("ExitEvaluator.Run: failed to exit enrollment", "error", err, "enrollmentID", enrollment.ID, "userID", user.ID)
				report.Errors++
				continue
			}
			exitReport.Exited++
		}
		report.Exits[rule.slug] = exitReport
		slog.Info("ExitEvaluator.Run: sequence evaluated", "slug", rule.slug, "checked", exitReport.Checked, "exited", exitReport.Exited)
	}

	report.Success = report.Errors == 0
	return report, nil
}
