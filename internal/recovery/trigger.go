package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// TriggerEvaluator scans the activity store on each invocation (intended
// cadence: daily) and enrolls users newly eligible for a recovery condition.
// It is stateless and idempotent: running it twice without intervening
// activity enrolls nobody on the second pass.
type TriggerEvaluator struct {
	st  store.Store
	mgr *Manager
}

// NewTriggerEvaluator creates a trigger evaluator.
func NewTriggerEvaluator(st store.Store, mgr *Manager) *TriggerEvaluator {
	return &TriggerEvaluator{st: st, mgr: mgr}
}

// triggerCondition pairs a sequence slug with the candidate query for it.
type triggerCondition struct {
	slug string
	list func(now time.Time) ([]models.User, error)
}

func (t *TriggerEvaluator) conditions() []triggerCondition {
	return []triggerCondition{
		{
			slug: SlugNeverLoggedIn,
			list: func(now time.Time) ([]models.User, error) {
				return t.st.ListUsersNeverLoggedIn(now.Add(-NeverLoggedInThreshold))
			},
		},
		{
			slug: SlugNeverStarted,
			list: func(now time.Time) ([]models.User, error) {
				return t.st.ListUsersNeverStarted(now.Add(-NeverStartedThreshold))
			},
		},
		{
			slug: SlugAbandoned,
			list: func(now time.Time) ([]models.User, error) {
				return t.st.ListUsersAbandoned(now.Add(-AbandonedThreshold))
			},
		},
	}
}

// Run evaluates all trigger conditions independently and enrolls qualifying
// users. A missing or inactive sequence silently skips its condition.
// Per-user failures are logged and counted without aborting the batch;
// store-level failures (a candidate query or sequence lookup erroring)
// propagate to the caller as infrastructure failures.
func (t *TriggerEvaluator) Run(ctx context.Context) (models.RunReport, error) {
	now := time.Now().UTC()
	report := models.NewRunReport(now)

	for _, cond := range t.conditions() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		seq, err := t.st.GetSequenceBySlug(cond.slug)
		if err != nil {
			slog.Error("TriggerEvaluator.Run: sequence lookup failed", "error", err, "slug", cond.slug)
			return report, err
		}
		if seq == nil || !seq.IsActive {
			// Configuration absence is not an error; the condition simply is
			// not evaluated this run.
			slog.Debug("TriggerEvaluator.Run: sequence absent or inactive, skipping condition", "slug", cond.slug)
			continue
		}

		users, err := cond.list(now)
		if err != nil {
			slog.Error("TriggerEvaluator.Run: candidate query failed", "error", err, "slug", cond.slug)
			return report, err
		}

		condReport := models.ConditionReport{}
		for _, user := range users {
			if err := ctx.Err(); err != nil {
				report.Conditions[cond.slug] = condReport
				return report, err
			}
			condReport.Checked++

			enrollment, created, err := t.mgr.Enroll(user.ID, seq.ID)
			if err != nil {
				slog.Error("TriggerEvaluator.Run: failed to enroll user", "error", err, "userID", user.ID, "slug", cond.slug)
				report.Errors++
				continue
			}
			if !created {
				// Existing pair, active or exited: never re-enroll.
				slog.Debug("TriggerEvaluator.Run: user already has enrollment, skipping", "userID", user.ID, "slug", cond.slug, "status", enrollment.Status)
				continue
			}
			condReport.Enrolled++

			if err := t.st.AddUserTag(user.ID, EntryTag(cond.slug)); err != nil {
				slog.Error("TriggerEvaluator.Run: failed to upsert entry tag", "error", err, "userID", user.ID, "slug", cond.slug)
				report.Errors++
			}
		}
		report.Conditions[cond.slug] = condReport
		slog.Info("TriggerEvaluator.Run: condition evaluated", "slug", cond.slug, "checked", condReport.Checked, "enrolled", condReport.Enrolled)
	}

	report.Success = report.Errors == 0
	return report, nil
}
