package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

func saveUser(t *testing.T, st store.Store, u models.User) models.User {
	t.Helper()
	u.IsActive = true
	if err := st.SaveUser(u); err != nil {
		t.Fatalf("failed to save user: %v", err)
	}
	return u
}

func TestTriggerEvaluatorNeverLoggedIn(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	trigger := NewTriggerEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	now := time.Now().UTC()
	saveUser(t, st, models.User{ID: "u_25h", SignupAt: now.Add(-25 * time.Hour)})
	saveUser(t, st, models.User{ID: "u_2h", SignupAt: now.Add(-2 * time.Hour)})
	login := now.Add(-time.Hour)
	saveUser(t, st, models.User{ID: "u_logged", SignupAt: now.Add(-30 * time.Hour), LastLoginAt: &login})

	report, err := trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success {
		t.Errorf("expected success, got %+v", report)
	}
	cond := report.Conditions[SlugNeverLoggedIn]
	if cond.Checked != 1 || cond.Enrolled != 1 {
		t.Errorf("expected 1 checked 1 enrolled, got %+v", cond)
	}

	enrollment, err := st.GetEnrollmentByUserAndSequence("u_25h", seq.ID)
	if err != nil || enrollment == nil {
		t.Fatalf("expected enrollment for u_25h, got %v err=%v", enrollment, err)
	}
	has, _ := st.UserHasTag("u_25h", EntryTag(SlugNeverLoggedIn))
	if !has {
		t.Error("expected entry tag on enrolled user")
	}
	if e, _ := st.GetEnrollmentByUserAndSequence("u_2h", seq.ID); e != nil {
		t.Error("user inside the 24h grace period must not be enrolled")
	}
}

func TestTriggerEvaluatorIdempotentAcrossRuns(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	trigger := NewTriggerEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	now := time.Now().UTC()
	saveUser(t, st, models.User{ID: "u1", SignupAt: now.Add(-48 * time.Hour)})

	for i := 0; i < 3; i++ {
		if _, err := trigger.Run(context.Background()); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	got, _ := st.GetSequence(seq.ID)
	if got.TotalEnrolled != 1 {
		t.Errorf("repeated runs must enroll once, got TotalEnrolled=%d", got.TotalEnrolled)
	}
}

func TestTriggerEvaluatorSkipsMissingAndInactiveSequences(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	trigger := NewTriggerEvaluator(st, mgr)
	// Only an inactive never_logged_in sequence exists; the other two are absent.
	seedSequence(t, st, SlugNeverLoggedIn, false)

	now := time.Now().UTC()
	saveUser(t, st, models.User{ID: "u1", SignupAt: now.Add(-48 * time.Hour)})

	report, err := trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("missing sequences must not fail the run: %v", err)
	}
	if !report.Success || len(report.Conditions) != 0 {
		t.Errorf("expected clean empty report, got %+v", report)
	}
}

func TestTriggerEvaluatorIndependentConditions(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	trigger := NewTriggerEvaluator(st, mgr)
	neverLoggedIn := seedSequence(t, st, SlugNeverLoggedIn, true)
	abandoned := seedSequence(t, st, SlugAbandoned, true)

	now := time.Now().UTC()
	// One user qualifies for never_logged_in, another for abandoned.
	saveUser(t, st, models.User{ID: "u_never", SignupAt: now.Add(-72 * time.Hour)})
	login := now.Add(-10 * 24 * time.Hour)
	stale := saveUser(t, st, models.User{ID: "u_stale", SignupAt: now.Add(-20 * 24 * time.Hour), LastLoginAt: &login})
	if err := st.AddProgressRecord(models.ProgressRecord{ID: "p1", UserID: stale.ID, LessonNumber: 2, UpdatedAt: now.Add(-9 * 24 * time.Hour)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Conditions[SlugNeverLoggedIn].Enrolled != 1 {
		t.Errorf("expected never_logged_in enrollment, got %+v", report.Conditions)
	}
	if report.Conditions[SlugAbandoned].Enrolled != 1 {
		t.Errorf("expected abandoned enrollment, got %+v", report.Conditions)
	}
	if e, _ := st.GetEnrollmentByUserAndSequence("u_never", abandoned.ID); e != nil {
		t.Error("u_never must not land in the abandoned sequence")
	}
	if e, _ := st.GetEnrollmentByUserAndSequence("u_stale", neverLoggedIn.ID); e != nil {
		t.Error("u_stale must not land in the never_logged_in sequence")
	}
}

func TestExitEvaluatorNeverLoggedIn(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	trigger := NewTriggerEvaluator(st, mgr)
	exits := NewExitEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	now := time.Now().UTC()
	user := saveUser(t, st, models.User{ID: "u1", SignupAt: now.Add(-25 * time.Hour)})

	if _, err := trigger.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Still no login: nothing exits.
	report, err := exits.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.Exits[SlugNeverLoggedIn]; got.Checked != 1 || got.Exited != 0 {
		t.Errorf("expected 1 checked 0 exited, got %+v", got)
	}

	// The user logs in; the next cycle exits the enrollment.
	login := now
	user.LastLoginAt = &login
	saveUser(t, st, user)

	report, err = exits.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.Exits[SlugNeverLoggedIn]; got.Exited != 1 {
		t.Errorf("expected 1 exited, got %+v", got)
	}

	enrollment, _ := st.GetEnrollmentByUserAndSequence(user.ID, seq.ID)
	if enrollment.Status != models.EnrollmentStatusExited || enrollment.ExitReason != ExitReasonLoggedIn {
		t.Errorf("exit not recorded: %+v", enrollment)
	}
	hasEntry, _ := st.UserHasTag(user.ID, "recovery:never_logged_in")
	hasExit, _ := st.UserHasTag(user.ID, "recovery:never_logged_in_exited")
	if !hasEntry || !hasExit {
		t.Errorf("expected both entry and exit tags, entry=%v exit=%v", hasEntry, hasExit)
	}

	// A later trigger run must not re-enroll the exited pair.
	if _, err := trigger.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seqAfter, _ := st.GetSequence(seq.ID)
	if seqAfter.TotalEnrolled != 1 || seqAfter.TotalExited != 1 {
		t.Errorf("counters must stay 1/1 after re-run, got %d/%d", seqAfter.TotalEnrolled, seqAfter.TotalExited)
	}
}

func TestExitEvaluatorNeverStartedOnProgress(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	exits := NewExitEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugNeverStarted, true)

	now := time.Now().UTC()
	login := now.Add(-72 * time.Hour)
	user := saveUser(t, st, models.User{ID: "u1", SignupAt: now.Add(-96 * time.Hour), LastLoginAt: &login})
	if _, created, err := mgr.Enroll(user.ID, seq.ID); err != nil || !created {
		t.Fatalf("enroll: created=%v err=%v", created, err)
	}

	if err := st.AddProgressRecord(models.ProgressRecord{ID: "p1", UserID: user.ID, LessonNumber: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := exits.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.Exits[SlugNeverStarted]; got.Exited != 1 {
		t.Errorf("expected exit on first progress, got %+v", got)
	}
	enrollment, _ := st.GetEnrollmentByUserAndSequence(user.ID, seq.ID)
	if enrollment.ExitReason != ExitReasonStartedLearning {
		t.Errorf("unexpected exit reason: %q", enrollment.ExitReason)
	}
}

func TestExitEvaluatorReengagementWindowAsymmetry(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	exits := NewExitEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugAbandoned, true)
	now := time.Now().UTC()

	// Entry needed seven idle days, but exit only needs activity within the
	// last three: four-day-old activity keeps the enrollment, two-day-old
	// activity releases it.
	cases := []struct {
		userID      string
		activityAge time.Duration
		wantExited  bool
	}{
		{"u_idle_4d", 4 * 24 * time.Hour, false},
		{"u_active_2d", 2 * 24 * time.Hour, true},
	}
	for _, tc := range cases {
		login := now.Add(-30 * 24 * time.Hour)
		user := saveUser(t, st, models.User{ID: tc.userID, SignupAt: now.Add(-60 * 24 * time.Hour), LastLoginAt: &login})
		if err := st.AddProgressRecord(models.ProgressRecord{ID: "p_" + tc.userID, UserID: user.ID, LessonNumber: 4, UpdatedAt: now.Add(-tc.activityAge)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, created, err := mgr.Enroll(user.ID, seq.ID); err != nil || !created {
			t.Fatalf("enroll %s: created=%v err=%v", tc.userID, created, err)
		}
	}

	if _, err := exits.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, tc := range cases {
		enrollment, _ := st.GetEnrollmentByUserAndSequence(tc.userID, seq.ID)
		exited := enrollment.Status == models.EnrollmentStatusExited
		if exited != tc.wantExited {
			t.Errorf("%s: exited=%v, want %v", tc.userID, exited, tc.wantExited)
		}
	}
}

func TestExitEvaluatorProcessesInactiveSequences(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	exits := NewExitEvaluator(st, mgr)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	now := time.Now().UTC()
	login := now
	user := saveUser(t, st, models.User{ID: "u1", SignupAt: now.Add(-48 * time.Hour)})
	if _, created, err := mgr.Enroll(user.ID, seq.ID); err != nil || !created {
		t.Fatalf("enroll: created=%v err=%v", created, err)
	}

	// Deactivate the sequence, then resolve the condition. Existing
	// enrollments still get their exit.
	seq.IsActive = false
	if err := st.SaveSequence(seq); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user.LastLoginAt = &login
	saveUser(t, st, user)

	report, err := exits.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := report.Exits[SlugNeverLoggedIn]; got.Exited != 1 {
		t.Errorf("inactive sequence must still exit enrollments, got %+v", got)
	}
}

func TestEnsureDefaultSequences(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 2; i++ {
		if err := EnsureDefaultSequences(st); err != nil {
			t.Fatalf("seed pass %d: unexpected error: %v", i, err)
		}
	}

	sequences, err := st.ListSequences()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sequences) != 3 {
		t.Fatalf("expected 3 seeded sequences, got %d", len(sequences))
	}
	for _, seq := range sequences {
		steps, err := st.ListSequenceSteps(seq.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(steps) != 3 {
			t.Errorf("sequence %s: expected 3 steps, got %d", seq.Slug, len(steps))
		}
		for i, step := range steps {
			if step.StepIndex != i {
				t.Errorf("sequence %s: steps out of order at %d: %+v", seq.Slug, i, step)
			}
		}
	}
}
