package recovery

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

func seedSequence(t *testing.T, st store.Store, slug string, active bool) models.Sequence {
	t.Helper()
	now := time.Now().UTC()
	seq := models.Sequence{
		ID:        "seq_" + slug,
		Slug:      slug,
		Name:      slug,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveSequence(seq); err != nil {
		t.Fatalf("failed to save sequence: %v", err)
	}
	return seq
}

func TestManagerEnroll(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	before := time.Now().UTC()
	enrollment, created, err := mgr.Enroll("u1", seq.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected first enrollment to be created")
	}
	if enrollment.Status != models.EnrollmentStatusActive || enrollment.CurrentStepIndex != 0 {
		t.Errorf("enrollment should start active at step 0: %+v", enrollment)
	}

	// First send is delayed, not immediate.
	wantEarliest := before.Add(FirstSendDelay - time.Second)
	if enrollment.NextSendAt.Before(wantEarliest) {
		t.Errorf("expected first send about %v out, got %v", FirstSendDelay, enrollment.NextSendAt.Sub(before))
	}

	got, err := st.GetSequence(seq.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalEnrolled != 1 {
		t.Errorf("expected TotalEnrolled=1, got %d", got.TotalEnrolled)
	}
}

func TestManagerEnrollIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	seq := seedSequence(t, st, SlugNeverStarted, true)

	first, created, err := mgr.Enroll("u1", seq.ID)
	if err != nil || !created {
		t.Fatalf("first enroll: created=%v err=%v", created, err)
	}
	second, created, err := mgr.Enroll("u1", seq.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("second enroll must not create a new enrollment")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing enrollment %s, got %s", first.ID, second.ID)
	}

	got, _ := st.GetSequence(seq.ID)
	if got.TotalEnrolled != 1 {
		t.Errorf("counter must not move on repeat enroll, got %d", got.TotalEnrolled)
	}
}

func TestManagerEnrollInactiveSequence(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	seq := seedSequence(t, st, SlugAbandoned, false)

	_, _, err := mgr.Enroll("u1", seq.ID)
	if !errors.Is(err, models.ErrSequenceInactive) {
		t.Errorf("expected ErrSequenceInactive, got %v", err)
	}
	_, _, err = mgr.Enroll("u1", "missing")
	if !errors.Is(err, models.ErrSequenceNotFound) {
		t.Errorf("expected ErrSequenceNotFound, got %v", err)
	}
}

func TestManagerExit(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	seq := seedSequence(t, st, SlugNeverLoggedIn, true)

	enrollment, _, err := mgr.Enroll("u1", seq.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mgr.Exit(enrollment.ID, ExitReasonLoggedIn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := st.GetEnrollment(enrollment.ID)
	if got.Status != models.EnrollmentStatusExited || got.ExitedAt == nil || got.ExitReason != ExitReasonLoggedIn {
		t.Errorf("exit not recorded: %+v", got)
	}

	seqAfter, _ := st.GetSequence(seq.ID)
	if seqAfter.TotalExited != 1 {
		t.Errorf("expected TotalExited=1, got %d", seqAfter.TotalExited)
	}

	has, err := st.UserHasTag("u1", ExitTag(SlugNeverLoggedIn))
	if err != nil || !has {
		t.Errorf("expected exit tag on user, has=%v err=%v", has, err)
	}

	// Exiting again is a no-op, counter included.
	if err := mgr.Exit(enrollment.ID, "again"); err != nil {
		t.Fatalf("repeat exit should be a no-op, got %v", err)
	}
	seqAfter, _ = st.GetSequence(seq.ID)
	if seqAfter.TotalExited != 1 {
		t.Errorf("repeat exit must not double-count, got %d", seqAfter.TotalExited)
	}
}

func TestManagerExitValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)

	if err := mgr.Exit("missing", "reason"); !errors.Is(err, models.ErrEnrollmentNotFound) {
		t.Errorf("expected ErrEnrollmentNotFound, got %v", err)
	}

	long := make([]byte, models.MaxExitReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := mgr.Exit("e1", string(long)); !errors.Is(err, models.ErrExitReasonTooLong) {
		t.Errorf("expected ErrExitReasonTooLong, got %v", err)
	}
}

func TestManagerCountersUnderParallelRuns(t *testing.T) {
	st := store.NewInMemoryStore()
	mgr := NewManager(st)
	seq := seedSequence(t, st, SlugAbandoned, true)

	const users = 16
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("u%d", i)
		// Two goroutines per user race to simulate overlapping batch runs;
		// only one may win the create.
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := mgr.Enroll(userID, seq.ID); err != nil {
					t.Errorf("enroll %s: %v", userID, err)
				}
			}()
		}
	}
	wg.Wait()

	got, _ := st.GetSequence(seq.ID)
	if got.TotalEnrolled != users {
		t.Errorf("expected TotalEnrolled=%d, got %d", users, got.TotalEnrolled)
	}

	// Exit every enrollment from two racing goroutines each.
	enrollments, err := st.ListActiveEnrollments(seq.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range enrollments {
		id := e.ID
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mgr.Exit(id, ExitReasonBecameActive); err != nil {
					t.Errorf("exit %s: %v", id, err)
				}
			}()
		}
	}
	wg.Wait()

	got, _ = st.GetSequence(seq.ID)
	if got.TotalExited != users {
		t.Errorf("expected TotalExited=%d, got %d", users, got.TotalExited)
	}
}

func TestEnrollTagsAndExitTags(t *testing.T) {
	if EntryTag(SlugAbandoned) != "recovery:abandoned" {
		t.Errorf("unexpected entry tag: %s", EntryTag(SlugAbandoned))
	}
	if ExitTag(SlugAbandoned) != "recovery:abandoned_exited" {
		t.Errorf("unexpected exit tag: %s", ExitTag(SlugAbandoned))
	}
}
