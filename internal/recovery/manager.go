package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/google/uuid"
)

// Manager is the single source of truth for creating and mutating
// enrollments and for keeping the sequence aggregate counters consistent.
// Its operations are idempotent: Enroll never duplicates a (user, sequence)
// pair and Exit never double-counts.
type Manager struct {
	st store.Store
}

// NewManager creates an enrollment manager backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{st: st}
}

// Enroll idempotently enrolls a user into a sequence. When an enrollment for
// the pair already exists, active or exited, it is returned unchanged with
// created=false — this is the mechanism that prevents duplicate enrollment
// and re-triggering after exit. On creation the enrollment starts active at
// step 0 with the first send scheduled FirstSendDelay from now, and the
// sequence's enrolled counter is incremented.
func (m *Manager) Enroll(userID, sequenceID string) (*models.Enrollment, bool, error) {
	existing, err := m.st.GetEnrollmentByUserAndSequence(userID, sequenceID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up enrollment for user %s: %w", userID, err)
	}
	if existing != nil {
		slog.Debug("Manager.Enroll: enrollment already exists", "userID", userID, "sequenceID", sequenceID, "status", existing.Status)
		return existing, false, nil
	}

	seq, err := m.st.GetSequence(sequenceID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up sequence %s: %w", sequenceID, err)
	}
	if seq == nil {
		return nil, false, models.ErrSequenceNotFound
	}
	if !seq.IsActive {
		return nil, false, models.ErrSequenceInactive
	}

	now := time.Now().UTC()
	enrollment := models.Enrollment{
		ID:               uuid.NewString(),
		UserID:           userID,
		SequenceID:       sequenceID,
		Status:           models.EnrollmentStatusActive,
		CurrentStepIndex: 0,
		NextSendAt:       now.Add(FirstSendDelay),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.st.CreateEnrollment(enrollment); err != nil {
		// A concurrent run may have won the check-then-create race; the
		// schema constraint is the backstop, so treat the violation as
		// already-enrolled and return the winner's record.
		if errors.Is(err, store.ErrEnrollmentExists) {
			winner, lookupErr := m.st.GetEnrollmentByUserAndSequence(userID, sequenceID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("failed to re-fetch existing enrollment for user %s: %w", userID, lookupErr)
			}
			if winner != nil {
				slog.Debug("Manager.Enroll: lost create race, returning existing enrollment", "userID", userID, "sequenceID", sequenceID)
				return winner, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create enrollment for user %s: %w", userID, err)
	}

	if err := m.st.IncrementSequenceEnrolled(sequenceID); err != nil {
		slog.Error("Manager.Enroll: failed to increment enrolled counter", "error", err, "sequenceID", sequenceID)
		return nil, false, fmt.Errorf("failed to increment enrolled counter for %s: %w", sequenceID, err)
	}

	slog.Info("Manager.Enroll: user enrolled", "userID", userID, "sequence", seq.Slug, "nextSendAt", enrollment.NextSendAt)
	return &enrollment, true, nil
}

// Exit transitions an active enrollment to exited, recording the timestamp
// and a human-readable reason, incrementing the sequence's exited counter,
// and upserting the sequence's exit tag on the user. Exiting an enrollment
// that is already exited is a no-op: the status-guarded update in the store
// keeps the counter exactly-once even across concurrent runs.
func (m *Manager) Exit(enrollmentID, reason string) error {
	if len(reason) > models.MaxExitReasonLength {
		return models.ErrExitReasonTooLong
	}

	enrollment, err := m.st.GetEnrollment(enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to look up enrollment %s: %w", enrollmentID, err)
	}
	if enrollment == nil {
		return models.ErrEnrollmentNotFound
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		slog.Debug("Manager.Exit: enrollment already exited", "enrollmentID", enrollmentID)
		return nil
	}

	changed, err := m.st.MarkEnrollmentExited(enrollmentID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to exit enrollment %s: %w", enrollmentID, err)
	}
	if !changed {
		// Another run exited it between our read and our update.
		slog.Debug("Manager.Exit: lost exit race, nothing to do", "enrollmentID", enrollmentID)
		return nil
	}

	if err := m.st.IncrementSequenceExited(enrollment.SequenceID); err != nil {
		slog.Error("Manager.Exit: failed to increment exited counter", "error", err, "sequenceID", enrollment.SequenceID)
		return fmt.Errorf("failed to increment exited counter for %s: %w", enrollment.SequenceID, err)
	}

	seq, err := m.st.GetSequence(enrollment.SequenceID)
	if err != nil {
		return fmt.Errorf("failed to look up sequence %s: %w", enrollment.SequenceID, err)
	}
	if seq != nil {
		if err := m.st.AddUserTag(enrollment.UserID, ExitTag(seq.Slug)); err != nil {
			slog.Error("Manager.Exit: failed to upsert exit tag", "error", err, "userID", enrollment.UserID, "sequence", seq.Slug)
			return fmt.Errorf("failed to tag user %s on exit: %w", enrollment.UserID, err)
		}
	}

	slog.Info("Manager.Exit: enrollment exited", "enrollmentID", enrollmentID, "userID", enrollment.UserID, "reason", reason)
	return nil
}
