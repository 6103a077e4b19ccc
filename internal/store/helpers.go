package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil for the zero time, otherwise the time itself.
// Used for nullable timestamp columns.
func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// nilIfNilTime unwraps an optional timestamp for a nullable column.
func nilIfNilTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

const userColumns = `id, first_name, email, phone, last_login_at, signup_at, is_active, is_test, created_at, updated_at`

func scanUser(sc scanner) (models.User, error) {
	var u models.User
	var lastLogin, signup sql.NullTime
	err := sc.Scan(&u.ID, &u.FirstName, &u.Email, &u.Phone, &lastLogin, &signup,
		&u.IsActive, &u.IsTest, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, fmt.Errorf("scan user failed: %w", err)
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	if signup.Valid {
		u.SignupAt = signup.Time
	}
	return u, nil
}

const sequenceColumns = `id, slug, name, is_active, total_enrolled, total_exited, created_at, updated_at`

func scanSequence(sc scanner) (models.Sequence, error) {
	var s models.Sequence
	err := sc.Scan(&s.ID, &s.Slug, &s.Name, &s.IsActive, &s.TotalEnrolled, &s.TotalExited,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, fmt.Errorf("scan sequence failed: %w", err)
	}
	return s, nil
}

const sequenceStepColumns = `id, sequence_id, step_index, channel, subject, body, delay_hours`

func scanSequenceStep(sc scanner) (models.SequenceStep, error) {
	var st models.SequenceStep
	var channel string
	err := sc.Scan(&st.ID, &st.SequenceID, &st.StepIndex, &channel, &st.Subject, &st.Body, &st.DelayHours)
	if err != nil {
		return st, fmt.Errorf("scan sequence step failed: %w", err)
	}
	st.Channel = models.SequenceChannel(channel)
	return st, nil
}

const enrollmentColumns = `id, user_id, sequence_id, status, current_step_index, next_send_at, exited_at, exit_reason, created_at, updated_at`

func scanEnrollment(sc scanner) (models.Enrollment, error) {
	var e models.Enrollment
	var status string
	var exitedAt sql.NullTime
	var exitReason sql.NullString
	err := sc.Scan(&e.ID, &e.UserID, &e.SequenceID, &status, &e.CurrentStepIndex,
		&e.NextSendAt, &exitedAt, &exitReason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, fmt.Errorf("scan enrollment failed: %w", err)
	}
	e.Status = models.EnrollmentStatus(status)
	if exitedAt.Valid {
		e.ExitedAt = &exitedAt.Time
	}
	e.ExitReason = exitReason.String
	return e, nil
}
