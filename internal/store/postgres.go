// Package store provides storage backends for CoachPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pqUniqueViolationCode is the PostgreSQL error code for unique_violation.
const pqUniqueViolationCode = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// isPostgresUniqueViolation reports whether err is a unique constraint
// violation.
func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolationCode
}

// SaveUser stores or updates a user record.
func (s *PostgresStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			last_login_at = EXCLUDED.last_login_at,
			signup_at = EXCLUDED.signup_at,
			is_active = EXCLUDED.is_active,
			is_test = EXCLUDED.is_test,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.FirstName, u.Email, u.Phone, nilIfNilTime(u.LastLoginAt), nilIfZeroTime(u.SignupAt),
		u.IsActive, u.IsTest, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	slog.Debug("PostgresStore SaveUser succeeded", "userID", u.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetUser not found", "userID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "userID", id)
		return nil, err
	}
	return &u, nil
}

// evaluableUsersWhere filters to users the trigger evaluator may consider:
// active, not synthetic, and with a signup timestamp on record.
const postgresEvaluableUsersWhere = `is_active AND NOT is_test AND signup_at IS NOT NULL`

// ListUsersNeverLoggedIn returns evaluable users who have never logged in and
// signed up at or before signupBefore.
func (s *PostgresStore) ListUsersNeverLoggedIn(signupBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + postgresEvaluableUsersWhere + `
		AND last_login_at IS NULL AND signup_at <= $1`
	return s.queryUsers(query, signupBefore)
}

// ListUsersNeverStarted returns evaluable users whose last login is at or
// before loginBefore and who have no progress records at all.
func (s *PostgresStore) ListUsersNeverStarted(loginBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + postgresEvaluableUsersWhere + `
		AND last_login_at IS NOT NULL AND last_login_at <= $1
		AND NOT EXISTS (SELECT 1 FROM progress_records p WHERE p.user_id = users.id)`
	return s.queryUsers(query, loginBefore)
}

// ListUsersAbandoned returns evaluable users with progress whose latest
// learning activity is at or before activityBefore.
func (s *PostgresStore) ListUsersAbandoned(activityBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + postgresEvaluableUsersWhere + `
		AND EXISTS (SELECT 1 FROM progress_records p WHERE p.user_id = users.id)
		AND COALESCE((SELECT MAX(p.updated_at) FROM progress_records p WHERE p.user_id = users.id), last_login_at) <= $1`
	return s.queryUsers(query, activityBefore)
}

func (s *PostgresStore) queryUsers(query string, args ...interface{}) ([]models.User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore user query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("PostgresStore user scan failed", "error", err)
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore user rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}

// LatestActivityAt returns the user's most recent learning activity, falling
// back to the last login when no progress records exist. Nil when neither is
// on record.
func (s *PostgresStore) LatestActivityAt(userID string) (*time.Time, error) {
	query := `SELECT COALESCE((SELECT MAX(p.updated_at) FROM progress_records p WHERE p.user_id = u.id), u.last_login_at)
		FROM users u WHERE u.id = $1`
	var at sql.NullTime
	err := s.db.QueryRow(query, userID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestActivityAt failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query latest activity for %s: %w", userID, err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

// AddProgressRecord stores a lesson progress record.
func (s *PostgresStore) AddProgressRecord(rec models.ProgressRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO progress_records (id, user_id, lesson_number, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			lesson_number = EXCLUDED.lesson_number,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.UserID, rec.LessonNumber, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore AddProgressRecord failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert progress record for %s: %w", rec.UserID, err)
	}
	slog.Debug("PostgresStore AddProgressRecord succeeded", "userID", rec.UserID, "lesson", rec.LessonNumber)
	return nil
}

// ListProgressRecords retrieves all progress records for a user.
func (s *PostgresStore) ListProgressRecords(userID string) ([]models.ProgressRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, lesson_number, updated_at FROM progress_records WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListProgressRecords failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query progress records: %w", err)
	}
	defer rows.Close()

	var records []models.ProgressRecord
	for rows.Next() {
		var rec models.ProgressRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.LessonNumber, &rec.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListProgressRecords scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan progress record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress record rows: %w", err)
	}
	return records, nil
}

// CountProgressRecords returns the number of progress records for a user.
func (s *PostgresStore) CountProgressRecords(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM progress_records WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountProgressRecords failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count progress records for %s: %w", userID, err)
	}
	return count, nil
}

// SaveSequence stores or updates a sequence. Counters are preserved on
// update; they only move via the increment methods.
func (s *PostgresStore) SaveSequence(seq models.Sequence) error {
	_, err := s.db.Exec(`
		INSERT INTO sequences (`+sequenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		seq.ID, seq.Slug, seq.Name, seq.IsActive, seq.TotalEnrolled, seq.TotalExited,
		seq.CreatedAt, seq.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSequence failed", "error", err, "slug", seq.Slug)
		return fmt.Errorf("failed to save sequence %s: %w", seq.Slug, err)
	}
	slog.Debug("PostgresStore SaveSequence succeeded", "slug", seq.Slug)
	return nil
}

// GetSequence retrieves a sequence by ID.
func (s *PostgresStore) GetSequence(id string) (*models.Sequence, error) {
	row := s.db.QueryRow(`SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetSequence not found", "sequenceID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSequence failed", "error", err, "sequenceID", id)
		return nil, err
	}
	return &seq, nil
}

// GetSequenceBySlug retrieves a sequence by its slug.
func (s *PostgresStore) GetSequenceBySlug(slug string) (*models.Sequence, error) {
	row := s.db.QueryRow(`SELECT `+sequenceColumns+` FROM sequences WHERE slug = $1`, slug)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetSequenceBySlug not found", "slug", slug)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSequenceBySlug failed", "error", err, "slug", slug)
		return nil, err
	}
	return &seq, nil
}

// ListSequences retrieves all sequences.
func (s *PostgresStore) ListSequences() ([]models.Sequence, error) {
	rows, err := s.db.Query(`SELECT ` + sequenceColumns + ` FROM sequences ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListSequences failed", "error", err)
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	defer rows.Close()

	var sequences []models.Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			slog.Error("PostgresStore ListSequences scan failed", "error", err)
			return nil, err
		}
		sequences = append(sequences, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sequence rows: %w", err)
	}
	return sequences, nil
}

// SaveSequenceStep stores or updates one step of a sequence.
func (s *PostgresStore) SaveSequenceStep(step models.SequenceStep) error {
	_, err := s.db.Exec(`
		INSERT INTO sequence_steps (`+sequenceStepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence_id, step_index) DO UPDATE SET
			channel = EXCLUDED.channel,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			delay_hours = EXCLUDED.delay_hours`,
		step.ID, step.SequenceID, step.StepIndex, string(step.Channel), step.Subject, step.Body, step.DelayHours)
	if err != nil {
		slog.Error("PostgresStore SaveSequenceStep failed", "error", err, "sequenceID", step.SequenceID, "stepIndex", step.StepIndex)
		return fmt.Errorf("failed to save sequence step: %w", err)
	}
	return nil
}

// ListSequenceSteps retrieves a sequence's steps ordered by step index.
func (s *PostgresStore) ListSequenceSteps(sequenceID string) ([]models.SequenceStep, error) {
	rows, err := s.db.Query(`SELECT `+sequenceStepColumns+` FROM sequence_steps WHERE sequence_id = $1 ORDER BY step_index`, sequenceID)
	if err != nil {
		slog.Error("PostgresStore ListSequenceSteps failed", "error", err, "sequenceID", sequenceID)
		return nil, fmt.Errorf("failed to query sequence steps: %w", err)
	}
	defer rows.Close()

	var steps []models.SequenceStep
	for rows.Next() {
		step, err := scanSequenceStep(rows)
		if err != nil {
			slog.Error("PostgresStore ListSequenceSteps scan failed", "error", err)
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sequence step rows: %w", err)
	}
	return steps, nil
}

// IncrementSequenceEnrolled atomically increments a sequence's enrolled counter.
func (s *PostgresStore) IncrementSequenceEnrolled(sequenceID string) error {
	_, err := s.db.Exec(`UPDATE sequences SET total_enrolled = total_enrolled + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), sequenceID)
	if err != nil {
		slog.Error("PostgresStore IncrementSequenceEnrolled failed", "error", err, "sequenceID", sequenceID)
		return fmt.Errorf("failed to increment enrolled counter for %s: %w", sequenceID, err)
	}
	return nil
}

// IncrementSequenceExited atomically increments a sequence's exited counter.
func (s *PostgresStore) IncrementSequenceExited(sequenceID string) error {
	_, err := s.db.Exec(`UPDATE sequences SET total_exited = total_exited + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), sequenceID)
	if err != nil {
		slog.Error("PostgresStore IncrementSequenceExited failed", "error", err, "sequenceID", sequenceID)
		return fmt.Errorf("failed to increment exited counter for %s: %w", sequenceID, err)
	}
	return nil
}

// CreateEnrollment inserts a new enrollment. A uniqueness violation on the
// (user_id, sequence_id) pair is reported as ErrEnrollmentExists so callers
// can treat it as already-enrolled.
func (s *PostgresStore) CreateEnrollment(e models.Enrollment) error {
	_, err := s.db.Exec(`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.SequenceID, string(e.Status), e.CurrentStepIndex, e.NextSendAt,
		nilIfNilTime(e.ExitedAt), nilIfEmpty(e.ExitReason), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			slog.Debug("PostgresStore CreateEnrollment pair already exists", "userID", e.UserID, "sequenceID", e.SequenceID)
			return ErrEnrollmentExists
		}
		slog.Error("PostgresStore CreateEnrollment failed", "error", err, "userID", e.UserID, "sequenceID", e.SequenceID)
		return fmt.Errorf("failed to insert enrollment for %s: %w", e.UserID, err)
	}
	slog.Debug("PostgresStore CreateEnrollment succeeded", "userID", e.UserID, "sequenceID", e.SequenceID)
	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (s *PostgresStore) GetEnrollment(id string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetEnrollment not found", "enrollmentID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetEnrollment failed", "error", err, "enrollmentID", id)
		return nil, err
	}
	return &e, nil
}

// GetEnrollmentByUserAndSequence looks up the (user, sequence) pair
// regardless of status.
func (s *PostgresStore) GetEnrollmentByUserAndSequence(userID, sequenceID string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND sequence_id = $2`, userID, sequenceID)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetEnrollmentByUserAndSequence not found", "userID", userID, "sequenceID", sequenceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetEnrollmentByUserAndSequence failed", "error", err, "userID", userID, "sequenceID", sequenceID)
		return nil, err
	}
	return &e, nil
}

// ListActiveEnrollments retrieves all active enrollments under a sequence.
func (s *PostgresStore) ListActiveEnrollments(sequenceID string) ([]models.Enrollment, error) {
	return s.queryEnrollments(`SELECT `+enrollmentColumns+` FROM enrollments WHERE sequence_id = $1 AND status = $2 ORDER BY created_at`,
		sequenceID, string(models.EnrollmentStatusActive))
}

// ListDueEnrollments retrieves active enrollments whose next send time has
// arrived.
func (s *PostgresStore) ListDueEnrollments(now time.Time) ([]models.Enrollment, error) {
	return s.queryEnrollments(`SELECT `+enrollmentColumns+` FROM enrollments WHERE status = $1 AND next_send_at <= $2 ORDER BY next_send_at`,
		string(models.EnrollmentStatusActive), now)
}

func (s *PostgresStore) queryEnrollments(query string, args ...interface{}) ([]models.Enrollment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore enrollment query failed", "error", err)
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			slog.Error("PostgresStore enrollment scan failed", "error", err)
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollment rows: %w", err)
	}
	return enrollments, nil
}

// MarkEnrollmentExited transitions an active enrollment to exited. The
// status guard in the WHERE clause makes repeated calls no-ops.
func (s *PostgresStore) MarkEnrollmentExited(id, reason string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE enrollments SET status = $1, exited_at = $2, exit_reason = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(models.EnrollmentStatusExited), at, reason, at, id, string(models.EnrollmentStatusActive))
	if err != nil {
		slog.Error("PostgresStore MarkEnrollmentExited failed", "error", err, "enrollmentID", id)
		return false, fmt.Errorf("failed to exit enrollment %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("PostgresStore MarkEnrollmentExited", "enrollmentID", id, "changed", affected > 0)
	return affected > 0, nil
}

// AdvanceEnrollment moves an active enrollment to its next step and send time.
func (s *PostgresStore) AdvanceEnrollment(id string, nextStepIndex int, nextSendAt time.Time) error {
	_, err := s.db.Exec(`UPDATE enrollments SET current_step_index = $1, next_send_at = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		nextStepIndex, nextSendAt, time.Now().UTC(), id, string(models.EnrollmentStatusActive))
	if err != nil {
		slog.Error("PostgresStore AdvanceEnrollment failed", "error", err, "enrollmentID", id)
		return fmt.Errorf("failed to advance enrollment %s: %w", id, err)
	}
	return nil
}

// AddUserTag upserts a tag on a user. Adding an existing tag is a no-op.
func (s *PostgresStore) AddUserTag(userID, tag string) error {
	if err := models.ValidateTag(tag); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO user_tags (user_id, tag, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, tag) DO NOTHING`,
		userID, tag, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AddUserTag failed", "error", err, "userID", userID, "tag", tag)
		return fmt.Errorf("failed to add tag %q for %s: %w", tag, userID, err)
	}
	slog.Debug("PostgresStore AddUserTag succeeded", "userID", userID, "tag", tag)
	return nil
}

// ListUserTags retrieves all tags attached to a user.
func (s *PostgresStore) ListUserTags(userID string) ([]models.Tag, error) {
	rows, err := s.db.Query(`SELECT user_id, tag, created_at FROM user_tags WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("PostgresStore ListUserTags failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.UserID, &t.Tag, &t.CreatedAt); err != nil {
			slog.Error("PostgresStore ListUserTags scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag rows: %w", err)
	}
	return tags, nil
}

// UserHasTag reports whether the user carries the given tag.
func (s *PostgresStore) UserHasTag(userID, tag string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM user_tags WHERE user_id = $1 AND tag = $2`, userID, tag).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore UserHasTag failed", "error", err, "userID", userID, "tag", tag)
		return false, fmt.Errorf("failed to check tag %q for %s: %w", tag, userID, err)
	}
	return count > 0, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
