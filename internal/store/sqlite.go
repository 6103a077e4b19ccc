// Package store provides storage backends for CoachPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint violation.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// SaveUser stores or updates a user record.
func (s *SQLiteStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.Email, u.Phone, nilIfNilTime(u.LastLoginAt), nilIfZeroTime(u.SignupAt),
		u.IsActive, u.IsTest, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "userID", u.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetUser not found", "userID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", id)
		return nil, err
	}
	return &u, nil
}

// evaluableUsersWhere filters to users the trigger evaluator may consider:
// active, not synthetic, and with a signup timestamp on record.
const sqliteEvaluableUsersWhere = `is_active = 1 AND is_test = 0 AND signup_at IS NOT NULL`

// ListUsersNeverLoggedIn returns evaluable users who have never logged in and
// signed up at or before signupBefore.
func (s *SQLiteStore) ListUsersNeverLoggedIn(signupBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + sqliteEvaluableUsersWhere + `
		AND last_login_at IS NULL AND signup_at <= ?`
	return s.queryUsers(query, signupBefore)
}

// ListUsersNeverStarted returns evaluable users whose last login is at or
// before loginBefore and who have no progress records at all.
func (s *SQLiteStore) ListUsersNeverStarted(loginBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + sqliteEvaluableUsersWhere + `
		AND last_login_at IS NOT NULL AND last_login_at <= ?
		AND NOT EXISTS (SELECT 1 FROM progress_records p WHERE p.user_id = users.id)`
	return s.queryUsers(query, loginBefore)
}

// ListUsersAbandoned returns evaluable users with progress whose latest
// learning activity is at or before activityBefore.
func (s *SQLiteStore) ListUsersAbandoned(activityBefore time.Time) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + sqliteEvaluableUsersWhere + `
		AND EXISTS (SELECT 1 FROM progress_records p WHERE p.user_id = users.id)
		AND COALESCE((SELECT MAX(p.updated_at) FROM progress_records p WHERE p.user_id = users.id), last_login_at) <= ?`
	return s.queryUsers(query, activityBefore)
}

func (s *SQLiteStore) queryUsers(query string, args ...interface{}) ([]models.User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore user query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("SQLiteStore user scan failed", "error", err)
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore user rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}

// LatestActivityAt returns the user's most recent learning activity, falling
// back to the last login when no progress records exist. Nil when neither is
// on record.
func (s *SQLiteStore) LatestActivityAt(userID string) (*time.Time, error) {
	query := `SELECT COALESCE((SELECT MAX(p.updated_at) FROM progress_records p WHERE p.user_id = u.id), u.last_login_at)
		FROM users u WHERE u.id = ?`
	var at sql.NullTime
	err := s.db.QueryRow(query, userID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestActivityAt failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query latest activity for %s: %w", userID, err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

// AddProgressRecord stores a lesson progress record.
func (s *SQLiteStore) AddProgressRecord(rec models.ProgressRecord) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO progress_records (id, user_id, lesson_number, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.LessonNumber, rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddProgressRecord failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert progress record for %s: %w", rec.UserID, err)
	}
	slog.Debug("SQLiteStore AddProgressRecord succeeded", "userID", rec.UserID, "lesson", rec.LessonNumber)
	return nil
}

// ListProgressRecords retrieves all progress records for a user.
func (s *SQLiteStore) ListProgressRecords(userID string) ([]models.ProgressRecord, error) {
	rows, err := s.db.Query(`SELECT id, user_id, lesson_number, updated_at FROM progress_records WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListProgressRecords failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query progress records: %w", err)
	}
	defer rows.Close()

	var records []models.ProgressRecord
	for rows.Next() {
		var rec models.ProgressRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.LessonNumber, &rec.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListProgressRecords scan failed", "error", err)
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
func (s *SQLiteStore) CountProgressRecords(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM progress_records WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountProgressRecords failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to count progress records for %s: %w", userID, err)
	}
	return count, nil
}

// SaveSequence stores or updates a sequence. Counters are preserved on
// update; they only move via the increment methods.
func (s *SQLiteStore) SaveSequence(seq models.Sequence) error {
	_, err := s.db.Exec(`
		INSERT INTO sequences (`+sequenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		seq.ID, seq.Slug, seq.Name, seq.IsActive, seq.TotalEnrolled, seq.TotalExited,
		seq.CreatedAt, seq.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSequence failed", "error", err, "slug", seq.Slug)
		return fmt.Errorf("failed to save sequence %s: %w", seq.Slug, err)
	}
	slog.Debug("SQLiteStore SaveSequence succeeded", "slug", seq.Slug)
	return nil
}

// GetSequence retrieves a sequence by ID.
func (s *SQLiteStore) GetSequence(id string) (*models.Sequence, error) {
	row := s.db.QueryRow(`SELECT `+sequenceColumns+` FROM sequences WHERE id = ?`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetSequence not found", "sequenceID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSequence failed", "error", err, "sequenceID", id)
		return nil, err
	}
	return &seq, nil
}

// GetSequenceBySlug retrieves a sequence by its slug.
func (s *SQLiteStore) GetSequenceBySlug(slug string) (*models.Sequence, error) {
	row := s.db.QueryRow(`SELECT `+sequenceColumns+` FROM sequences WHERE slug = ?`, slug)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetSequenceBySlug not found", "slug", slug)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSequenceBySlug failed", "error", err, "slug", slug)
		return nil, err
	}
	return &seq, nil
}

// ListSequences retrieves all sequences.
func (s *SQLiteStore) ListSequences() ([]models.Sequence, error) {
	rows, err := s.db.Query(`SELECT ` + sequenceColumns + ` FROM sequences ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListSequences failed", "error", err)
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	defer rows.Close()

	var sequences []models.Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSequences scan failed", "error", err)
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
func (s *SQLiteStore) SaveSequenceStep(step models.SequenceStep) error {
	_, err := s.db.Exec(`
		INSERT INTO sequence_steps (`+sequenceStepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sequence_id, step_index) DO UPDATE SET
			channel = excluded.channel,
			subject = excluded.subject,
			body = excluded.body,
			delay_hours = excluded.delay_hours`,
		step.ID, step.SequenceID, step.StepIndex, string(step.Channel), step.Subject, step.Body, step.DelayHours)
	if err != nil {
		slog.Error("SQLiteStore SaveSequenceStep failed", "error", err, "sequenceID", step.SequenceID, "stepIndex", step.StepIndex)
		return fmt.Errorf("failed to save sequence step: %w", err)
	}
	return nil
}

// ListSequenceSteps retrieves a sequence's steps ordered by step index.
func (s *SQLiteStore) ListSequenceSteps(sequenceID string) ([]models.SequenceStep, error) {
	rows, err := s.db.Query(`SELECT `+sequenceStepColumns+` FROM sequence_steps WHERE sequence_id = ? ORDER BY step_index`, sequenceID)
	if err != nil {
		slog.Error("SQLiteStore ListSequenceSteps failed", "error", err, "sequenceID", sequenceID)
		return nil, fmt.Errorf("failed to query sequence steps: %w", err)
	}
	defer rows.Close()

	var steps []models.SequenceStep
	for rows.Next() {
		step, err := scanSequenceStep(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSequenceSteps scan failed", "error", err)
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
func (s *SQLiteStore) IncrementSequenceEnrolled(sequenceID string) error {
	_, err := s.db.Exec(`UPDATE sequences SET total_enrolled = total_enrolled + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), sequenceID)
	if err != nil {
		slog.Error("SQLiteStore IncrementSequenceEnrolled failed", "error", err, "sequenceID", sequenceID)
		return fmt.Errorf("failed to increment enrolled counter for %s: %w", sequenceID, err)
	}
	return nil
}

// IncrementSequenceExited atomically increments a sequence's exited counter.
func (s *SQLiteStore) IncrementSequenceExited(sequenceID string) error {
	_, err := s.db.Exec(`UPDATE sequences SET total_exited = total_exited + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), sequenceID)
	if err != nil {
		slog.Error("SQLiteStore IncrementSequenceExited failed", "error", err, "sequenceID", sequenceID)
		return fmt.Errorf("failed to increment exited counter for %s: %w", sequenceID, err)
	}
	return nil
}

// CreateEnrollment inserts a new enrollment. A uniqueness violation on the
// (user_id, sequence_id) pair is reported as ErrEnrollmentExists so callers
// can treat it as already-enrolled.
func (s *SQLiteStore) CreateEnrollment(e models.Enrollment) error {
	_, err := s.db.Exec(`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.SequenceID, string(e.Status), e.CurrentStepIndex, e.NextSendAt,
		nilIfNilTime(e.ExitedAt), nilIfEmpty(e.ExitReason), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			slog.Debug("SQLiteStore CreateEnrollment pair already exists", "userID", e.UserID, "sequenceID", e.SequenceID)
			return ErrEnrollmentExists
		}
		slog.Error("SQLiteStore CreateEnrollment failed", "error", err, "userID", e.UserID, "sequenceID", e.SequenceID)
		return fmt.Errorf("failed to insert enrollment for %s: %w", e.UserID, err)
	}
	slog.Debug("SQLiteStore CreateEnrollment succeeded", "userID", e.UserID, "sequenceID", e.SequenceID)
	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (s *SQLiteStore) GetEnrollment(id string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetEnrollment not found", "enrollmentID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetEnrollment failed", "error", err, "enrollmentID", id)
		return nil, err
	}
	return &e, nil
}

// GetEnrollmentByUserAndSequence looks up the (user, sequence) pair
// regardless of status.
func (s *SQLiteStore) GetEnrollmentByUserAndSequence(userID, sequenceID string) (*models.Enrollment, error) {
	row := s.db.QueryRow(`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = ? AND sequence_id = ?`, userID, sequenceID)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetEnrollmentByUserAndSequence not found", "userID", userID, "sequenceID", sequenceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetEnrollmentByUserAndSequence failed", "error", err, "userID", userID, "sequenceID", sequenceID)
		return nil, err
	}
	return &e, nil
}

// ListActiveEnrollments retrieves all active enrollments under a sequence.
func (s *SQLiteStore) ListActiveEnrollments(sequenceID string) ([]models.Enrollment, error) {
	return s.queryEnrollments(`SELECT `+enrollmentColumns+` FROM enrollments WHERE sequence_id = ? AND status = ? ORDER BY created_at`,
		sequenceID, string(models.EnrollmentStatusActive))
}

// ListDueEnrollments retrieves active enrollments whose next send time has
// arrived.
func (s *SQLiteStore) ListDueEnrollments(now time.Time) ([]models.Enrollment, error) {
	return s.queryEnrollments(`SELECT `+enrollmentColumns+` FROM enrollments WHERE status = ? AND next_send_at <= ? ORDER BY next_send_at`,
		string(models.EnrollmentStatusActive), now)
}

func (s *SQLiteStore) queryEnrollments(query string, args ...interface{}) ([]models.Enrollment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore enrollment query failed", "error", err)
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			slog.Error("SQLiteStore enrollment scan failed", "error", err)
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
func (s *SQLiteStore) MarkEnrollmentExited(id, reason string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE enrollments SET status = ?, exited_at = ?, exit_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.EnrollmentStatusExited), at, reason, at, id, string(models.EnrollmentStatusActive))
	if err != nil {
		slog.Error("SQLiteStore MarkEnrollmentExited failed", "error", err, "enrollmentID", id)
		return false, fmt.Errorf("failed to exit enrollment %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("SQLiteStore MarkEnrollmentExited", "enrollmentID", id, "changed", affected > 0)
	return affected > 0, nil
}

// AdvanceEnrollment moves an active enrollment to its next step and send time.
func (s *SQLiteStore) AdvanceEnrollment(id string, nextStepIndex int, nextSendAt time.Time) error {
	_, err := s.db.Exec(`UPDATE enrollments SET current_step_index = ?, next_send_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		nextStepIndex, nextSendAt, time.Now().UTC(), id, string(models.EnrollmentStatusActive))
	if err != nil {
		slog.Error("SQLiteStore AdvanceEnrollment failed", "error", err, "enrollmentID", id)
		return fmt.Errorf("failed to advance enrollment %s: %w", id, err)
	}
	return nil
}

// AddUserTag upserts a tag on a user. Adding an existing tag is a no-op.
func (s *SQLiteStore) AddUserTag(userID, tag string) error {
	if err := models.ValidateTag(tag); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO user_tags (user_id, tag, created_at) VALUES (?, ?, ?)`,
		userID, tag, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore AddUserTag failed", "error", err, "userID", userID, "tag", tag)
		return fmt.Errorf("failed to add tag %q for %s: %w", tag, userID, err)
	}
	slog.Debug("SQLiteStore AddUserTag succeeded", "userID", userID, "tag", tag)
	return nil
}

// ListUserTags retrieves all tags attached to a user.
func (s *SQLiteStore) ListUserTags(userID string) ([]models.Tag, error) {
	rows, err := s.db.Query(`SELECT user_id, tag, created_at FROM user_tags WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListUserTags failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.UserID, &t.Tag, &t.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListUserTags scan failed", "error", err)
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
func (s *SQLiteStore) UserHasTag(userID, tag string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM user_tags WHERE user_id = ? AND tag = ?`, userID, tag).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore UserHasTag failed", "error", err, "userID", userID, "tag", tag)
		return false, fmt.Errorf("failed to check tag %q for %s: %w", tag, userID, err)
	}
	return count > 0, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
