// Package store provides storage backends for CoachPipe.
//
// It includes an in-memory store for tests and zero-config runs, plus
// SQLite and PostgreSQL backed stores. The (user, sequence) enrollment
// uniqueness and the (user, tag) uniqueness are enforced at this layer:
// application-level existence checks are an optimization, the schema
// constraint is the correctness backstop under concurrent batch runs.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Sentinel errors shared by all backends.
var (
	// ErrEnrollmentExists is returned by CreateEnrollment when an enrollment
	// for the same (user, sequence) pair already exists, active or exited.
	ErrEnrollmentExists = errors.New("enrollment already exists for user and sequence")
)

// Store defines the persistence contract consumed by the recovery engine,
// the dispatcher, and the API handlers. Read methods return (nil, nil) when
// the record is not found.
type Store interface {
	// Users and learning activity (consumed read-mostly by the evaluators).
	SaveUser(u models.User) error
	GetUser(id string) (*models.User, error)
	// ListUsersNeverLoggedIn returns evaluable users with no login at all
	// whose signup is at or before signupBefore.
	ListUsersNeverLoggedIn(signupBefore time.Time) ([]models.User, error)
	// ListUsersNeverStarted returns evaluable users whose last login is at or
	// before loginBefore and who have zero progress records.
	ListUsersNeverStarted(loginBefore time.Time) ([]models.User, error)
	// ListUsersAbandoned returns evaluable users with at least one progress
	// record whose latest activity is at or before activityBefore.
	ListUsersAbandoned(activityBefore time.Time) ([]models.User, error)
	// LatestActivityAt returns the user's most recent learning activity: the
	// latest progress record timestamp, falling back to the last login when
	// no progress exists. Nil when the user has neither.
	LatestActivityAt(userID string) (*time.Time, error)
	AddProgressRecord(rec models.ProgressRecord) error
	ListProgressRecords(userID string) ([]models.ProgressRecord, error)
	CountProgressRecords(userID string) (int, error)

	// Sequence catalog.
	SaveSequence(seq models.Sequence) error
	GetSequence(id string) (*models.Sequence, error)
	GetSequenceBySlug(slug string) (*models.Sequence, error)
	ListSequences() ([]models.Sequence, error)
	SaveSequenceStep(step models.SequenceStep) error
	ListSequenceSteps(sequenceID string) ([]models.SequenceStep, error)
	// IncrementSequenceEnrolled and IncrementSequenceExited are atomic
	// relative increments, never read-modify-write.
	IncrementSequenceEnrolled(sequenceID string) error
	IncrementSequenceExited(sequenceID string) error

	// Enrollments.
	// CreateEnrollment inserts a new enrollment and returns
	// ErrEnrollmentExists when the (user, sequence) pair already has one.
	CreateEnrollment(e models.Enrollment) error
	GetEnrollment(id string) (*models.Enrollment, error)
	// GetEnrollmentByUserAndSequence looks up the pair regardless of status;
	// exited enrollments are found too, which is what suppresses
	// re-enrollment after exit.
	GetEnrollmentByUserAndSequence(userID, sequenceID string) (*models.Enrollment, error)
	ListActiveEnrollments(sequenceID string) ([]models.Enrollment, error)
	// ListDueEnrollments returns active enrollments with next_send_at <= now,
	// the read contract relied on by the step dispatcher.
	ListDueEnrollments(now time.Time) ([]models.Enrollment, error)
	// MarkEnrollmentExited transitions an active enrollment to exited and
	// reports whether a row actually changed. Already-exited enrollments are
	// left untouched and report false.
	MarkEnrollmentExited(id, reason string, at time.Time) (bool, error)
	AdvanceEnrollment(id string, nextStepIndex int, nextSendAt time.Time) error

	// Tags. AddUserTag has upsert semantics: adding an existing (user, tag)
	// pair is a no-op, never an error.
	AddUserTag(userID, tag string) error
	ListUserTags(userID string) ([]models.Tag, error)
	UserHasTag(userID, tag string) (bool, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that is
// not recognizably a PostgreSQL URL or key/value DSN is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore constructs a store backend from options. A PostgreSQL DSN selects
// the Postgres store, any other non-empty DSN selects SQLite, and no DSN at
// all falls back to the in-memory store.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
