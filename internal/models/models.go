// Package models defines the core data structures for CoachPipe.
//
// It includes users and their learning activity, the sequence catalog,
// enrollments, and tags, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxTagLength defines the maximum allowed length for a user tag
	MaxTagLength = 128
	// MaxExitReasonLength defines the maximum allowed length for an enrollment exit reason
	MaxExitReasonLength = 512
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID        = errors.New("user ID cannot be empty")
	ErrEmptySequenceID    = errors.New("sequence ID cannot be empty")
	ErrEmptySequenceSlug  = errors.New("sequence slug cannot be empty")
	ErrEmptyTag           = errors.New("tag cannot be empty")
	ErrTagTooLong         = errors.New("tag exceeds maximum length")
	ErrExitReasonTooLong  = errors.New("exit reason exceeds maximum length")
	ErrSequenceInactive   = errors.New("sequence is not active")
	ErrSequenceNotFound   = errors.New("sequence not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
)

// User represents a student or lead consumed read-only by the recovery engine.
// LastLoginAt is nil until the first login. IsTest marks synthetic profiles
// that are never evaluated for recovery sequences.
type User struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"first_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	SignupAt    time.Time  `json:"signup_at"`
	IsActive    bool       `json:"is_active"`
	IsTest      bool       `json:"is_test"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProgressRecord represents one lesson's progress for a user. The existence
// of at least one record means the user has started learning; the most
// recently updated record is the user's last learning activity.
type ProgressRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	LessonNumber int       `json:"lesson_number"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SequenceChannel identifies the outbound channel of a sequence step.
type SequenceChannel string

const (
	// ChannelEmail delivers the step as an email.
	ChannelEmail SequenceChannel = "email"
	// ChannelSMS delivers the step as an SMS text message.
	ChannelSMS SequenceChannel = "sms"
	// ChannelChat delivers the step into the in-app chat feed.
	ChannelChat SequenceChannel = "chat"
)

// IsValidSequenceChannel checks if the given channel is supported.
func IsValidSequenceChannel(c SequenceChannel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	default:
		return false
	}
}

// Sequence is a named, ordered set of outbound-message steps users can be
// enrolled into. Slug is the stable lookup identifier. TotalEnrolled and
// TotalExited only ever move via atomic relative increments in the store.
type Sequence struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"is_active"`
	TotalEnrolled int       `json:"total_enrolled"`
	TotalExited   int       `json:"total_exited"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SequenceStep is one outbound message within a sequence. DelayHours is the
// delay relative to the previous step (or to enrollment for step 0's
// follow-up scheduling).
type SequenceStep struct {
	ID         string          `json:"id"`
	SequenceID string          `json:"sequence_id"`
	StepIndex  int             `json:"step_index"`
	Channel    SequenceChannel `json:"channel"`
	Subject    string          `json:"subject,omitempty"`
	Body       string          `json:"body"`
	DelayHours int             `json:"delay_hours"`
}

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	// EnrollmentStatusActive indicates the user is currently in the sequence.
	EnrollmentStatusActive EnrollmentStatus = "active"
	// EnrollmentStatusExited indicates the user left the sequence. Terminal.
	EnrollmentStatusExited EnrollmentStatus = "exited"
)

// IsValidEnrollmentStatus checks if the given enrollment status is valid.
func IsValidEnrollmentStatus(status EnrollmentStatus) bool {
	switch status {
	case EnrollmentStatusActive, EnrollmentStatusExited:
		return true
	default:
		return false
	}
}

// Enrollment records one user's membership and progress within one sequence.
// The (UserID, SequenceID) pair is unique for the lifetime of the system:
// once a pair exists, active or exited, it is never deleted and never
// re-created, which is what prevents re-triggering after exit.
type Enrollment struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	SequenceID       string           `json:"sequence_id"`
	Status           EnrollmentStatus `json:"status"`
	CurrentStepIndex int              `json:"current_step_index"`
	NextSendAt       time.Time        `json:"next_send_at"`
	ExitedAt         *time.Time       `json:"exited_at,omitempty"`
	ExitReason       string           `json:"exit_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Tag is a free-text behavioral label on a user, optionally namespaced
// (e.g. "recovery:abandoned"). Tags are additive and upserts are no-ops.
type Tag struct {
	UserID    string    `json:"user_id"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks a tag value before it is persisted.
func ValidateTag(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return ErrEmptyTag
	}
	if len(tag) > MaxTagLength {
		return ErrTagTooLong
	}
	return nil
}

// ConditionReport holds the per-condition counts of one trigger evaluation.
type ConditionReport struct {
	Checked  int `json:"checked"`
	Enrolled int `json:"enrolled"`
}

// ExitReport holds the per-sequence counts of one exit evaluation.
type ExitReport struct {
	Checked int `json:"checked"`
	Exited  int `json:"exited"`
}

// RunReport is the JSON body returned by the recovery-run endpoint: one
// ConditionReport per trigger condition, one ExitReport per sequence, a
// global error tally, and an overall success flag.
type RunReport struct {
	Conditions map[string]ConditionReport `json:"conditions"`
	Exits      map[string]ExitReport      `json:"exits"`
	Errors     int                        `json:"errors"`
	Success    bool                       `json:"success"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// NewRunReport creates an empty RunReport stamped with the given time.
func NewRunReport(now time.Time) RunReport {
	return RunReport{
		Conditions: make(map[string]ConditionReport),
		Exits:      make(map[string]ExitReport),
		Timestamp:  now,
	}
}
