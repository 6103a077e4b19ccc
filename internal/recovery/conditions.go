// Package recovery implements the recovery/nurturing sequence engine for
// CoachPipe: the trigger evaluator that enrolls users into recovery
// sequences based on behavioral conditions, the enrollment manager that owns
// the enrollment lifecycle and sequence counters, and the exit evaluator
// that closes enrollments once the triggering condition has been resolved.
package recovery

import "time"

// Recovery sequence slugs. Each trigger condition maps to exactly one
// sequence looked up by slug; a missing or inactive sequence silently
// disables its condition for that run.
const (
	// SlugNeverLoggedIn targets users who signed up but never logged in.
	SlugNeverLoggedIn = "never_logged_in"
	// SlugNeverStarted targets users who logged in but never opened a lesson.
	SlugNeverStarted = "never_started"
	// SlugAbandoned targets users who started learning and then went quiet.
	SlugAbandoned = "abandoned"
)

// Entry thresholds and scheduling constants.
const (
	// NeverLoggedInThreshold is how long after signup a user with no login
	// becomes eligible for the never-logged-in sequence.
	NeverLoggedInThreshold = 24 * time.Hour
	// NeverStartedThreshold is how long after the last login a user with
	// zero progress becomes eligible for the never-started sequence.
	NeverStartedThreshold = 48 * time.Hour
	// AbandonedThreshold is how long after the last learning activity a
	// user with progress becomes eligible for the abandoned sequence.
	AbandonedThreshold = 7 * 24 * time.Hour
	// ReengagementWindow is the exit threshold for the abandoned sequence.
	// It is deliberately shorter than AbandonedThreshold: any activity within
	// the window counts as re-engagement even though it would not yet clear
	// the 7-day entry criterion.
	ReengagementWindow = 3 * 24 * time.Hour
	// FirstSendDelay is how long after enrollment the dispatcher first acts
	// on an enrollment.
	FirstSendDelay = 15 * time.Minute
)

// Exit reasons recorded on enrollments when their condition resolves.
const (
	ExitReasonLoggedIn        = "User took action (logged in)"
	ExitReasonStartedLearning = "User started learning"
	ExitReasonBecameActive    = "User became active again"
)

// TagPrefix namespaces the marker tags the engine writes, so other parts of
// the platform can query recovery membership.
const TagPrefix = "recovery:"

// EntryTag is the marker tag upserted when a user enters a recovery sequence.
func EntryTag(slug string) string {
	return TagPrefix + slug
}

// ExitTag is the marker tag upserted when a user exits a recovery sequence.
// The entry tag is never removed; tags are additive.
func ExitTag(slug string) string {
	return TagPrefix + slug + "_exited"
}
