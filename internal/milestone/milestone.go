// Package milestone provides the scripted, multi-voice milestone messages
// surfaced in the student community feed. Unlike the recovery sequences,
// milestones are keyed off discrete events (opt-in, lesson completions, exam
// passed) rather than elapsed time. This package is pure lookup and template
// rendering; timed delivery of each message, respecting its relative delay
// label, is the dispatcher's job.
package milestone

import (
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/util"
)

// Trigger identifies a milestone event.
type Trigger string

const (
	// TriggerOptIn fires when a lead opts into the mini diploma funnel.
	TriggerOptIn Trigger = "opt_in"
	// TriggerLessonComplete fires when a lesson is completed; the lesson
	// number is part of the lookup key for this trigger only.
	TriggerLessonComplete Trigger = "lesson_complete"
	// TriggerExamPassed fires when the certification exam is passed.
	TriggerExamPassed Trigger = "exam_passed"
	// TriggerNeverLoggedIn24h nudges users who have not logged in a day
	// after opting in.
	TriggerNeverLoggedIn24h Trigger = "never_logged_in_24h"
	// TriggerStuckMidCourse nudges users idle mid-course.
	TriggerStuckMidCourse Trigger = "stuck_mid_course"
	// TriggerDeadline48h fires when the access deadline is two days out.
	TriggerDeadline48h Trigger = "deadline_48h"
)

// Placeholder tokens replaced at render time.
const (
	FirstNamePlaceholder = "{{firstName}}"
	PeerNamePlaceholder  = "{{peerName}}"
	// CoachNameFallback is used when no first name is on record.
	CoachNameFallback = "there"
	// PeerNameFallback is used by peer messages when no first name is on record.
	PeerNameFallback = "friend"
)

// PeerMessage is one simulated peer voice within a bundle. Delay is a
// relative delay label the dispatcher interprets (e.g. "2min",
// "retroactive-1h"); Variants are interchangeable texts, one of which is
// selected per delivery.
type PeerMessage struct {
	PersonaName string   `json:"persona_name"`
	Delay       string   `json:"delay"`
	Variants    []string `json:"variants"`
}

// MessageBundle is the full scripted message set for one milestone: a
// long-form coach message plus zero or more peer messages.
type MessageBundle struct {
	Trigger Trigger       `json:"trigger"`
	Lesson  int           `json:"lesson,omitempty"`
	Coach   string        `json:"coach"`
	Peers   []PeerMessage `json:"peers,omitempty"`
}

// bundleKey is the composite lookup key: the lesson number participates only
// for lesson_complete.
type bundleKey struct {
	trigger Trigger
	lesson  int
}

func keyFor(trigger Trigger, lesson int) bundleKey {
	k := bundleKey{trigger: trigger}
	if trigger == TriggerLessonComplete {
		k.lesson = lesson
	}
	return k
}

// GetMessage looks up the bundle for a trigger. The lesson argument matters
// only for TriggerLessonComplete and is ignored otherwise. A missing bundle
// is an expected, common case (most lesson numbers have none) and reports
// ok=false rather than an error; callers treat it as a no-op.
func GetMessage(trigger Trigger, lesson int) (*MessageBundle, bool) {
	b, ok := bundles[keyFor(trigger, lesson)]
	if !ok {
		return nil, false
	}
	return &b, true
}

// RenderCoach returns the coach message with all first-name placeholders
// substituted, falling back to a generic salutation when no name is given.
func RenderCoach(b *MessageBundle, firstName string) string {
	if strings.TrimSpace(firstName) == "" {
		firstName = CoachNameFallback
	}
	return strings.ReplaceAll(b.Coach, FirstNamePlaceholder, firstName)
}

// RenderPeer selects one variant of a peer message and substitutes both the
// first-name and peer-name placeholders.
func RenderPeer(p PeerMessage, firstName string) string {
	if strings.TrimSpace(firstName) == "" {
		firstName = PeerNameFallback
	}
	text := util.PickVariant(p.Variants)
	text = strings.ReplaceAll(text, FirstNamePlaceholder, firstName)
	return strings.ReplaceAll(text, PeerNamePlaceholder, p.PersonaName)
}
