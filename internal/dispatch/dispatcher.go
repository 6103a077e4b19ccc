// Package dispatch delivers due sequence steps to enrolled users.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/milestone"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// Report summarizes one dispatcher tick.
type Report struct {
	Due       int       `json:"due"`
	Sent      int       `json:"sent"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher sends the step each active enrollment is due for, then advances
// the enrollment to its next step.
type Dispatcher struct {
	st      store.Store
	senders map[models.SequenceChannel]messaging.Sender
}

// NewDispatcher creates a Dispatcher. Channels without a configured sender
// fall back to a console sender that writes messages to the log.
func NewDispatcher(st store.Store, senders map[models.SequenceChannel]messaging.Sender) *Dispatcher {
	all := make(map[models.SequenceChannel]messaging.Sender, 3)
	for _, ch := range []models.SequenceChannel{models.ChannelEmail, models.ChannelSMS, models.ChannelChat} {
		if s, ok := senders[ch]; ok && s != nil {
			all[ch] = s
		} else {
			all[ch] = messaging.NewConsoleSender(string(ch))
		}
	}
	return &Dispatcher{st: st, senders: all}
}

// Run processes every enrollment whose next send is due at now. Per-enrollment
// failures are logged and counted; the tick keeps going. Store-level query
// failures abort the tick.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (Report, error) {
	report := Report{Timestamp: now.UTC()}

	due, err := d.st.ListDueEnrollments(now)
	if err != nil {
		slog.Error("Dispatcher.Run: failed to list due enrollments", "error", err)
		return report, fmt.Errorf("failed to list due enrollments: %w", err)
	}
	report.Due = len(due)

	for i := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		enr := &due[i]
		sent, err := d.dispatchOne(ctx, enr, now)
		if err != nil {
			slog.Error("Dispatcher.Run: step dispatch failed", "enrollmentID", enr.ID, "userID", enr.UserID, "error", err)
			report.Errors++
			continue
		}
		if sent {
			report.Sent++
		} else {
			report.Skipped++
		}
	}

	slog.Info("Dispatcher.Run: tick complete", "due", report.Due, "sent", report.Sent, "skipped", report.Skipped, "errors", report.Errors)
	return report, nil
}

// dispatchOne sends the current step of a single enrollment and advances it.
// Returns false when the enrollment had nothing to send.
func (d *Dispatcher) dispatchOne(ctx context.Context, enr *models.Enrollment, now time.Time) (bool, error) {
	steps, err := d.st.ListSequenceSteps(enr.SequenceID)
	if err != nil {
		return false, fmt.Errorf("failed to load steps for sequence %s: %w", enr.SequenceID, err)
	}
	// Past the last step the enrollment stays active for exit bookkeeping but
	// has nothing left to send.
	if enr.CurrentStepIndex >= len(steps) {
		slog.Debug("Dispatcher.dispatchOne: enrollment past last step", "enrollmentID", enr.ID, "stepIndex", enr.CurrentStepIndex)
		return false, nil
	}
	step := steps[enr.CurrentStepIndex]

	user, err := d.st.GetUser(enr.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to load user %s: %w", enr.UserID, err)
	}
	if user == nil {
		return false, fmt.Errorf("user %s not found", enr.UserID)
	}

	sender, ok := d.senders[step.Channel]
	if !ok {
		return false, fmt.Errorf("no sender for channel %s", step.Channel)
	}
	recipient, err := sender.ValidateAndCanonicalizeRecipient(recipientFor(user, step.Channel))
	if err != nil {
		return false, fmt.Errorf("invalid recipient for user %s: %w", user.ID, err)
	}

	body := RenderStep(&step, user.FirstName)
	if err := sender.SendMessage(ctx, recipient, body); err != nil {
		return false, err
	}

	nextIndex := enr.CurrentStepIndex + 1
	nextSendAt := now
	if nextIndex < len(steps) {
		nextSendAt = now.Add(time.Duration(steps[nextIndex].DelayHours) * time.Hour)
	}
	if err := d.st.AdvanceEnrollment(enr.ID, nextIndex, nextSendAt); err != nil {
		return false, fmt.Errorf("failed to advance enrollment %s: %w", enr.ID, err)
	}

	slog.Debug("Dispatcher.dispatchOne: step sent", "enrollmentID", enr.ID, "stepIndex", enr.CurrentStepIndex, "channel", step.Channel)
	return true, nil
}

// recipientFor picks the user's address for the step's channel. Chat messages
// are keyed by user ID.
func recipientFor(user *models.User, channel models.SequenceChannel) string {
	switch channel {
	case models.ChannelEmail:
		return user.Email
	case models.ChannelSMS:
		return user.Phone
	default:
		return user.ID
	}
}

// RenderStep fills the step body's placeholders with the user's first name,
// falling back to a neutral greeting when none is on record.
func RenderStep(step *models.SequenceStep, firstName string) string {
	if strings.TrimSpace(firstName) == "" {
		firstName = milestone.CoachNameFallback
	}
	return strings.ReplaceAll(step.Body, milestone.FirstNamePlaceholder, firstName)
}
