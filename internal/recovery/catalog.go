package recovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/google/uuid"
)

// defaultSequence describes one seeded recovery sequence and its step
// templates. Step bodies use the {{firstName}} placeholder rendered at
// dispatch time.
type defaultSequence struct {
	slug  string
	name  string
	steps []models.SequenceStep
}

func defaultSequences() []defaultSequence {
	return []defaultSequence{
		{
			slug: SlugNeverLoggedIn,
			name: "Never Logged In Recovery",
			steps: []models.SequenceStep{
				{StepIndex: 0, Channel: models.ChannelEmail, DelayHours: 0,
					Subject: "Your health coach training is waiting",
					Body:    "Hi {{firstName}}, your student account is ready but you haven't logged in yet. Your first lesson takes about 10 minutes."},
				{StepIndex: 1, Channel: models.ChannelSMS, DelayHours: 24,
					Body: "Hi {{firstName}}! Quick reminder that your health coach mini diploma is waiting for you. Jump back in anytime."},
				{StepIndex: 2, Channel: models.ChannelEmail, DelayHours: 48,
					Subject: "Last call before we archive your seat",
					Body:    "{{firstName}}, we hold seats for a limited time. Log in this week to keep your place in the program."},
			},
		},
		{
			slug: SlugNeverStarted,
			name: "Never Started Recovery",
			steps: []models.SequenceStep{
				{StepIndex: 0, Channel: models.ChannelEmail, DelayHours: 0,
					Subject: "Lesson 1 takes 10 minutes",
					Body:    "Hi {{firstName}}, you logged in but haven't opened a lesson yet. Lesson 1 is the shortest of the whole program."},
				{StepIndex: 1, Channel: models.ChannelChat, DelayHours: 24,
					Body: "Hey {{firstName}}, coach Sarah here. Most students tell me the hardest part was pressing play on lesson 1. Want to do it together today?"},
				{StepIndex: 2, Channel: models.ChannelEmail, DelayHours: 72,
					Subject: "A certificate with your name on it",
					Body:    "{{firstName}}, students who start in their first week are 3x more likely to finish. Your lessons are ready when you are."},
			},
		},
		{
			slug: SlugAbandoned,
			name: "Abandoned Course Recovery",
			steps: []models.SequenceStep{
				{StepIndex: 0, Channel: models.ChannelEmail, DelayHours: 0,
					Subject: "Pick up right where you left off",
					Body:    "Hi {{firstName}}, your progress is saved. The next lesson picks up exactly where you stopped."},
				{StepIndex: 1, Channel: models.ChannelSMS, DelayHours: 48,
					Body: "{{firstName}}, your course progress is saved and your next lesson is short. 15 minutes today gets you moving again."},
				{StepIndex: 2, Channel: models.ChannelEmail, DelayHours: 96,
					Subject: "Don't let your progress go to waste",
					Body:    "{{firstName}}, you already did the hard part by starting. Finish the next lesson this week and you're back on track for certification."},
			},
		},
	}
}

// EnsureDefaultSequences seeds the three recovery sequences and their step
// templates when absent. Existing sequences are left untouched, counters
// included, so the seeding is safe to run on every startup.
func EnsureDefaultSequences(st store.Store) error {
	for _, def := range defaultSequences() {
		existing, err := st.GetSequenceBySlug(def.slug)
		if err != nil {
			return fmt.Errorf("failed to look up sequence %s: %w", def.slug, err)
		}
		if existing != nil {
			slog.Debug("EnsureDefaultSequences: sequence already present", "slug", def.slug)
			continue
		}

		now := time.Now().UTC()
		seq := models.Sequence{
			ID:        util.GenerateSequenceID(),
			Slug:      def.slug,
			Name:      def.name,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.SaveSequence(seq); err != nil {
			return fmt.Errorf("failed to seed sequence %s: %w", def.slug, err)
		}

		for _, step := range def.steps {
			step.ID = uuid.NewString()
			step.SequenceID = seq.ID
			if err := st.SaveSequenceStep(step); err != nil {
				return fmt.Errorf("failed to seed step %d of sequence %s: %w", step.StepIndex, def.slug, err)
			}
		}
		slog.Info("EnsureDefaultSequences: seeded sequence", "slug", def.slug, "steps", len(def.steps))
	}
	return nil
}
