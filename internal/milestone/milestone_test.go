package milestone

import (
	"strings"
	"testing"
)

func TestGetMessageLessonKeying(t *testing.T) {
	// Lesson numbers only key lesson_complete lookups.
	if _, ok := GetMessage(TriggerLessonComplete, 5); !ok {
		t.Error("expected a bundle for lesson 5")
	}
	if _, ok := GetMessage(TriggerLessonComplete, 4); ok {
		t.Error("lesson 4 has no scripted bundle and must miss")
	}
	b, ok := GetMessage(TriggerExamPassed, 7)
	if !ok {
		t.Fatal("exam_passed must ignore the lesson number")
	}
	if b.Trigger != TriggerExamPassed {
		t.Errorf("unexpected bundle: %+v", b)
	}
	if _, ok := GetMessage(Trigger("unknown_event"), 0); ok {
		t.Error("unknown trigger must miss")
	}
}

func TestGetMessageAllScriptedTriggers(t *testing.T) {
	cases := []struct {
		trigger Trigger
		lesson  int
	}{
		{TriggerOptIn, 0},
		{TriggerLessonComplete, 1},
		{TriggerLessonComplete, 10},
		{TriggerNeverLoggedIn24h, 0},
		{TriggerStuckMidCourse, 0},
		{TriggerDeadline48h, 0},
	}
	for _, tc := range cases {
		b, ok := GetMessage(tc.trigger, tc.lesson)
		if !ok {
			t.Errorf("expected bundle for %s/%d", tc.trigger, tc.lesson)
			continue
		}
		if b.Coach == "" {
			t.Errorf("%s/%d: coach message must not be empty", tc.trigger, tc.lesson)
		}
	}
}

func TestRenderCoach(t *testing.T) {
	b, ok := GetMessage(TriggerLessonComplete, 5)
	if !ok {
		t.Fatal("expected bundle for lesson 5")
	}

	rendered := RenderCoach(b, "Priya")
	if strings.Contains(rendered, FirstNamePlaceholder) {
		t.Errorf("placeholder left unrendered: %q", rendered)
	}
	if !strings.Contains(rendered, "Priya") {
		t.Errorf("first name missing from rendered message: %q", rendered)
	}

	// Missing name falls back to a neutral greeting.
	fallback := RenderCoach(b, "")
	if strings.Contains(fallback, FirstNamePlaceholder) {
		t.Errorf("placeholder left unrendered: %q", fallback)
	}
	if !strings.Contains(fallback, CoachNameFallback) {
		t.Errorf("expected %q fallback in %q", CoachNameFallback, fallback)
	}
}

func TestRenderPeer(t *testing.T) {
	p := PeerMessage{
		PersonaName: "Megan",
		Delay:       "2min",
		Variants:    []string{"hey {{firstName}}, {{peerName}} here!"},
	}

	rendered := RenderPeer(p, "Alex")
	if rendered != "hey Alex, Megan here!" {
		t.Errorf("unexpected rendering: %q", rendered)
	}

	fallback := RenderPeer(p, "  ")
	if !strings.Contains(fallback, PeerNameFallback) {
		t.Errorf("peer messages fall back to %q, got %q", PeerNameFallback, fallback)
	}
}

func TestRenderPeerPicksAVariant(t *testing.T) {
	p := PeerMessage{
		PersonaName: "Dana",
		Variants:    []string{"congrats {{firstName}}", "nice one {{firstName}}"},
	}
	for i := 0; i < 10; i++ {
		got := RenderPeer(p, "Sam")
		if got != "congrats Sam" && got != "nice one Sam" {
			t.Fatalf("rendering outside the variant set: %q", got)
		}
	}
}
