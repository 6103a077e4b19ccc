package messaging

import (
	"context"
	"testing"
)

func TestCanonicalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "+15551234567", false},
		{"15551234567", "+15551234567", false},
		{"+1 555 123-4567", "+15551234567", false},
		{"(555) 123-4567", "+5551234567", false},
		{"", "", true},
		{"   ", "", true},
		{"not-a-number", "", true},
		{"+0123", "", true},
	}
	for _, tc := range cases {
		got, err := CanonicalizePhoneNumber(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhoneNumber(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalizePhoneNumber(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanonicalizePhoneNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConsoleSender(t *testing.T) {
	s := NewConsoleSender("email")

	if _, err := s.ValidateAndCanonicalizeRecipient("  "); err == nil {
		t.Error("expected error for blank recipient")
	}
	got, err := s.ValidateAndCanonicalizeRecipient(" alex@example.com ")
	if err != nil || got != "alex@example.com" {
		t.Errorf("unexpected canonicalization: %q err=%v", got, err)
	}

	if err := s.SendMessage(context.Background(), "alex@example.com", "hello"); err != nil {
		t.Errorf("console send must not fail: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SendMessage(canceled, "alex@example.com", "hello"); err == nil {
		t.Error("expected error on canceled context")
	}
}

func TestNewTwilioSenderValidation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioSender(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}

	sender, err := NewTwilioSender(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sender.ValidateAndCanonicalizeRecipient("bogus"); err == nil {
		t.Error("Twilio sender must reject non-phone recipients")
	}
}
