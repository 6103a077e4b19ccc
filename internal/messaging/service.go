// Package messaging provides pluggable message delivery for CoachPipe.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Sender defines a pluggable message delivery abstraction.
type Sender interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each sender to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error
}

// phoneRegex matches E.164 phone numbers with an optional leading plus.
var phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// CanonicalizePhoneNumber validates a phone number and returns it in E.164
// format with a leading plus. Spaces and hyphens are stripped before checking.
func CanonicalizePhoneNumber(recipient string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(recipient))
	if cleaned == "" {
		return "", fmt.Errorf("recipient is empty")
	}
	if !phoneRegex.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned, nil
}

// ConsoleSender writes messages to the structured log instead of delivering
// them. It backs the email and chat channels in development and serves as
// the fallback when no SMS provider is configured.
type ConsoleSender struct {
	channel string
}

// NewConsoleSender creates a ConsoleSender labeled with the channel it stands in for.
func NewConsoleSender(channel string) *ConsoleSender {
	return &ConsoleSender{channel: channel}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient.
func (s *ConsoleSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient is empty")
	}
	return trimmed, nil
}

// SendMessage logs the message instead of sending it.
func (s *ConsoleSender) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("ConsoleSender.SendMessage: delivering to log", "channel", s.channel, "to", to, "body", body)
	return nil
}
