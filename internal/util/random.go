// Package util provides utility functions for the CoachPipe application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these IDs are identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateUserID generates a unique user ID with "usr_" prefix.
func GenerateUserID() string {
	return GenerateRandomID("usr_", 32)
}

// GenerateSequenceID generates a unique sequence ID with "seq_" prefix.
func GenerateSequenceID() string {
	return GenerateRandomID("seq_", 32)
}

// PickVariant selects one entry from a non-empty list of interchangeable
// message variants. Returns the empty string for an empty list.
func PickVariant(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[rand.IntN(len(variants))]
}
