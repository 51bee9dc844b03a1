// Package sanitize cleans identifiers that flow into NATS subjects and
// validates ids received from outside.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxTokenLength bounds one subject token.
	MaxTokenLength = 64

	// hashSuffixLength is the length of "_<8-char-hash>".
	hashSuffixLength = 9

	// DefaultToken is used when sanitization produces an empty result.
	DefaultToken = "unknown"
)

// SubjectToken makes s safe to use as a single NATS subject token.
//
// Rules applied:
//   - Keeps ASCII letters, digits, '-' and '_'
//   - Replaces everything else, including '.', '*' and '>', with '_'
//   - Collapses repeated underscores and trims them from both ends
//   - Truncates to MaxTokenLength with a hash suffix if too long
//
// Examples:
//
//	"0190c8e2-7b1a-7c3e-9d3f-2a1b4c5d6e7f" -> unchanged
//	"ops.tasks"                            -> "ops_tasks"
//	"" or "*>"                             -> "unknown"
func SubjectToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	token := b.String()
	for strings.Contains(token, "__") {
		token = strings.ReplaceAll(token, "__", "_")
	}
	token = strings.Trim(token, "_")

	if token == "" {
		return DefaultToken
	}
	if len(token) > MaxTokenLength {
		token = truncateWithHash(token)
	}
	return token
}

// truncateWithHash shortens s to MaxTokenLength, keeping distinct inputs
// distinct through a hash suffix.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]
	truncated := strings.TrimRight(s[:MaxTokenLength-hashSuffixLength], "_")
	return truncated + suffix
}
