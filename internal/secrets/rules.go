package secrets

// DefaultRules returns rules for credentials commonly pasted into chat.
// Prefixed token formats are self-identifying and need no keywords.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "slack-token",
			Description: "Slack API token",
			Pattern:     `xox[abposr]-[0-9A-Za-z-]{10,}`,
		},
		{
			ID:          "slack-webhook",
			Description: "Slack incoming webhook URL",
			Pattern:     `https://hooks\.slack\.com/services/[A-Za-z0-9+/]{20,}`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
		},
		{
			ID:          "bearer-token",
			Description: "HTTP bearer token",
			Pattern:     `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "connection-string-password",
			Description: "Password embedded in a connection URL",
			Pattern:     `[a-z][a-z0-9+.-]*://[^:/\s]+:[^@\s]+@`,
			Keywords:    []string{"://"},
		},
		{
			ID:          "generic-secret",
			Description: "Assigned password, secret or api key",
			Pattern:     `(?i)\b(?:password|passwd|pwd|secret|api[_-]?key|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"password", "passwd", "pwd", "secret", "key", "token"},
		},
	}
}
