// internal/security/scrubber.go
package security

import "regexp"

const redacted = "[REDACTED]"

var (
	// AWS access key IDs (long-term AKIA, temporary ASIA).
	accessKeyPattern = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	// key=value or key: value assignments of AWS secrets, env or JSON style.
	secretAssignPattern = regexp.MustCompile(`(?i)("?(?:aws_secret_access_key|aws_session_token|secretaccesskey|sessiontoken)"?\s*[=:]\s*)"?[^\s",]+"?`)
	bearerPattern       = regexp.MustCompile(`Bearer\s+\S{20,}`)
	// Long hex strings (32+ chars), likely API keys
	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

// ScrubOutput redacts credentials from action output before it is stored.
func ScrubOutput(output string) string {
	result := secretAssignPattern.ReplaceAllString(output, "${1}"+redacted)
	result = accessKeyPattern.ReplaceAllString(result, redacted)
	result = bearerPattern.ReplaceAllString(result, "Bearer "+redacted)
	result = hexKeyPattern.ReplaceAllString(result, redacted)
	return result
}
