package executor

import (
	"regexp"
	"strings"
)

// redactionPattern is a pre-compiled regex-and-replacement pair, grounded on
// the teacher's pkg/masking/pattern.go CompiledPattern shape.
type redactionPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinRedactionSpecs is a reduced version of the teacher's
// pkg/masking builtin pattern library (pkg/config/builtin.go's
// initBuiltinMaskingPatterns): InfraLLM's redaction surface is narrower
// than the teacher's MCP-result masking (command stdout/stderr and MCP
// tool-call results only, see DESIGN.md), so the long tail of
// kubernetes-secret/code-masker machinery is dropped and only the
// generic secret-shaped patterns are kept.
var builtinRedactionSpecs = []redactionPattern{
	{
		name:        "api_key",
		regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
		replacement: `api_key: [MASKED_API_KEY]`,
	},
	{
		name:        "password",
		regex:       regexp.MustCompile(`(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`),
		replacement: `password: [MASKED_PASSWORD]`,
	},
	{
		name:        "pem_block",
		regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
		replacement: `[MASKED_CERTIFICATE]`,
	},
	{
		name:        "bearer_token",
		regex:       regexp.MustCompile(`(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`),
		replacement: `token: [MASKED_TOKEN]`,
	},
	{
		name:        "ssh_public_key",
		regex:       regexp.MustCompile(`ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
		replacement: `[MASKED_SSH_KEY]`,
	},
	{
		name:        "aws_access_key_id",
		regex:       regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
		replacement: `[MASKED_AWS_KEY]`,
	},
	{
		name:        "aws_secret_access_key",
		regex:       regexp.MustCompile(`(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
		replacement: `aws_secret_access_key: [MASKED_AWS_SECRET]`,
	},
	{
		name:        "github_token",
		regex:       regexp.MustCompile(`(?i)gh[ps]_[A-Za-z0-9_]{36,255}`),
		replacement: `[MASKED_GITHUB_TOKEN]`,
	},
	{
		name:        "slack_token",
		regex:       regexp.MustCompile(`(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`),
		replacement: `[MASKED_SLACK_TOKEN]`,
	},
}

// redactor applies the builtin pattern set plus, when known, the literal
// decrypted secret for the host credential in play, to command output
// before it is persisted or forwarded to subscribers — SPEC_FULL.md §4.4:
// "a command that echoes back a decrypted credential doesn't leak it into
// the audit trail."
type redactor struct {
	patterns []redactionPattern
}

func newRedactor() *redactor {
	return &redactor{patterns: builtinRedactionSpecs}
}

// apply runs s through every builtin pattern, then masks any literal
// occurrence of secret (the credential plaintext used to reach this host),
// if secret is non-empty. secret is matched literally, not as a regex,
// since credential material may itself contain regex metacharacters.
func (r *redactor) apply(s, secret string) string {
	out := s
	for _, p := range r.patterns {
		out = p.regex.ReplaceAllString(out, p.replacement)
	}
	if secret != "" {
		out = strings.ReplaceAll(out, secret, "[MASKED_CREDENTIAL]")
	}
	return out
}
