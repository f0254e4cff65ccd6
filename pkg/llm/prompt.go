package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/infrallm/infrallm/pkg/mcp"
	"github.com/infrallm/infrallm/pkg/store"
)

const hostNoteExcerptLen = 400

const baseSystemPrompt = `You are InfraLLM, an assistant that operates a fleet of remote hosts over SSH under policy control.

You may run shell commands via the run_command tool and record operational knowledge via the update_host_note tool. Every command you propose is gated by a policy engine before it runs — if a command is denied, explain why to the user using the reason given, and do not retry the same denied command.

Only operate on hosts listed below. Never assume a host exists or guess at a hostname.`

// BuildSystemPrompt assembles the orchestrator's system prompt for one
// turn — spec.md §4.5 step 2: base template + per-user customization +
// host inventory/status/notes + effective policy summary + MCP catalog.
func BuildSystemPrompt(
	promptSettings *store.PromptSettings,
	hosts []*store.Host,
	hostNotes map[string]*store.HostNote,
	policySummary string,
	mcpTools []mcp.ToolDefinition,
) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)

	if promptSettings != nil && promptSettings.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(promptSettings.SystemPrompt)
	}
	if promptSettings != nil && promptSettings.PersonalizationPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(promptSettings.PersonalizationPrompt)
	}

	b.WriteString("\n\n## Hosts in scope\n")
	if len(hosts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, h := range hosts {
		b.WriteString(fmt.Sprintf("- %s (%s:%d) tags=%v env=%s status=%s",
			h.Hostname, h.Hostname, h.Port, h.Tags, h.Environment, h.Status))
		if note, ok := hostNotes[h.ID]; ok && note.Content != "" {
			b.WriteString(fmt.Sprintf("\n  note: %s", excerpt(note.Content, hostNoteExcerptLen)))
		}
		b.WriteString("\n")
	}

	if policySummary != "" {
		b.WriteString("\n## Policy summary\n")
		b.WriteString(policySummary)
		b.WriteString("\n")
	}

	if len(mcpTools) > 0 {
		b.WriteString("\n## Available MCP tools\n")
		for _, t := range mcpTools {
			b.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		}
	}

	return b.String()
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SummarizePolicies renders a short, human-readable description of the
// policies effectively assigned to userID, for inclusion in the system
// prompt.
func SummarizePolicies(assignments []*store.PolicyAssignment, policies map[string]*store.Policy) string {
	var lines []string
	for _, a := range assignments {
		p, ok := policies[a.PolicyID]
		if !ok || !p.IsEnabled {
			continue
		}
		scope := "global"
		if a.HostID != nil {
			scope = "host " + *a.HostID
		}
		approval := ""
		if p.RequireApproval {
			approval = " (requires approval)"
		}
		lines = append(lines, fmt.Sprintf("- %s [%s]%s: allow=%v deny=%v",
			p.Name, scope, approval, p.AllowedCommandPatterns, p.DeniedCommandPatterns))
	}
	if len(lines) == 0 {
		return "No policies are assigned; all commands will be denied."
	}
	return strings.Join(lines, "\n")
}

// staleness note: LastHealthCheck is rendered here so a caller building the
// host section can decide whether to flag a stale health check (spec.md §9
// host status never auto-clears).
func isStale(t *time.Time, within time.Duration) bool {
	return t == nil || time.Since(*t) > within
}
