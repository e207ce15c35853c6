// Package trustgate is the security boundary deciding whether an externally
// authored kanban item may enter the execution pipeline. Evaluate runs an
// ordered sequence of checks; the first disqualifying check wins.
package trustgate

import (
	"regexp"
	"strings"
)

// Action is the trust gate's decision outcome.
type Action string

const (
	ActionReject       Action = "reject"
	ActionQuarantine   Action = "quarantine"
	ActionIngestTodo   Action = "ingest_todo"
	ActionIngestBacklog Action = "ingest_backlog"
)

// Config holds the trust gate's tunables.
type Config struct {
	IngestionEnabled      bool
	RequireTrustedCreator bool
	TrustedUsers          []string
	InjectionPatterns     []*regexp.Regexp
	NewExternalTaskStatus string // "backlog" or "todo"
	PostRejectionComment  bool
}

// DefaultInjectionPatterns returns the built-in prompt-injection detectors;
// callers append any user-supplied patterns to this set.
func DefaultInjectionPatterns() []*regexp.Regexp {
	exprs := []string{
		`(?i)ignore (all )?previous instructions`,
		`(?i)disregard (the )?(system|above) prompt`,
		`(?i)you are now`,
		`(?i)new instructions:`,
		`(?i)reveal your (system prompt|instructions)`,
		`(?i)act as (if you are|a) (an? )?unrestricted`,
	}
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// NewConfig builds a Config with the given trusted repo owner always folded
// into TrustedUsers.
func NewConfig(ingestionEnabled, requireTrustedCreator bool, trustedUsers []string, repoOwner string, extraPatterns []*regexp.Regexp, newExternalTaskStatus string, postRejectionComment bool) Config {
	users := append([]string{}, trustedUsers...)
	if repoOwner != "" {
		users = append(users, repoOwner)
	}
	patterns := append(DefaultInjectionPatterns(), extraPatterns...)
	if newExternalTaskStatus != "todo" {
		newExternalTaskStatus = "backlog"
	}
	return Config{
		IngestionEnabled:      ingestionEnabled,
		RequireTrustedCreator: requireTrustedCreator,
		TrustedUsers:          users,
		InjectionPatterns:     patterns,
		NewExternalTaskStatus: newExternalTaskStatus,
		PostRejectionComment:  postRejectionComment,
	}
}

// Item is an incoming kanban item under evaluation.
type Item struct {
	Creator string
	Title   string
	Body    string
}

// Decision is the trust gate's verdict.
type Decision struct {
	Trusted       bool
	Reason        string
	Action        Action
	InjectionRisk bool
	Excerpts      []string
}

// Evaluate runs the ordered decision steps: ingestion must be enabled, the
// item must carry a creator, trust and injection checks follow, first
// disqualifying check wins.
func (c Config) Evaluate(item Item) Decision {
	if !c.IngestionEnabled {
		return Decision{Trusted: false, Reason: "ingestion_disabled", Action: ActionReject}
	}
	if strings.TrimSpace(item.Creator) == "" {
		return Decision{Trusted: false, Reason: "untrusted_creator", Action: ActionReject}
	}
	if c.RequireTrustedCreator && !contains(c.TrustedUsers, item.Creator) {
		return Decision{Trusted: false, Reason: "untrusted_creator", Action: ActionQuarantine}
	}

	combined := item.Title + "\n" + item.Body
	var excerpts []string
	for _, re := range c.InjectionPatterns {
		if m := re.FindString(combined); m != "" {
			excerpts = append(excerpts, redactExcerpt(m))
			if len(excerpts) == 3 {
				break
			}
		}
	}
	if len(excerpts) > 0 {
		return Decision{
			Trusted:       false,
			Reason:        "injection_detected",
			Action:        ActionQuarantine,
			InjectionRisk: true,
			Excerpts:      excerpts,
		}
	}

	if c.NewExternalTaskStatus == "todo" {
		return Decision{Trusted: true, Reason: "trusted", Action: ActionIngestTodo}
	}
	return Decision{Trusted: true, Reason: "trusted", Action: ActionIngestBacklog}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func redactExcerpt(s string) string {
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

var (
	zeroWidthRe = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{202A}-\x{202E}]`)
	secretRe    = regexp.MustCompile(`(?i)(ghp_[A-Za-z0-9]+|sk-[A-Za-z0-9]+|[A-Z0-9_]*API_KEY\s*=\s*\S+)`)
)

// Sanitize strips zero-width/directional-override characters and redacts
// obvious secret patterns before content reaches an agent. Applying it twice
// is a fixed point.
func Sanitize(s string) string {
	s = zeroWidthRe.ReplaceAllString(s, "")
	s = secretRe.ReplaceAllString(s, "[REDACTED]")
	return s
}
