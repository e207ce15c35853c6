// Package classifier turns raw agent stdout/stderr into a fixed error
// taxonomy and a per-task recovery decision. Every pattern group is
// evaluated; the highest-confidence group wins, ties broken by declaration
// order.
package classifier

import (
	"regexp"
)

// Pattern is the closed error taxonomy the classifier assigns.
type Pattern string

const (
	PatternAuthError      Pattern = "auth_error"
	PatternContentPolicy   Pattern = "content_policy"
	PatternPlanStuck       Pattern = "plan_stuck"
	PatternRateLimit       Pattern = "rate_limit"
	PatternTokenOverflow   Pattern = "token_overflow"
	PatternModelError      Pattern = "model_error"
	PatternRequestError    Pattern = "request_error"
	PatternAPIError        Pattern = "api_error"
	PatternSessionExpired  Pattern = "session_expired"
	PatternOOMKill         Pattern = "oom_kill"
	PatternOOM             Pattern = "oom"
	PatternCodexSandbox    Pattern = "codex_sandbox"
	PatternPushFailure     Pattern = "push_failure"
	PatternTestFailure     Pattern = "test_failure"
	PatternLintFailure     Pattern = "lint_failure"
	PatternBuildFailure    Pattern = "build_failure"
	PatternGitConflict     Pattern = "git_conflict"
	PatternPermissionWait  Pattern = "permission_wait"
	PatternEmptyResponse   Pattern = "empty_response"
	PatternUnknown         Pattern = "unknown"
)

// Severity is a coarse urgency tag attached to a classification.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the classifier's output for a single piece of raw output.
type Classification struct {
	Pattern    Pattern
	Confidence float64
	Details    string
	RawMatch   string
	Severity   Severity
}

type ruleGroup struct {
	pattern    Pattern
	severity   Severity
	baseConf   float64
	retryable  bool
	regexes    []*regexp.Regexp
}

// groups are declared in priority order: non-retryable patterns first so
// they win confidence ties.
var groups = []ruleGroup{
	{
		pattern: PatternAuthError, severity: SeverityHigh, baseConf: 0.9, retryable: false,
		regexes: compileAll(
			`(?i)401 unauthorized`, `(?i)invalid api key`, `(?i)authentication failed`,
			`(?i)invalid[_ ]?credentials`,
		),
	},
	{
		pattern: PatternContentPolicy, severity: SeverityHigh, baseConf: 0.9, retryable: false,
		regexes: compileAll(`(?i)content policy`, `(?i)safety system`, `(?i)content filter`),
	},
	{
		pattern: PatternModelError, severity: SeverityHigh, baseConf: 0.85, retryable: false,
		regexes: compileAll(`(?i)model not found`, `(?i)model[_ ]?overloaded`, `(?i)unsupported model`),
	},
	{
		pattern: PatternOOMKill, severity: SeverityCritical, baseConf: 0.95, retryable: false,
		regexes: compileAll(`(?i)oom[- _]?killed`, `(?i)killed.*signal 9`),
	},
	{
		pattern: PatternOOM, severity: SeverityHigh, baseConf: 0.85, retryable: true,
		regexes: compileAll(`(?i)out of memory`, `(?i)cannot allocate memory`),
	},
	{
		pattern: PatternCodexSandbox, severity: SeverityMedium, baseConf: 0.8, retryable: true,
		regexes: compileAll(`(?i)sandbox (violation|denied)`, `(?i)operation not permitted.*sandbox`),
	},
	{
		pattern: PatternTokenOverflow, severity: SeverityMedium, baseConf: 0.85, retryable: true,
		regexes: compileAll(`(?i)context length exceeded`, `(?i)token limit`, `(?i)maximum context`),
	},
	{
		pattern: PatternSessionExpired, severity: SeverityMedium, baseConf: 0.85, retryable: true,
		regexes: compileAll(`(?i)session expired`, `(?i)session not found`),
	},
	{
		pattern: PatternRateLimit, severity: SeverityMedium, baseConf: 0.85, retryable: true,
		regexes: compileAll(`(?i)rate limit`, `(?i)429 too many requests`, `(?i)quota exceeded`),
	},
	{
		pattern: PatternAPIError, severity: SeverityMedium, baseConf: 0.6, retryable: true,
		regexes: compileAll(`(?i)500 internal server error`, `(?i)502 bad gateway`, `(?i)503 service unavailable`),
	},
	{
		pattern: PatternRequestError, severity: SeverityLow, baseConf: 0.55, retryable: true,
		regexes: compileAll(`(?i)400 bad request`, `(?i)invalid request`, `(?i)malformed request`),
	},
	{
		pattern: PatternPushFailure, severity: SeverityMedium, baseConf: 0.8, retryable: true,
		regexes: compileAll(`(?i)failed to push`, `(?i)rejected.*non-fast-forward`, `(?i)push declined`),
	},
	{
		pattern: PatternGitConflict, severity: SeverityMedium, baseConf: 0.8, retryable: true,
		regexes: compileAll(`(?i)merge conflict`, `(?i)conflict.*resolve`, `(?i)CONFLICT \(`),
	},
	{
		pattern: PatternBuildFailure, severity: SeverityMedium, baseConf: 0.75, retryable: true,
		regexes: compileAll(`(?i)build failed`, `(?i)compilation error`, `(?i)cannot find package`),
	},
	{
		pattern: PatternTestFailure, severity: SeverityMedium, baseConf: 0.75, retryable: true,
		regexes: compileAll(`(?i)tests? failed`, `(?i)FAIL\b`, `(?i)assertion (failed|error)`),
	},
	{
		pattern: PatternLintFailure, severity: SeverityLow, baseConf: 0.7, retryable: true,
		regexes: compileAll(`(?i)lint(ing)? (failed|error)`, `(?i)eslint.*error`),
	},
	{
		pattern: PatternPermissionWait, severity: SeverityLow, baseConf: 0.7, retryable: true,
		regexes: compileAll(`(?i)permission denied`, `(?i)waiting for (your )?approval`),
	},
	{
		pattern: PatternPlanStuck, severity: SeverityLow, baseConf: 0.6, retryable: true,
		regexes: compileAll(`(?i)here'?s the plan`, `(?i)ready to begin`, `(?i)would you like me to implement`),
	},
	{
		pattern: PatternEmptyResponse, severity: SeverityLow, baseConf: 0.5, retryable: true,
		regexes: compileAll(`^\s*$`),
	},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// Classify inspects combined stdout+stderr and returns the best-matching
// classification. Pattern groups are tried in priority order; within a group,
// each additional matching regex boosts confidence by 0.05 (capped at 1.0).
// The highest-confidence group wins; ties are broken by group order (the
// earlier group — and therefore the non-retryable ones — wins).
func Classify(output string) Classification {
	bestIdx := -1
	bestConf := -1.0
	var bestMatch string

	for i, g := range groups {
		hits := 0
		var firstMatch string
		for _, re := range g.regexes {
			if loc := re.FindStringIndex(output); loc != nil {
				hits++
				if firstMatch == "" {
					firstMatch = output[loc[0]:loc[1]]
				}
			}
		}
		if hits == 0 {
			continue
		}
		conf := g.baseConf + 0.05*float64(hits-1)
		if conf > 1.0 {
			conf = 1.0
		}
		if conf > bestConf {
			bestConf = conf
			bestIdx = i
			bestMatch = firstMatch
		}
	}

	if bestIdx == -1 {
		return Classification{Pattern: PatternUnknown, Confidence: 0, Severity: SeverityLow}
	}

	g := groups[bestIdx]
	return Classification{
		Pattern:    g.pattern,
		Confidence: bestConf,
		RawMatch:   bestMatch,
		Severity:   g.severity,
		Details:    string(g.pattern) + " matched: " + bestMatch,
	}
}

func isRetryable(p Pattern) bool {
	for _, g := range groups {
		if g.pattern == p {
			return g.retryable
		}
	}
	return true
}
