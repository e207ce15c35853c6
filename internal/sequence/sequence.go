// Package sequence implements the session-sequence analyzer: behavioural
// detection over a whole session's message sequence, looking for patterns
// invisible to single-event classification. Messages reduce to the three
// kinds the analysis cares about (tool_call, agent_message, error).
package sequence

import (
	"regexp"
	"strings"
)

// MessageType is the closed set of message kinds the analyzer looks at.
type MessageType string

const (
	MessageToolCall     MessageType = "tool_call"
	MessageAgentMessage MessageType = "agent_message"
	MessageError        MessageType = "error"
)

// Message is one entry in a session's ordered message sequence.
type Message struct {
	Type    MessageType
	Content string
	ToolName string
}

// Pattern is a detected behavioural anomaly.
type Pattern string

const (
	PatternToolLoop           Pattern = "tool_loop"
	PatternAnalysisParalysis  Pattern = "analysis_paralysis"
	PatternPlanStuck          Pattern = "plan_stuck"
	PatternNeedsClarification Pattern = "needs_clarification"
	PatternFalseCompletion    Pattern = "false_completion"
	PatternCommitsNoPush      Pattern = "commits_no_push"
	PatternPermissionWait     Pattern = "permission_wait"
	PatternNoProgress         Pattern = "no_progress"
	PatternErrorLoop          Pattern = "error_loop"
	PatternRateLimited        Pattern = "rate_limited"
)

// Result is the analyzer's output for one session.
type Result struct {
	Patterns []Pattern
	Primary  Pattern
	Details  map[Pattern]string
}

// priority is the order in which the primary pattern is selected; the first
// detected pattern in this list wins.
var priority = []Pattern{
	PatternRateLimited,
	PatternPlanStuck,
	PatternFalseCompletion,
	PatternCommitsNoPush,
	PatternPermissionWait,
	PatternErrorLoop,
	PatternNeedsClarification,
	PatternToolLoop,
	PatternAnalysisParalysis,
	PatternNoProgress,
}

var (
	readLikeRe         = regexp.MustCompile(`(?i)^(read|search|grep|list|find|cat)`)
	writeLikeRe        = regexp.MustCompile(`(?i)^(write|edit|create|replace|patch|append)`)
	planPhraseRe       = regexp.MustCompile(`(?i)here'?s the plan|plan\.md|ready to begin|would you like me to implement`)
	clarificationRe    = regexp.MustCompile(`(?i)need clarification|which approach|please specify`)
	completionPhraseRe = regexp.MustCompile(`(?i)task complete|pushed to|pr created`)
	permissionPhraseRe = regexp.MustCompile(`(?i)should i proceed|waiting for your`)
	rateLimitRe        = regexp.MustCompile(`(?i)rate limit|429 too many requests`)
	gitCommitRe        = regexp.MustCompile(`(?i)git commit`)
	gitPushRe          = regexp.MustCompile(`(?i)git push`)
)

// Analyze inspects an ordered message sequence and returns every detected
// pattern plus the primary one per the priority list.
func Analyze(messages []Message) Result {
	res := Result{Details: make(map[Pattern]string)}

	toolCalls := filterType(messages, MessageToolCall)
	errors := filterType(messages, MessageError)
	agentMessages := filterType(messages, MessageAgentMessage)
	aggregateText := joinContent(agentMessages)

	detected := make(map[Pattern]bool)

	// tool_loop: >= 5 tool calls and among the last 5 distinct tools <= 2.
	if len(toolCalls) >= 5 {
		last5 := toolCalls[len(toolCalls)-5:]
		distinct := map[string]bool{}
		for _, m := range last5 {
			distinct[m.ToolName] = true
		}
		if len(distinct) <= 2 {
			detected[PatternToolLoop] = true
			res.Details[PatternToolLoop] = "repeating a small set of tools over the last 5 calls"
		}
	}

	// analysis_paralysis: >= 10 tool calls, >= 8 read-like, 0 write-like.
	if len(toolCalls) >= 10 {
		readCount, writeCount := 0, 0
		for _, m := range toolCalls {
			if readLikeRe.MatchString(m.ToolName) {
				readCount++
			}
			if writeLikeRe.MatchString(m.ToolName) {
				writeCount++
			}
		}
		if readCount >= 8 && writeCount == 0 {
			detected[PatternAnalysisParalysis] = true
			res.Details[PatternAnalysisParalysis] = "many read-like calls with no write activity"
		}
	}

	writeLikeCount := 0
	for _, m := range toolCalls {
		if writeLikeRe.MatchString(m.ToolName) {
			writeLikeCount++
		}
	}

	// plan_stuck: plan phrase present AND <= 1 write-like call.
	if planPhraseRe.MatchString(aggregateText) && writeLikeCount <= 1 {
		detected[PatternPlanStuck] = true
		res.Details[PatternPlanStuck] = "agent described a plan but has not started implementing it"
	}

	// needs_clarification
	if clarificationRe.MatchString(aggregateText) {
		detected[PatternNeedsClarification] = true
		res.Details[PatternNeedsClarification] = "agent is asking for clarification"
	}

	// false_completion: completion phrase present AND no tool call content
	// contains git commit/push.
	hasGitActivity := false
	for _, m := range toolCalls {
		if gitCommitRe.MatchString(m.Content) || gitPushRe.MatchString(m.Content) {
			hasGitActivity = true
			break
		}
	}
	if completionPhraseRe.MatchString(aggregateText) && !hasGitActivity {
		detected[PatternFalseCompletion] = true
		res.Details[PatternFalseCompletion] = "agent claims completion but made no git commit or push"
	}

	// commits_no_push: a git commit tool call exists, no git push, and
	// completion is claimed.
	hasCommit, hasPush := false, false
	for _, m := range toolCalls {
		if gitCommitRe.MatchString(m.Content) {
			hasCommit = true
		}
		if gitPushRe.MatchString(m.Content) {
			hasPush = true
		}
	}
	if hasCommit && !hasPush && completionPhraseRe.MatchString(aggregateText) {
		detected[PatternCommitsNoPush] = true
		res.Details[PatternCommitsNoPush] = "agent committed but never pushed, yet claims completion"
	}

	// permission_wait: last agent message contains a permission phrase.
	if len(agentMessages) > 0 && permissionPhraseRe.MatchString(agentMessages[len(agentMessages)-1].Content) {
		detected[PatternPermissionWait] = true
		res.Details[PatternPermissionWait] = "agent is waiting on explicit permission to proceed"
	}

	// no_progress: total messages >= 5, no tool calls, <= 1 agent message.
	if len(messages) >= 5 && len(toolCalls) == 0 && len(agentMessages) <= 1 {
		detected[PatternNoProgress] = true
		res.Details[PatternNoProgress] = "session has accumulated messages with no tool activity"
	}

	// error_loop: >= 3 errors and last 3 error contents (truncated to 100
	// chars) identical.
	if len(errors) >= 3 {
		last3 := errors[len(errors)-3:]
		t0 := truncate(last3[0].Content, 100)
		identical := true
		for _, e := range last3[1:] {
			if truncate(e.Content, 100) != t0 {
				identical = false
				break
			}
		}
		if identical {
			detected[PatternErrorLoop] = true
			res.Details[PatternErrorLoop] = "the same error content recurred three times in a row"
		}
	}

	// rate_limited: >= 2 error messages matching rate-limit regex.
	rateLimitHits := 0
	for _, e := range errors {
		if rateLimitRe.MatchString(e.Content) {
			rateLimitHits++
		}
	}
	if rateLimitHits >= 2 {
		detected[PatternRateLimited] = true
		res.Details[PatternRateLimited] = "repeated rate-limit errors observed"
	}

	for _, p := range priority {
		if detected[p] {
			res.Patterns = append(res.Patterns, p)
		}
	}
	if len(res.Patterns) > 0 {
		res.Primary = res.Patterns[0]
	}
	return res
}

func filterType(messages []Message, t MessageType) []Message {
	var out []Message
	for _, m := range messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func joinContent(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// InterventionPrompt returns the targeted intervention prompt for a primary
// pattern.
func InterventionPrompt(p Pattern) string {
	switch p {
	case PatternRateLimited:
		return "You are hitting rate limits repeatedly. Pause and wait before retrying the same request."
	case PatternPlanStuck:
		return "Stop describing the plan. Start implementing it now, one concrete change at a time."
	case PatternFalseCompletion:
		return "You claimed the task is complete, but no commit or push was made. Finish the actual changes before reporting completion."
	case PatternCommitsNoPush:
		return "You committed your changes locally but never pushed. Push the branch now."
	case PatternPermissionWait:
		return "You do not need explicit permission to proceed with routine implementation steps. Continue the task."
	case PatternErrorLoop:
		return "The same error keeps recurring. Change your approach instead of repeating the failing action."
	case PatternNeedsClarification:
		return "State your best assumption explicitly and proceed, rather than waiting for clarification."
	case PatternToolLoop:
		return "You are repeating the same small set of tool calls. Try a different tool or approach."
	case PatternAnalysisParalysis:
		return "You have spent a long time reading without making any changes. Start writing the implementation."
	case PatternNoProgress:
		return "No tool activity has been observed. Take a concrete action toward completing the task."
	default:
		return ""
	}
}
