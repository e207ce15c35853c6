package classifier

import "testing"

func TestClassifyMatchesExpectedPattern(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Pattern
	}{
		{"auth error", "error: 401 Unauthorized", PatternAuthError},
		{"rate limit", "429 Too Many Requests: quota exceeded", PatternRateLimit},
		{"oom kill", "Killed by signal 9 (oom-killed)", PatternOOMKill},
		{"merge conflict", "CONFLICT (content): merge conflict in main.go", PatternGitConflict},
		{"test failure", "3 tests failed, see log", PatternTestFailure},
		{"empty output", "", PatternEmptyResponse},
		{"no match", "all systems nominal, nothing to see here", PatternUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.output)
			if got.Pattern != tt.want {
				t.Errorf("Classify(%q).Pattern = %v, want %v", tt.output, got.Pattern, tt.want)
			}
		})
	}
}

func TestClassifyNonRetryableBeatsWeakerRetryableMatch(t *testing.T) {
	// "invalid api key" (auth_error, non-retryable, baseConf 0.9) should win
	// over a weaker retryable match elsewhere in the same blob.
	out := "invalid api key provided; 500 internal server error while retrying"
	got := Classify(out)
	if got.Pattern != PatternAuthError {
		t.Errorf("Classify() = %v, want %v (non-retryable group should win priority order)", got.Pattern, PatternAuthError)
	}
}

func TestClassifyConfidenceIncreasesWithMultipleHits(t *testing.T) {
	single := Classify("rate limit exceeded")
	double := Classify("rate limit exceeded, 429 too many requests")

	if double.Confidence <= single.Confidence {
		t.Errorf("expected confidence to increase with more matches: single=%v double=%v", single.Confidence, double.Confidence)
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(PatternAuthError) {
		t.Error("expected auth_error to be non-retryable")
	}
	if !isRetryable(PatternRateLimit) {
		t.Error("expected rate_limit to be retryable")
	}
	if !isRetryable(PatternUnknown) {
		t.Error("expected an unrecognized pattern to default to retryable")
	}
}
