package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ProcessingStatus
		want     bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusDownloading, StatusParsing, true},
		{StatusParsing, StatusAIProcessing, true},
		{StatusAIProcessing, StatusCompleted, true},
		{StatusDownloading, StatusFailed, true},
		{StatusParsing, StatusFailed, true},
		{StatusAIProcessing, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusDownloading, true},
		{StatusCompleted, StatusPending, true},

		{StatusPending, StatusCompleted, false},
		{StatusAIProcessing, StatusParsing, false},
		{StatusCompleted, StatusAIProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusParsing, StatusPending, false},
		{StatusSkipped, StatusDownloading, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// 正常路径中除了显式重置外，状态序号只能递增
func TestTransitionsAreMonotonic(t *testing.T) {
	for from, nexts := range transitions {
		for _, to := range nexts {
			if to == StatusFailed || to == StatusSkipped || from == StatusFailed {
				continue
			}
			if to == StatusPending {
				continue // 显式重置
			}
			if from == StatusParsing && to == StatusDownloading {
				continue // 重新下载
			}
			if to.Stage() <= from.Stage() {
				t.Errorf("transition %s -> %s rewinds the pipeline", from, to)
			}
		}
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	if err := ValidateTransition("bogus", StatusPending); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestShouldReprocess(t *testing.T) {
	tests := []struct {
		name string
		f    Filing
		want bool
	}{
		{"transient first try", Filing{Status: StatusFailed, RetryCount: 1, Retryable: true}, true},
		{"transient exhausted", Filing{Status: StatusFailed, RetryCount: 3, Retryable: true}, false},
		{"configuration error", Filing{Status: StatusFailed, RetryCount: 1, ErrorKind: "configuration"}, false},
		{"validation error", Filing{Status: StatusFailed, RetryCount: 1, ErrorKind: "validation"}, false},
		{"needs review", Filing{Status: StatusFailed, RetryCount: 1, Retryable: true, NeedsReview: true}, false},
		{"completed", Filing{Status: StatusCompleted}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.ShouldReprocess(); got != tt.want {
				t.Errorf("ShouldReprocess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFilingTypeAndTicker(t *testing.T) {
	cases := map[string]FilingType{
		"10-K":    FilingType10K,
		"10-K/A":  FilingType10K,
		"8-K":     FilingType8K,
		"8-K/A":   FilingType8K,
		"S-1":     FilingTypeS1,
		"S-1/A":   FilingTypeS1A,
		"DEF 14A": FilingTypeDEF14A,
		"4":       FilingTypeOther,
		"":        FilingTypeUnknown,
	}
	for in, want := range cases {
		if got := ParseFilingType(in); got != want {
			t.Errorf("ParseFilingType(%q) = %q, want %q", in, got, want)
		}
	}

	c := Company{CIK: "0001234567"}
	if got := c.DisplayTicker(); got != "IPO-4567" {
		t.Errorf("DisplayTicker() = %q", got)
	}
	tk := "AAPL"
	c.Ticker = &tk
	if got := c.DisplayTicker(); got != "AAPL" {
		t.Errorf("DisplayTicker() = %q", got)
	}

	if !IsPlaceholderCIK("0000000000") || !IsPlaceholderCIK("N12345") || IsPlaceholderCIK("0000320193") {
		t.Error("IsPlaceholderCIK mismatch")
	}
	if ParseTone("very_optimistic") != ToneOptimistic || ParseTone("whatever") != ToneNeutral {
		t.Error("ParseTone mismatch")
	}
}
