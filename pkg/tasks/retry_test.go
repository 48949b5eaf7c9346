package tasks

import (
	"errors"
	"testing"
	"time"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

func TestRetryPolicyDecide(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Base: time.Minute}
	transient := errs.Transient("sec请求", errors.New("503"))

	tests := []struct {
		name       string
		err        error
		attempt    int
		wantRetry  bool
		wantDelay  time.Duration
		wantReview bool
	}{
		{"first transient", transient, 0, true, time.Minute, false},
		{"second transient", transient, 1, true, 2 * time.Minute, false},
		{"third transient", transient, 2, true, 4 * time.Minute, false},
		{"exhausted", transient, 3, false, 0, false},
		{"unclassified is transient", errors.New("connection reset"), 0, true, time.Minute, false},
		{"configuration", errs.Configuration("openai", errors.New("invalid api key")), 0, false, 0, false},
		{"validation", errs.Validation("accession_number", "格式错误"), 0, false, 0, false},
		{"content", errs.Content("iXBRL viewer", nil), 0, false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Decide(tt.err, tt.attempt)
			if d.Retry != tt.wantRetry || d.Delay != tt.wantDelay || d.NeedsReview != tt.wantReview {
				t.Errorf("Decide() = %+v, want retry=%v delay=%v review=%v", d, tt.wantRetry, tt.wantDelay, tt.wantReview)
			}
		})
	}
}

func TestRetryPolicyDelayDoubles(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Base: 30 * time.Second}
	want := 30 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		if got := policy.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
		want *= 2
	}
}

func TestValidate(t *testing.T) {
	valid := func() *model.Filing {
		return &model.Filing{
			AccessionNumber: "0000320193-24-000123",
			CompanyID:       "c1",
			FilingType:      model.FilingType10K,
			FilingDate:      time.Now().Add(-48 * time.Hour),
		}
	}
	tests := []struct {
		name      string
		mutate    func(*model.Filing)
		wantField string
	}{
		{"valid", func(*model.Filing) {}, ""},
		{"bad accession", func(f *model.Filing) { f.AccessionNumber = "320193-24-123" }, "AccessionNumber"},
		{"missing company", func(f *model.Filing) { f.CompanyID = "" }, "CompanyID"},
		{"unknown type", func(f *model.Filing) { f.FilingType = model.FilingTypeUnknown }, "FilingType"},
		{"future date", func(f *model.Filing) { f.FilingDate = time.Now().Add(72 * time.Hour) }, "FilingDate"},
		{"zero date", func(f *model.Filing) { f.FilingDate = time.Time{} }, "FilingDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(f)
			err := Validate(f)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var ve *errs.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("Validate() = %v, want field %s", err, tt.wantField)
			}
		})
	}
}
