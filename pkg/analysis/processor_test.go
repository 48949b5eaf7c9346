package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/estimates"
	"FilingRadar/pkg/llm"
	"FilingRadar/pkg/model"
)

const eightKBody = `UNITED STATES SECURITIES AND EXCHANGE COMMISSION
FORM 8-K
CURRENT REPORT
Item 5.02 Departure of Directors or Certain Officers; Election of Directors.
On March 1, 2024, the Board of Directors of Acme Corp appointed Jane Doe as Chief Financial Officer, effective March 31, 2024. Ms. Doe previously served as treasurer of the company for six years.
Item 9.01 Financial Statements and Exhibits.
(d) Exhibits. 99.1 Press release dated March 1, 2024 announcing the appointment of the new officer.
SIGNATURES
`

const tenQBody = `FORM 10-Q
QUARTERLY REPORT PURSUANT TO SECTION 13 OR 15(d)
For the quarterly period ended June 29, 2024
Total net sales were $85.8 billion for the third quarter, up 5% year over year, driven by services growth.
Net income: $21,448 million. Diluted earnings per share: $1.40.
Gross margin improved to 46.3% compared with 45.2% a year ago.
`

type fakeLLM struct {
	mu        sync.Mutex
	requests  []llm.Request
	narrative string
	feed      string
	tone      string
	qa        string
	fail      map[string]error
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	kind := "narrative"
	switch {
	case strings.Contains(req.User, "single compelling sentence"):
		kind = "feed"
	case strings.Contains(req.User, `{"tone"`):
		kind = "tone"
	case strings.Contains(req.User, `{"questions"`):
		kind = "qa"
	case strings.Contains(req.User, "financial highlights"):
		kind = "highlights"
	}
	if err := f.fail[kind]; err != nil {
		return "", err
	}
	switch kind {
	case "feed":
		return f.feed, nil
	case "tone":
		return f.tone, nil
	case "qa":
		return f.qa, nil
	case "highlights":
		return "- Revenue $85.8B", nil
	}
	return f.narrative, nil
}

func (f *fakeLLM) request(substr string) (llm.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if strings.Contains(r.User, substr) {
			return r, true
		}
	}
	return llm.Request{}, false
}

type fakeEstimates struct {
	est *estimates.Estimate
	err error
}

func (f *fakeEstimates) QuarterEstimates(context.Context, string, time.Time) (*estimates.Estimate, error) {
	return f.est, f.err
}

func filingDir(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "primary.txt"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newFake() *fakeLLM {
	return &fakeLLM{
		narrative: "Acme named a new **Chief Financial Officer** in a +[planned transition]. [!Continuity in finance leadership] with *six years* of tenure.",
		feed:      `"Acme appoints longtime treasurer Jane Doe as CFO effective March 31."`,
		tone:      "```json\n{\"tone\": \"CONFIDENT\", \"explanation\": \"Orderly internal succession.\"}\n```",
		qa:        `{"questions": [{"question": "Who is the new CFO?", "answer": "Jane Doe, the former treasurer."}]}`,
	}
}

func TestAnalyze8K(t *testing.T) {
	fake := newFake()
	p := NewProcessor(fake, nil, nil, Options{}, nil)
	f := &model.Filing{AccessionNumber: "0000000001-24-000001", FilingType: model.FilingType8K, Ticker: "ACME"}

	a, err := p.Analyze(context.Background(), f, &model.Company{Name: "Acme Corp"}, filingDir(t, eightKBody))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if a.EventType != "Departure of Directors or Certain Officers" {
		t.Errorf("EventType = %q", a.EventType)
	}
	if a.FeedSummary != "Acme appoints longtime treasurer Jane Doe as CFO effective March 31." {
		t.Errorf("FeedSummary = %q", a.FeedSummary)
	}
	if a.Tone != model.ToneConfident || a.ToneExplanation != "Orderly internal succession." {
		t.Errorf("tone = %s %q", a.Tone, a.ToneExplanation)
	}
	if len(a.Questions) != 1 || a.Questions[0].Question != "Who is the new CFO?" {
		t.Errorf("Questions = %+v", a.Questions)
	}
	if !containsAll(a.Tags, "#ExecutiveChange", "#CFOChange", "#8K") || len(a.Tags) > 4 {
		t.Errorf("Tags = %v", a.Tags)
	}
	if a.Markup.Concepts[0] != "Chief Financial Officer" || a.Markup.Insights[0] != "Continuity in finance leadership" {
		t.Errorf("Markup = %+v", a.Markup)
	}
	if a.Model != "fake-model" {
		t.Errorf("Model = %s", a.Model)
	}

	req, ok := fake.request("This filing appears to be about")
	if !ok {
		t.Fatal("narrative prompt did not include the event type")
	}
	if req.MaxTokens != 800 || req.System != systemPrompt {
		t.Errorf("narrative request = %+v", req)
	}
	if tr, _ := fake.request(`{"tone"`); !tr.JSON || tr.MaxTokens != 200 || tr.Temperature != 0.2 {
		t.Errorf("tone request = %+v", tr)
	}

	var filing model.Filing
	a.Apply(&filing)
	if filing.UnifiedAnalysis == "" || filing.EventType == "" || len(filing.ItemNumbers) == 0 || len(filing.KeyTags) == 0 {
		t.Errorf("Apply() left fields empty: %+v", filing)
	}
}

func TestAnalyze10QUsesEstimates(t *testing.T) {
	fake := newFake()
	fake.narrative = "Revenue of *$85.8 billion* beat expectations as **services** grew."
	est := &estimates.Estimate{
		EPSEstimate:     decimal.NewNullDecimal(decimal.RequireFromString("1.35")),
		EPSActual:       decimal.NewNullDecimal(decimal.RequireFromString("1.40")),
		RevenueEstimate: decimal.NewNullDecimal(decimal.NewFromInt(84_400_000_000)),
	}
	p := NewProcessor(fake, nil, &fakeEstimates{est: est}, Options{Estimates: true}, nil)
	f := &model.Filing{AccessionNumber: "0000320193-24-000081", FilingType: model.FilingType10Q, Ticker: "AAPL"}

	a, err := p.Analyze(context.Background(), f, nil, filingDir(t, tenQBody))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if _, ok := fake.request("Analyst consensus for this quarter: EPS $1.35, revenue $84.40 billion"); !ok {
		t.Error("narrative prompt missing analyst consensus")
	}
	if !strings.Contains(a.ExpectationsComparison, "beat by 3.70%") {
		t.Errorf("ExpectationsComparison = %q", a.ExpectationsComparison)
	}
	if a.FinancialHighlights != "" {
		t.Error("highlights should not be generated when estimates exist")
	}
	if !containsAll(a.Tags, "#BeatExpectations", "#10Q") {
		t.Errorf("Tags = %v", a.Tags)
	}
	if a.FinancialData["eps"] != "$1.40" {
		t.Errorf("FinancialData = %v", a.FinancialData)
	}
}

func TestAnalyzeEstimatesFailureIsTolerated(t *testing.T) {
	fake := newFake()
	p := NewProcessor(fake, nil, &fakeEstimates{err: errs.Transient("fmp", errors.New("timeout"))}, Options{Estimates: true}, nil)
	f := &model.Filing{AccessionNumber: "0000320193-24-000081", FilingType: model.FilingType10Q, Ticker: "AAPL"}

	a, err := p.Analyze(context.Background(), f, nil, filingDir(t, tenQBody))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.Estimates != nil || a.FinancialHighlights == "" {
		t.Errorf("expected highlights fallback, got %+v", a)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(*fakeLLM)
		want  errs.Kind
	}{
		{"insufficient content", "FORM 8-K\nItem 8.01 Other", nil, errs.KindContent},
		{"empty narrative", eightKBody, func(f *fakeLLM) { f.narrative = "" }, errs.KindTransient},
		{"narrative transport failure", eightKBody, func(f *fakeLLM) {
			f.fail = map[string]error{"narrative": errs.Transient("openai", errors.New("502"))}
		}, errs.KindTransient},
		{"quota on tone", eightKBody, func(f *fakeLLM) {
			f.fail = map[string]error{"tone": errs.Configuration("openai", errors.New("insufficient_quota"))}
		}, errs.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			if tt.setup != nil {
				tt.setup(fake)
			}
			p := NewProcessor(fake, nil, nil, Options{}, nil)
			f := &model.Filing{AccessionNumber: "0000000001-24-000001", FilingType: model.FilingType8K}
			_, err := p.Analyze(context.Background(), f, nil, filingDir(t, tt.body))
			if got := errs.KindOf(err); got != tt.want {
				t.Errorf("Analyze() error = %v, kind %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestSecondaryFailuresDegrade(t *testing.T) {
	fake := newFake()
	fake.fail = map[string]error{
		"feed": errs.Transient("openai", errors.New("timeout")),
		"tone": errs.Transient("openai", errors.New("timeout")),
		"qa":   errs.Transient("openai", errors.New("timeout")),
	}
	p := NewProcessor(fake, nil, nil, Options{}, nil)
	f := &model.Filing{AccessionNumber: "0000000001-24-000001", FilingType: model.FilingType8K}

	a, err := p.Analyze(context.Background(), f, nil, filingDir(t, eightKBody))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.Tone != model.ToneNeutral || len(a.Questions) != 0 {
		t.Errorf("tone = %s, questions = %v", a.Tone, a.Questions)
	}
	if a.FeedSummary == "" || strings.Contains(a.FeedSummary, "*") {
		t.Errorf("FeedSummary fallback = %q", a.FeedSummary)
	}
}

func TestParseTone(t *testing.T) {
	tests := []struct {
		raw  string
		want model.ManagementTone
	}{
		{`{"tone":"OPTIMISTIC","explanation":"x"}`, model.ToneOptimistic},
		{"```\n{\"tone\": \"cautious\", \"explanation\": \"x\"}\n```", model.ToneCautious},
		{`{"tone": "CONCERNED", "explanation": "trailing comma",}`, model.ToneConcerned},
		{`{"tone": "ECSTATIC", "explanation": "x"}`, model.ToneNeutral},
		{`not json at all`, model.ToneNeutral},
		{``, model.ToneNeutral},
	}
	for _, tt := range tests {
		if got, _ := ParseTone(tt.raw); got != tt.want {
			t.Errorf("ParseTone(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseQuestions(t *testing.T) {
	six := `[` + strings.Repeat(`{"question":"q","answer":"a"},`, 5) + `{"question":"q","answer":"a"}]`
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"array", `[{"question":"q1","answer":"a1"}]`, 1},
		{"wrapped", `{"questions":[{"question":"q1","answer":"a1"},{"question":"q2","answer":"a2"}]}`, 2},
		{"capped", six, 5},
		{"blank pairs dropped", `[{"question":"","answer":"a"},{"question":"q","answer":" "}]`, 0},
		{"garbage", `sorry`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseQuestions(tt.raw); len(got) != tt.want {
				t.Errorf("ParseQuestions() = %+v, want %d pairs", got, tt.want)
			}
		})
	}
}

func TestCapWithEllipsis(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := capWithEllipsis(long, feedSummaryChars)
	if utf8.RuneCountInString(got) > feedSummaryChars || !strings.HasSuffix(got, "...") {
		t.Errorf("capWithEllipsis() = %q (%d)", got, utf8.RuneCountInString(got))
	}
	if capWithEllipsis("short", feedSummaryChars) != "short" {
		t.Error("short text changed")
	}
}

func TestExtractFinancialData(t *testing.T) {
	text := "Total revenue: $12.5 billion\nNet income = 2,340 million\nDiluted EPS: $3.21\nTotal assets: $400"
	got := ExtractFinancialData(text)
	want := map[string]string{
		"revenue":      "$12500M",
		"net_income":   "$2340M",
		"eps":          "$3.21",
		"total_assets": "$400M",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["cash"]; ok {
		t.Error("unexpected cash metric")
	}
}

func TestEventTypeFallback(t *testing.T) {
	tests := map[string]string{
		"The CEO resigned":                     "Executive Changes",
		"announced a merger with Beta":         "Merger/Acquisition",
		"declared a quarterly dividend":        "Dividend Announcement",
		"priced senior notes due 2030":         "Debt Issuance",
		"updated its investor presentation":    "Corporate Event",
		"reported first quarter results today": "Earnings Results",
	}
	for in, want := range tests {
		if got := EventTypeFallback(in); got != want {
			t.Errorf("EventTypeFallback(%q) = %q, want %q", in, got, want)
		}
	}
}

func containsAll(tags []string, want ...string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func TestRenderHTML(t *testing.T) {
	got, err := RenderHTML("Revenue rose to *$94.9 billion* on **Services** strength.\n\n+[record margins] and -[weaker China sales]. [!Watch buybacks]\n\n<script>alert(1)</script>")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"<em>$94.9 billion</em>",
		"<strong>Services</strong>",
		`<span class="positive">record margins</span>`,
		`<span class="negative">weaker China sales</span>`,
		`<span class="insight">Watch buybacks</span>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderHTML() missing %q in %s", want, got)
		}
	}
	if strings.Contains(got, "<script>") {
		t.Error("raw html was not escaped")
	}
}
