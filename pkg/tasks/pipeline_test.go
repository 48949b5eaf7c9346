package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FilingRadar/pkg/analysis"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/downloader"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/extractor"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

const eightK = `FORM 8-K
CURRENT REPORT
Item 5.02 Departure of Directors or Certain Officers; Election of Directors.
On March 1, 2024, the Board of Directors of Acme Corp appointed Jane Doe as Chief Financial Officer, effective March 31, 2024. Ms. Doe previously served as treasurer of the company for six years.
Item 9.01 Financial Statements and Exhibits.
SIGNATURES
`

type published struct {
	subject string
	data    []byte
}

// memQueue 按MsgID合并重复消息，与JetStream去重窗口内的行为一致
type memQueue struct {
	mu   sync.Mutex
	msgs []published
	seen map[string]bool
	err  error
}

func (q *memQueue) Publish(_ context.Context, subject string, v any) error {
	if q.err != nil {
		return q.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if d, ok := v.(messaging.Deduplicated); ok && d.MsgID() != "" {
		if q.seen[d.MsgID()] {
			return nil
		}
		if q.seen == nil {
			q.seen = make(map[string]bool)
		}
		q.seen[d.MsgID()] = true
	}
	q.msgs = append(q.msgs, published{subject, b})
	return nil
}

func (q *memQueue) processTasks(t *testing.T) []messaging.ProcessTask {
	t.Helper()
	var out []messaging.ProcessTask
	for _, m := range q.msgs {
		if m.subject != messaging.SubjectProcess {
			continue
		}
		var task messaging.ProcessTask
		if err := json.Unmarshal(m.data, &task); err != nil {
			t.Fatal(err)
		}
		out = append(out, task)
	}
	return out
}

func (q *memQueue) notifyTypes(t *testing.T) []model.NotificationType {
	t.Helper()
	var out []model.NotificationType
	for _, m := range q.msgs {
		if m.subject != messaging.SubjectNotify {
			continue
		}
		var task messaging.NotifyTask
		if err := json.Unmarshal(m.data, &task); err != nil {
			t.Fatal(err)
		}
		out = append(out, task.Type)
	}
	return out
}

type fakeDownloader struct {
	root  string
	body  string
	err   error
	calls int
}

func (d *fakeDownloader) Download(_ context.Context, cik, accession string, _ model.FilingType) (*downloader.Result, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	dir := filepath.Join(d.root, cik, accession)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "primary.txt")
	if err := os.WriteFile(path, []byte(d.body), 0o644); err != nil {
		return nil, err
	}
	return &downloader.Result{
		Dir:         dir,
		IndexURL:    "https://www.sec.gov/Archives/edgar/data/1/index.htm",
		Primary:     downloader.Document{Name: "primary.txt", URL: "https://www.sec.gov/Archives/edgar/data/1/primary.txt"},
		PrimaryPath: path,
	}, nil
}

type fakeAnalyzer struct {
	err error
}

func (a *fakeAnalyzer) AnalyzeExtracted(_ context.Context, _ *model.Filing, _ *model.Company, res *extractor.Result) (*analysis.Analysis, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &analysis.Analysis{
		Narrative:   "Acme named a new **Chief Financial Officer**.",
		FeedSummary: "Acme names a new CFO.",
		Tone:        model.ToneConfident,
		Tags:        []string{"#ExecutiveChange", "#8K"},
		Questions:   []model.QAPair{},
		EventType:   "Departure of Directors or Certain Officers",
		Model:       "fake",
	}, nil
}

type countingCache struct {
	invalidated []string
}

func (c *countingCache) InvalidateFiling(_ context.Context, f *model.Filing) error {
	c.invalidated = append(c.invalidated, f.ID)
	return nil
}

type fixture struct {
	db       *database.DB
	pipeline *Pipeline
	dl       *fakeDownloader
	analyzer *fakeAnalyzer
	queue    *memQueue
	cache    *countingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	fx := &fixture{
		db:       db,
		dl:       &fakeDownloader{root: t.TempDir(), body: eightK},
		analyzer: &fakeAnalyzer{},
		queue:    &memQueue{},
		cache:    &countingCache{},
	}
	fx.pipeline = NewPipeline(db, fx.dl, nil, fx.analyzer, fx.cache, fx.queue, Options{
		MaxRetries:   3,
		RetryBase:    time.Minute,
		SoftTimeout:  time.Minute,
		ClaimTTL:     time.Hour,
		AIProcessing: true,
	}, nil)
	fx.pipeline.refetchInterval = time.Millisecond
	return fx
}

func (fx *fixture) seed(t *testing.T, accession string, mutate func(*model.Filing)) *model.Filing {
	t.Helper()
	ctx := context.Background()
	company, err := fx.db.Company().GetByCIK(ctx, "0000000042")
	if err != nil {
		ticker := "ACME"
		company = &model.Company{CIK: "0000000042", Name: "Acme Corp", Ticker: &ticker, IsSP500: true, IsActive: true}
		if err := fx.db.Company().Create(ctx, company); err != nil {
			t.Fatal(err)
		}
	}
	f := &model.Filing{
		CompanyID:       company.ID,
		AccessionNumber: accession,
		FilingType:      model.FilingType8K,
		FormType:        "8-K",
		FilingDate:      time.Now().Add(-time.Hour),
		Ticker:          "ACME",
	}
	if mutate != nil {
		mutate(f)
	}
	if _, err := fx.db.Filing().CreateIfAbsent(ctx, f); err != nil {
		t.Fatal(err)
	}
	return f
}

func (fx *fixture) reload(t *testing.T, id string) *model.Filing {
	t.Helper()
	f, err := fx.db.Filing().GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestProcessFilingCompletes(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000001", nil)

	out := fx.pipeline.ProcessFiling(context.Background(), f.ID, 0)
	if out.Kind != OutcomeCompleted {
		t.Fatalf("ProcessFiling() = %+v", out)
	}

	got := fx.reload(t, f.ID)
	if got.Status != model.StatusCompleted || !got.IsCompleted() {
		t.Errorf("status = %s, analysis = %q", got.Status, got.UnifiedAnalysis)
	}
	if got.ProcessedAt == nil || got.DownloadedAt == nil || got.ParsedAt == nil {
		t.Error("stage timestamps not recorded")
	}
	if got.PrimaryContent == "" || got.EventType == "" || len(got.ItemNumbers) == 0 {
		t.Errorf("extraction not persisted: event=%q items=%s", got.EventType, got.ItemNumbers)
	}
	if got.ClaimToken != nil {
		t.Error("claim not released")
	}
	if tags := got.Tags(); len(tags) != 2 || tags[1] != "#8K" {
		t.Errorf("tags = %v", tags)
	}
	if len(fx.cache.invalidated) != 1 {
		t.Errorf("cache invalidations = %d", len(fx.cache.invalidated))
	}
	if types := fx.queue.notifyTypes(t); len(types) != 1 || types[0] != model.NotifyFilingCompleted {
		t.Errorf("notify tasks = %v", types)
	}

	// 再次投递不做任何工作
	again := fx.pipeline.ProcessFiling(context.Background(), f.ID, 0)
	if again.Kind != OutcomeAlreadyDone || fx.dl.calls != 1 {
		t.Errorf("second run = %+v, downloads = %d", again, fx.dl.calls)
	}
}

func TestProcessFilingRetriesTransientErrors(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000002", nil)
	fx.dl.err = errs.Transient("sec请求", errors.New("503"))

	before := time.Now()
	out := fx.pipeline.ProcessFiling(context.Background(), f.ID, 0)
	if out.Kind != OutcomeRetry || !out.Requeued || out.Decision.Delay != time.Minute {
		t.Fatalf("ProcessFiling() = %+v", out)
	}

	got := fx.reload(t, f.ID)
	if got.Status != model.StatusFailed || got.RetryCount != 1 || got.NeedsReview {
		t.Errorf("row = status %s retries %d review %v", got.Status, got.RetryCount, got.NeedsReview)
	}
	tasks := fx.queue.processTasks(t)
	if len(tasks) != 1 || tasks[0].Attempt != 1 || tasks[0].NotBefore == nil {
		t.Fatalf("requeued tasks = %+v", tasks)
	}
	if wait := tasks[0].NotBefore.Sub(before); wait < 55*time.Second || wait > 65*time.Second {
		t.Errorf("not_before offset = %v, want about 1m", wait)
	}

	// failed -> downloading 重试成功
	fx.dl.err = nil
	if out := fx.pipeline.ProcessFiling(context.Background(), f.ID, 1); out.Kind != OutcomeCompleted {
		t.Fatalf("retry = %+v", out)
	}
}

func TestProcessFilingRetryExclusion(t *testing.T) {
	tests := []struct {
		name       string
		dlErr      error
		aiErr      error
		attempt    int
		wantKind   OutcomeKind
		wantReview bool
		wantNotify model.NotificationType
	}{
		{"content error", errs.Content("下载到iXBRL viewer页面", nil), nil, 0, OutcomeFailed, true, model.NotifyFilingReview},
		{"configuration error", nil, errs.Configuration("openai", errors.New("insufficient_quota")), 0, OutcomeFailed, false, model.NotifyFilingFailed},
		{"validation from downloader", errs.Validation("accession_number", "格式错误"), nil, 0, OutcomeFailed, false, model.NotifyFilingFailed},
		{"retries exhausted", errs.Transient("sec请求", errors.New("timeout")), nil, 3, OutcomeFailed, false, model.NotifyFilingFailed},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			f := fx.seed(t, "0000000042-24-00010"+string(rune('0'+i)), nil)
			fx.dl.err = tt.dlErr
			fx.analyzer.err = tt.aiErr

			out := fx.pipeline.ProcessFiling(context.Background(), f.ID, tt.attempt)
			if out.Kind != tt.wantKind || out.Decision.Retry {
				t.Fatalf("ProcessFiling() = %+v", out)
			}
			if tasks := fx.queue.processTasks(t); len(tasks) != 0 {
				t.Errorf("unexpected retry tasks: %+v", tasks)
			}
			got := fx.reload(t, f.ID)
			if got.Status != model.StatusFailed || got.NeedsReview != tt.wantReview || got.ErrorMessage == "" {
				t.Errorf("row = status %s review %v msg %q", got.Status, got.NeedsReview, got.ErrorMessage)
			}
			if got.ShouldReprocess() || got.Retryable {
				t.Errorf("non-transient failure marked retryable: kind %q", got.ErrorKind)
			}
			if types := fx.queue.notifyTypes(t); len(types) != 1 || types[0] != tt.wantNotify {
				t.Errorf("notify = %v, want %s", types, tt.wantNotify)
			}
		})
	}
}

func TestProcessFilingRecordsValidationFailure(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "bad-accession", nil)
	ctx := context.Background()

	// 其他worker持有租约时不写入失败
	if ok, err := fx.db.Filing().Claim(ctx, f.ID, "other-worker", time.Hour); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if out := fx.pipeline.ProcessFiling(ctx, f.ID, 0); out.Kind != OutcomeBusy {
		t.Fatalf("claimed row outcome = %+v", out)
	}
	if got := fx.reload(t, f.ID); got.Status != model.StatusPending || got.RetryCount != 0 {
		t.Fatalf("busy run wrote failure: status %s retries %d", got.Status, got.RetryCount)
	}
	if err := fx.db.Filing().Release(ctx, f.ID, "other-worker"); err != nil {
		t.Fatal(err)
	}

	out := fx.pipeline.ProcessFiling(ctx, f.ID, 0)
	if out.Kind != OutcomeInvalid || errs.KindOf(out.Err) != errs.KindValidation {
		t.Fatalf("ProcessFiling() = %+v", out)
	}
	if fx.dl.calls != 0 {
		t.Error("invalid filing was downloaded")
	}
	got := fx.reload(t, f.ID)
	if got.Status != model.StatusFailed || got.RetryCount != 1 || got.ErrorKind != string(errs.KindValidation) || got.Retryable {
		t.Errorf("row = status %s retries %d kind %q retryable %v", got.Status, got.RetryCount, got.ErrorKind, got.Retryable)
	}

	// 已经failed的行再次失败仍然计数
	fx.pipeline.ProcessFiling(ctx, f.ID, 1)
	if got := fx.reload(t, f.ID); got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", got.RetryCount)
	}
}

func TestRetryFailedSkipsNonTransientFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	invalid := fx.seed(t, "bad-accession", nil)
	if out := fx.pipeline.ProcessFiling(ctx, invalid.ID, 0); out.Kind != OutcomeInvalid {
		t.Fatalf("invalid outcome = %+v", out)
	}

	quota := fx.seed(t, "0000000042-24-000030", nil)
	fx.analyzer.err = errs.Configuration("openai", errors.New("insufficient_quota"))
	if out := fx.pipeline.ProcessFiling(ctx, quota.ID, 0); out.Kind != OutcomeFailed {
		t.Fatalf("quota outcome = %+v", out)
	}

	// 退避时间早已过去
	if err := fx.db.Gorm().Exec("UPDATE filings SET updated_at = ?", time.Now().Add(-24*time.Hour)).Error; err != nil {
		t.Fatal(err)
	}
	before := len(fx.queue.processTasks(t))

	for i := 0; i < 3; i++ {
		n, err := fx.pipeline.RetryFailed(ctx, 10)
		if err != nil || n != 0 {
			t.Fatalf("RetryFailed() = %d, %v; want 0", n, err)
		}
	}
	if after := len(fx.queue.processTasks(t)); after != before {
		t.Errorf("queued %d retry tasks", after-before)
	}
	if retryable, err := fx.db.Filing().ListRetryable(ctx, 10); err != nil || len(retryable) != 0 {
		t.Errorf("ListRetryable() = %d rows, %v", len(retryable), err)
	}
}

func TestProcessFilingBusyAndNotFound(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000003", nil)
	ctx := context.Background()

	if ok, err := fx.db.Filing().Claim(ctx, f.ID, "other-worker", time.Hour); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if out := fx.pipeline.ProcessFiling(ctx, f.ID, 0); out.Kind != OutcomeBusy {
		t.Errorf("claimed row outcome = %+v", out)
	}
	if got := fx.reload(t, f.ID); got.Status != model.StatusPending {
		t.Errorf("busy run changed status to %s", got.Status)
	}

	if out := fx.pipeline.ProcessFiling(ctx, "00000000-0000-0000-0000-000000000000", 0); out.Kind != OutcomeNotFound {
		t.Errorf("missing row outcome = %+v", out)
	}
}

func TestProcessFilingWithoutAI(t *testing.T) {
	fx := newFixture(t)
	fx.pipeline.opts.AIProcessing = false
	f := fx.seed(t, "0000000042-24-000004", nil)

	if out := fx.pipeline.ProcessFiling(context.Background(), f.ID, 0); out.Kind != OutcomeCompleted {
		t.Fatalf("ProcessFiling() = %+v", out)
	}
	got := fx.reload(t, f.ID)
	if got.Status != model.StatusCompleted || got.UnifiedAnalysis != "" || got.PrimaryContent == "" {
		t.Errorf("row = %s analysis %q", got.Status, got.UnifiedAnalysis)
	}
}

func TestSweepPending(t *testing.T) {
	fx := newFixture(t)
	recent := time.Now().Add(-time.Minute)
	fx.seed(t, "0000000042-24-000010", nil)
	fx.seed(t, "0000000042-24-000011", func(f *model.Filing) { f.DownloadStartedAt = &recent })
	fx.seed(t, "0000000042-24-000012", nil)
	done := fx.seed(t, "0000000042-24-000013", nil)
	if err := fx.db.Filing().Transition(context.Background(), done.ID, model.StatusPending, model.StatusSkipped, nil); err != nil {
		t.Fatal(err)
	}

	n, err := fx.pipeline.SweepPending(context.Background(), 20)
	if err != nil || n != 2 {
		t.Fatalf("SweepPending() = %d, %v", n, err)
	}
	// 再次扫描发布同样的任务，去重后队列中仍只有两条
	if _, err := fx.pipeline.SweepPending(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	tasks := fx.queue.processTasks(t)
	if len(tasks) != 2 {
		t.Fatalf("queued %d tasks after duplicate sweep, want 2", len(tasks))
	}
	if tasks[0].NotBefore != nil {
		t.Error("first task should run immediately")
	}
	if tasks[1].NotBefore == nil || time.Until(*tasks[1].NotBefore) < 5*time.Second {
		t.Errorf("second task not staggered: %+v", tasks[1])
	}
}

func TestRetryFailedAndReprocess(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	stale := fx.seed(t, "0000000042-24-000020", nil)
	review := fx.seed(t, "0000000042-24-000021", nil)

	if err := fx.db.Filing().MarkFailed(ctx, stale.ID, model.StatusPending, database.Failure{Message: "timeout", Kind: "transient", Retryable: true}); err != nil {
		t.Fatal(err)
	}
	if err := fx.db.Filing().MarkFailed(ctx, review.ID, model.StatusPending, database.Failure{Message: "fee table", Kind: "content", NeedsReview: true}); err != nil {
		t.Fatal(err)
	}
	// 退避时间已过
	if err := fx.db.Gorm().Exec("UPDATE filings SET updated_at = ? WHERE id = ?", time.Now().Add(-time.Hour), stale.ID).Error; err != nil {
		t.Fatal(err)
	}

	n, err := fx.pipeline.RetryFailed(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed() = %d, %v", n, err)
	}
	if tasks := fx.queue.processTasks(t); tasks[0].FilingID != stale.ID || tasks[0].Attempt != 1 {
		t.Errorf("retry task = %+v", tasks[0])
	}

	if err := fx.pipeline.Reprocess(ctx, review.ID); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	got := fx.reload(t, review.ID)
	if got.Status != model.StatusPending || got.NeedsReview || got.RetryCount != 0 {
		t.Errorf("after reset = %s review %v retries %d", got.Status, got.NeedsReview, got.RetryCount)
	}
	if tasks := fx.queue.processTasks(t); len(tasks) != 2 || tasks[1].FilingID != review.ID || !tasks[1].Manual {
		t.Errorf("reprocess not enqueued: %+v", tasks)
	}

	// 人工重处理不参与去重
	if err := fx.db.Filing().MarkFailed(ctx, review.ID, model.StatusPending, database.Failure{Message: "again", Kind: "content", NeedsReview: true}); err != nil {
		t.Fatal(err)
	}
	if err := fx.pipeline.Reprocess(ctx, review.ID); err != nil {
		t.Fatalf("second Reprocess() error = %v", err)
	}
	if tasks := fx.queue.processTasks(t); len(tasks) != 3 {
		t.Errorf("second reprocess dropped: %d tasks", len(tasks))
	}
}
