package earnings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"FilingRadar/pkg/cache"
	"FilingRadar/pkg/database"
	"FilingRadar/pkg/estimates"
	"FilingRadar/pkg/model"
)

type fakeCalendar struct {
	mu     sync.Mutex
	events []estimates.Estimate
	calls  int
	err    error
}

func (f *fakeCalendar) Calendar(_ context.Context, from, to time.Time) ([]estimates.Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []estimates.Estimate
	for _, ev := range f.events {
		d, _, ok := parseEventDate(ev.Date)
		if ok && !d.Before(from) && !truncateDay(d).After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, provider CalendarProvider, now time.Time) (*Service, *database.DB, *miniredis.Miniredis) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "earnings.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, nil)

	svc := NewService(db, provider, c, nil)
	svc.now = func() time.Time { return now }
	return svc, db, mr
}

func addCompany(t *testing.T, db *database.DB, cik, ticker string, sp500 bool) *model.Company {
	t.Helper()
	c := &model.Company{CIK: cik, Name: ticker + " Inc.", Ticker: &ticker, IsSP500: sp500, IsActive: true}
	if err := db.Company().Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func est(symbol, date, tod, eps string) estimates.Estimate {
	e := estimates.Estimate{Symbol: symbol, Date: date, Time: tod}
	if eps != "" {
		e.EPSEstimate = decimal.NewNullDecimal(decimal.RequireFromString(eps))
	}
	return e
}

func TestRefreshUpsertsMonitoredCompanies(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeCalendar{events: []estimates.Estimate{
		est("AAPL", "2024-08-01", "amc", "1.35"),
		est("MSFT", "2024-07-30", "", "2.93"),
		est("ZZZZ", "2024-07-15", "bmo", "0.10"),
		est("AAPL", "2024-12-30", "amc", "2.10"),
	}}
	svc, db, mr := newTestService(t, provider, now)
	addCompany(t, db, "0000320193", "AAPL", true)
	addCompany(t, db, "0000789019", "MSFT", true)
	addCompany(t, db, "0000000042", "ZZZZ", false)
	mr.Set("earnings:upcoming:7", "[]")

	n, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Refresh() = %d, want 2", n)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3 windows", provider.calls)
	}
	if mr.Exists("earnings:upcoming:7") {
		t.Error("earnings cache not invalidated")
	}

	// 再次同步只更新不新增
	provider.events[0] = est("AAPL", "2024-08-01", "amc", "1.40")
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	total, _ := db.Earnings().Count(context.Background())
	if total != 2 {
		t.Errorf("rows = %d, want 2", total)
	}

	entries, err := svc.Upcoming(context.Background(), 45)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Upcoming() = %d entries, want 2", len(entries))
	}
	msft, aapl := entries[0], entries[1]
	if msft.EarningsTime != model.EarningsTNS || msft.FiscalQuarter != "Q3 2024" {
		t.Errorf("msft entry = %+v", msft)
	}
	if aapl.EarningsTime != model.EarningsAMC || aapl.EPSEstimate == nil || *aapl.EPSEstimate != 1.40 {
		t.Errorf("aapl entry = %+v", aapl)
	}
	if !mr.Exists(cache.UpcomingEarningsKey(45)) {
		t.Error("upcoming result not cached")
	}
}

func TestRefreshProviderError(t *testing.T) {
	provider := &fakeCalendar{err: errors.New("boom")}
	svc, db, _ := newTestService(t, provider, time.Now())
	addCompany(t, db, "0000320193", "AAPL", true)

	if _, err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestTimeOfDay(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 8, 1, h, 0, 0, 0, time.UTC) }
	tests := []struct {
		name     string
		provider string
		when     time.Time
		clock    bool
		want     model.EarningsTime
	}{
		{"provider bmo", "BMO", at(0), false, model.EarningsBMO},
		{"provider amc", "amc", at(0), false, model.EarningsAMC},
		{"early hour", "", at(7), true, model.EarningsBMO},
		{"after close", "", at(16), true, model.EarningsAMC},
		{"midday", "--", at(12), true, model.EarningsTNS},
		{"date only", "", at(0), false, model.EarningsTNS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TimeOfDay(tt.provider, tt.when, tt.clock); got != tt.want {
				t.Errorf("TimeOfDay() = %s, want %s", got, tt.want)
			}
		})
	}
}
