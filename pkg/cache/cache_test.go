package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"FilingRadar/pkg/model"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, time.Minute, nil), mr
}

func TestGetSetJSON(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if !c.SetJSON(ctx, "k", payload{"apple", 3}, 0) {
		t.Fatal("SetJSON() = false")
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want default 1m", ttl)
	}

	var got payload
	if !c.GetJSON(ctx, "k", &got) || got.Name != "apple" || got.Count != 3 {
		t.Errorf("GetJSON() = %+v", got)
	}
	if c.GetJSON(ctx, "missing", &got) {
		t.Error("GetJSON(missing) = true")
	}
}

func TestDeletePattern(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for i := 0; i < 450; i++ {
		mr.Set(FilingListKey(map[string]string{"offset": time.Duration(i).String()}), "x")
	}
	mr.Set("filings:detail:1", "x")

	n, err := c.DeletePattern(ctx, "filings:list:*")
	if err != nil {
		t.Fatalf("DeletePattern() error = %v", err)
	}
	if n != 450 {
		t.Errorf("deleted = %d, want 450", n)
	}
	if !mr.Exists("filings:detail:1") {
		t.Error("unrelated key deleted")
	}
}

func TestIncrementSetsExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		n, err := c.Increment(ctx, ViewsKey("f1"), TTLViews)
		if err != nil || n != want {
			t.Fatalf("Increment() = %d, %v; want %d", n, err, want)
		}
	}
	if ttl := mr.TTL(ViewsKey("f1")); ttl != TTLViews {
		t.Errorf("TTL = %v, want %v", ttl, TTLViews)
	}
}

func TestInvalidateFiling(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	f := &model.Filing{ID: "f1", CompanyID: "c1", Ticker: "aapl", AccessionNumber: "0000320193-24-000123"}

	keep := "filings:detail:other"
	for _, k := range []string{
		FilingDetailKey("f1"),
		FilingListKey(map[string]string{"limit": "20"}),
		CompanyDetailKey("c1"),
		PopularKey("day"),
		EarningsKey("AAPL"),
		keep,
	} {
		mr.Set(k, "x")
	}

	if err := c.InvalidateFiling(ctx, f); err != nil {
		t.Fatalf("InvalidateFiling() error = %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != keep {
		t.Errorf("remaining keys = %v", keys)
	}
}

func TestFilingListKeyIsOrderIndependent(t *testing.T) {
	a := FilingListKey(map[string]string{"ticker": "AAPL", "limit": "20"})
	b := FilingListKey(map[string]string{"limit": "20", "ticker": "AAPL"})
	if a != b {
		t.Errorf("keys differ: %s vs %s", a, b)
	}
	if a == FilingListKey(map[string]string{"ticker": "MSFT", "limit": "20"}) {
		t.Error("different params produced the same key")
	}
}

func TestErrorsAreSwallowed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewWithClient(client, time.Minute, nil)
	mr.Close()

	var v map[string]any
	if c.GetJSON(context.Background(), "k", &v) {
		t.Error("GetJSON() on closed server = true")
	}
	if c.SetJSON(context.Background(), "k", 1, 0) {
		t.Error("SetJSON() on closed server = true")
	}
}
