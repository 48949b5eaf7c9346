package notify

import (
	"context"
	"errors"
	"testing"

	"FilingRadar/pkg/model"
)

type recordingPublisher struct {
	subjects []string
	events   []any
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v)
	return nil
}

type memRecords struct {
	saved []*model.NotificationRecord
}

func (m *memRecords) Save(_ context.Context, r *model.NotificationRecord) error {
	m.saved = append(m.saved, r)
	return nil
}

func completedFiling() *model.Filing {
	ticker := "AAPL"
	return &model.Filing{
		ID:              "f-1",
		AccessionNumber: "0000320193-24-000123",
		FilingType:      model.FilingType10K,
		Ticker:          ticker,
		FeedSummary:     "Apple posts record services revenue.",
		KeyTags:         model.ToJSON([]string{"#RecordRevenue", "#10K"}),
		Company:         &model.Company{Name: "Apple Inc.", Ticker: &ticker},
	}
}

func TestNotifyPublishesAndRecords(t *testing.T) {
	pub := &recordingPublisher{}
	records := &memRecords{}
	n := NewNotifier(pub, records, true, nil)

	sent, err := n.Notify(context.Background(), completedFiling(), model.NotifyFilingCompleted)
	if err != nil || sent != 1 {
		t.Fatalf("Notify() = %d, %v", sent, err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "notifications.filing" {
		t.Fatalf("subjects = %v", pub.subjects)
	}
	ev := pub.events[0].(Event)
	if ev.Title != "新 10-K: Apple Inc. (AAPL)" {
		t.Errorf("Title = %q", ev.Title)
	}
	if ev.Message != "Apple posts record services revenue.\n#RecordRevenue #10K" {
		t.Errorf("Message = %q", ev.Message)
	}
	if len(records.saved) != 1 || records.saved[0].Status != "sent" || records.saved[0].SentAt == nil {
		t.Errorf("records = %+v", records.saved)
	}
}

func TestNotifyFailureIsRecorded(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	records := &memRecords{}
	n := NewNotifier(pub, records, true, nil)

	sent, err := n.Notify(context.Background(), completedFiling(), model.NotifyFilingFailed)
	if err == nil || sent != 0 {
		t.Fatalf("Notify() = %d, %v", sent, err)
	}
	if len(records.saved) != 1 || records.saved[0].Status != "failed" || records.saved[0].Error == "" {
		t.Errorf("records = %+v", records.saved)
	}
}

func TestNotifyDisabled(t *testing.T) {
	pub := &recordingPublisher{}
	records := &memRecords{}
	n := NewNotifier(pub, records, false, nil)

	sent, err := n.Notify(context.Background(), completedFiling(), model.NotifyFilingCompleted)
	if err != nil || sent != 0 || len(pub.events) != 0 || len(records.saved) != 0 {
		t.Errorf("disabled notifier did work: %d %v", sent, err)
	}
}

func TestBuildEventWithoutCompany(t *testing.T) {
	f := &model.Filing{AccessionNumber: "0001234567-24-000001", FilingType: model.FilingTypeS1, ErrorMessage: "fee table only"}
	ev := BuildEvent(f, model.NotifyFilingReview)
	if ev.Company != f.AccessionNumber || ev.Message != "fee table only" {
		t.Errorf("BuildEvent() = %+v", ev)
	}
}
