package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

type recordingNotifier struct {
	calls []model.NotificationType
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *model.Filing, typ model.NotificationType) (int, error) {
	n.calls = append(n.calls, typ)
	if n.err != nil {
		return 0, n.err
	}
	return 1, nil
}

func TestDispositionFor(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want messaging.Action
	}{
		{"completed", Outcome{Kind: OutcomeCompleted}, messaging.Ack},
		{"already done", Outcome{Kind: OutcomeAlreadyDone}, messaging.Ack},
		{"busy", Outcome{Kind: OutcomeBusy}, messaging.Ack},
		{"requeued retry", Outcome{Kind: OutcomeRetry, Requeued: true}, messaging.Ack},
		{"retry without requeue", Outcome{Kind: OutcomeRetry, Decision: RetryDecision{Retry: true, Delay: time.Minute}}, messaging.Nak},
		{"failed", Outcome{Kind: OutcomeFailed, Err: errors.New("boom")}, messaging.Term},
		{"invalid", Outcome{Kind: OutcomeInvalid}, messaging.Term},
		{"not found", Outcome{Kind: OutcomeNotFound}, messaging.Term},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dispositionFor(tt.out)
			if d.Action != tt.want {
				t.Errorf("dispositionFor() = %s, want %s", d.Action, tt.want)
			}
			if d.Action == messaging.Nak && d.Delay != tt.out.Decision.Delay {
				t.Errorf("nak delay = %v", d.Delay)
			}
		})
	}
}

func TestHandleProcess(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000030", nil)
	w := NewWorker(fx.pipeline, fx.db, nil, nil, WorkerOptions{RatePerMinute: 6000}, nil)

	if d := w.HandleProcess(context.Background(), messaging.Message{Data: []byte("not json")}); d.Action != messaging.Term {
		t.Errorf("bad payload = %s", d.Action)
	}

	data, _ := json.Marshal(messaging.ProcessTask{FilingID: f.ID})
	if d := w.HandleProcess(context.Background(), messaging.Message{Subject: messaging.SubjectProcess, Data: data}); d.Action != messaging.Ack {
		t.Fatalf("HandleProcess() = %+v", d)
	}
	if got := fx.reload(t, f.ID); got.Status != model.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
}

func TestHandleProcessRequeuesTransientFailure(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000031", nil)
	fx.dl.err = errs.Transient("sec请求", errors.New("429"))
	w := NewWorker(fx.pipeline, fx.db, nil, nil, WorkerOptions{RatePerMinute: 6000}, nil)

	data, _ := json.Marshal(messaging.ProcessTask{FilingID: f.ID})
	if d := w.HandleProcess(context.Background(), messaging.Message{Data: data}); d.Action != messaging.Ack {
		t.Fatalf("requeued failure should ack, got %+v", d)
	}

	fx.queue.err = errors.New("nats down")
	data, _ = json.Marshal(messaging.ProcessTask{FilingID: f.ID, Attempt: 1})
	d := w.HandleProcess(context.Background(), messaging.Message{Data: data})
	if d.Action != messaging.Nak || d.Delay != 2*time.Minute {
		t.Errorf("unpublished retry = %+v, want nak after 2m", d)
	}
}

func TestHandleNotify(t *testing.T) {
	fx := newFixture(t)
	f := fx.seed(t, "0000000042-24-000032", nil)
	notifier := &recordingNotifier{err: errors.New("webhook down")}
	w := NewWorker(fx.pipeline, fx.db, notifier, nil, WorkerOptions{}, nil)

	data, _ := json.Marshal(messaging.NotifyTask{FilingID: f.ID, Type: model.NotifyFilingFailed})
	if d := w.HandleNotify(context.Background(), messaging.Message{Data: data}); d.Action != messaging.Ack {
		t.Errorf("notify failure should still ack, got %+v", d)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != model.NotifyFilingFailed {
		t.Errorf("calls = %v", notifier.calls)
	}

	data, _ = json.Marshal(messaging.NotifyTask{FilingID: "00000000-0000-0000-0000-000000000000", Type: model.NotifyFilingCompleted})
	if d := w.HandleNotify(context.Background(), messaging.Message{Data: data}); d.Action != messaging.Term {
		t.Errorf("missing filing = %+v", d)
	}
}
