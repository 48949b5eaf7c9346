package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"FilingRadar/pkg/database"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

// Consumer 消息消费端
type Consumer interface {
	Consume(ctx context.Context, spec messaging.ConsumerSpec, handler messaging.Handler) error
}

// Notifier 发送filing通知
type Notifier interface {
	Notify(ctx context.Context, filing *model.Filing, typ model.NotificationType) (int, error)
}

// WorkerOptions worker参数
type WorkerOptions struct {
	Concurrency   int
	RatePerMinute int
	HardTimeout   time.Duration
}

// Worker 从队列消费处理任务和通知任务
type Worker struct {
	pipeline *Pipeline
	db       *database.DB
	notifier Notifier
	consumer Consumer
	slots    *semaphore.Weighted
	limiter  *rate.Limiter
	opts     WorkerOptions
	logger   *zap.Logger
}

// NewWorker 创建worker
func NewWorker(pipeline *Pipeline, db *database.DB, notifier Notifier, consumer Consumer, opts WorkerOptions, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 10
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 10 * time.Minute
	}
	return &Worker{
		pipeline: pipeline,
		db:       db,
		notifier: notifier,
		consumer: consumer,
		slots:    semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1),
		opts:     opts,
		logger:   logger,
	}
}

// Run 同时消费处理和通知两个主题，直到ctx取消
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.consumer.Consume(gctx, messaging.ConsumerSpec{
			Name:    messaging.ConsumerProcess,
			Subject: messaging.SubjectProcess,
			AckWait: w.opts.HardTimeout + time.Minute,
			Slots:   w.slots,
		}, w.HandleProcess)
	})
	g.Go(func() error {
		return w.consumer.Consume(gctx, messaging.ConsumerSpec{
			Name:    messaging.ConsumerNotify,
			Subject: messaging.SubjectNotify,
		}, w.HandleNotify)
	})
	w.logger.Info("worker已启动", zap.Int("concurrency", w.opts.Concurrency), zap.Int("rate_per_minute", w.opts.RatePerMinute))
	return g.Wait()
}

// HandleProcess 处理一个ProcessTask并把结果映射为消息确认方式
func (w *Worker) HandleProcess(ctx context.Context, msg messaging.Message) messaging.Disposition {
	var task messaging.ProcessTask
	if err := json.Unmarshal(msg.Data, &task); err != nil || task.FilingID == "" {
		w.logger.Warn("无效的处理任务", zap.ByteString("data", msg.Data), zap.Error(err))
		return messaging.Terminate("无效的处理任务")
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return messaging.Retry(time.Minute, "worker停止")
	}

	hctx, cancel := context.WithTimeout(ctx, w.opts.HardTimeout)
	defer cancel()
	out := w.pipeline.ProcessFiling(hctx, task.FilingID, task.Attempt)

	if errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		w.logger.Error("任务超过硬超时，终止", zap.String("filing_id", task.FilingID), zap.Duration("hard_timeout", w.opts.HardTimeout))
		return messaging.Terminate("硬超时")
	}
	return dispositionFor(out)
}

func dispositionFor(out Outcome) messaging.Disposition {
	switch out.Kind {
	case OutcomeCompleted, OutcomeAlreadyDone, OutcomeSkipped, OutcomeBusy:
		return messaging.Acked()
	case OutcomeRetry:
		if out.Requeued {
			return messaging.Acked()
		}
		return messaging.Retry(out.Decision.Delay, errString(out.Err))
	}
	return messaging.Terminate(errString(out.Err))
}

// HandleNotify 发送通知，失败只记录日志
func (w *Worker) HandleNotify(ctx context.Context, msg messaging.Message) messaging.Disposition {
	var task messaging.NotifyTask
	if err := json.Unmarshal(msg.Data, &task); err != nil || task.FilingID == "" {
		return messaging.Terminate("无效的通知任务")
	}
	if w.notifier == nil {
		return messaging.Acked()
	}

	filing, err := w.db.Filing().GetByID(ctx, task.FilingID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return messaging.Terminate("filing不存在")
		}
		return messaging.Retry(30*time.Second, err.Error())
	}
	if _, err := w.notifier.Notify(ctx, filing, task.Type); err != nil {
		w.logger.Warn("发送通知失败", zap.String("accession", filing.AccessionNumber), zap.Error(err))
	}
	return messaging.Acked()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
