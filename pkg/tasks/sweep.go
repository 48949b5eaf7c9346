package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

const (
	sweepStagger = 10 * time.Second
	// 最近开始处理的行可能仍在进行中
	recentStartWindow = 5 * time.Minute
)

// SweepPending 重新发布积压的pending记录，依次错开10秒
func (p *Pipeline) SweepPending(ctx context.Context, batch int) (int, error) {
	filings, err := p.db.Filing().ListPending(ctx, batch, p.opts.ClaimTTL)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	queued := 0
	for _, f := range filings {
		if startedWithin(f.ProcessingStartedAt, now) || startedWithin(f.DownloadStartedAt, now) {
			p.logger.Debug("最近已开始处理，跳过", zap.String("accession", f.AccessionNumber))
			continue
		}
		if err := p.Enqueue(ctx, f.ID, 0, time.Duration(queued)*sweepStagger); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		p.logger.Info("pending记录已重新入队", zap.Int("queued", queued), zap.Int("found", len(filings)))
	}
	return queued, nil
}

// RetryFailed 重新发布可自动重试的失败记录，退避时间未到的跳过
func (p *Pipeline) RetryFailed(ctx context.Context, batch int) (int, error) {
	filings, err := p.db.Filing().ListRetryable(ctx, batch)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	queued := 0
	for _, f := range filings {
		if !f.ShouldReprocess() {
			continue
		}
		if now.Sub(f.UpdatedAt) < p.policy.Delay(f.RetryCount) {
			continue
		}
		if err := p.Enqueue(ctx, f.ID, f.RetryCount, time.Duration(queued)*sweepStagger); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		p.logger.Info("失败记录已重新入队", zap.Int("queued", queued))
	}
	return queued, nil
}

// Reprocess 人工重处理：重置为pending并入队，清除复核标记
func (p *Pipeline) Reprocess(ctx context.Context, id string) error {
	f, err := p.db.Filing().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.Status.IsInFlight() {
		return errs.Validation("status", fmt.Sprintf("filing %s 正在处理中: %s", f.AccessionNumber, f.Status))
	}
	if f.Status != model.StatusPending {
		if err := p.db.Filing().Reset(ctx, id); err != nil {
			return fmt.Errorf("重置filing失败: %w", err)
		}
	}
	p.logger.Info("filing已提交重处理", zap.String("accession", f.AccessionNumber))
	return p.publish(ctx, messaging.ProcessTask{FilingID: id, Manual: true})
}

func startedWithin(t *time.Time, now time.Time) bool {
	return t != nil && now.Sub(*t) < recentStartWindow
}
