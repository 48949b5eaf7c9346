// Package notify 处理完成、失败和待复核filing的通知
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"FilingRadar/pkg/messaging"
	"FilingRadar/pkg/model"
)

const channelNATS = "nats"

// RecordStore 通知记录持久化
type RecordStore interface {
	Save(ctx context.Context, record *model.NotificationRecord) error
}

// Event 发布到 notifications.filing 的事件
type Event struct {
	FilingID        string                 `json:"filing_id"`
	Type            model.NotificationType `json:"type"`
	AccessionNumber string                 `json:"accession_number"`
	Ticker          string                 `json:"ticker"`
	Company         string                 `json:"company"`
	FilingType      model.FilingType       `json:"filing_type"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Tags            []string               `json:"tags,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Notifier 通知服务
type Notifier struct {
	publisher messaging.Publisher
	records   RecordStore
	enabled   bool
	logger    *zap.Logger
}

// NewNotifier 创建通知服务，enabled为false时只记录日志
func NewNotifier(publisher messaging.Publisher, records RecordStore, enabled bool, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, records: records, enabled: enabled, logger: logger}
}

// Notify 发布通知并写入记录，返回发送数量。失败只记录日志，不影响任务结果
func (n *Notifier) Notify(ctx context.Context, filing *model.Filing, typ model.NotificationType) (int, error) {
	log := n.logger.With(zap.String("accession", filing.AccessionNumber), zap.String("type", string(typ)))
	if !n.enabled {
		log.Debug("通知已关闭，跳过")
		return 0, nil
	}

	ev := BuildEvent(filing, typ)
	record := &model.NotificationRecord{
		FilingID: filing.ID,
		Type:     typ,
		Channel:  channelNATS,
		Title:    ev.Title,
		Content:  ev.Message,
		Status:   "pending",
	}

	sent := 0
	if err := n.publisher.Publish(ctx, messaging.SubjectNotification, ev); err != nil {
		record.Status = "failed"
		record.Error = err.Error()
		log.Warn("发布通知失败", zap.Error(err))
	} else {
		now := time.Now()
		sent = 1
		record.Sent = sent
		record.Status = "sent"
		record.SentAt = &now
	}

	if n.records != nil {
		if err := n.records.Save(ctx, record); err != nil {
			log.Warn("保存通知记录失败", zap.Error(err))
		}
	}

	if record.Status == "failed" {
		return 0, fmt.Errorf("发送通知失败: %s", record.Error)
	}
	log.Info("通知已发送", zap.Int("sent", sent))
	return sent, nil
}

// BuildEvent 格式化通知内容
func BuildEvent(f *model.Filing, typ model.NotificationType) Event {
	company := f.Ticker
	if f.Company != nil {
		if company == "" {
			company = f.Company.DisplayTicker()
		}
		if f.Company.Name != "" {
			company = fmt.Sprintf("%s (%s)", f.Company.Name, company)
		}
	}
	if company == "" {
		company = f.AccessionNumber
	}

	ev := Event{
		FilingID:        f.ID,
		Type:            typ,
		AccessionNumber: f.AccessionNumber,
		Ticker:          f.Ticker,
		Company:         company,
		FilingType:      f.FilingType,
		CreatedAt:       time.Now().UTC(),
	}

	switch typ {
	case model.NotifyFilingCompleted:
		ev.Title = fmt.Sprintf("新 %s: %s", f.FilingType, company)
		ev.Tags = f.Tags()
		var b strings.Builder
		b.WriteString(f.FeedSummary)
		if len(ev.Tags) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(strings.Join(ev.Tags, " "))
		}
		ev.Message = b.String()
	case model.NotifyFilingReview:
		ev.Title = fmt.Sprintf("%s %s 需要人工复核", company, f.FilingType)
		ev.Message = f.ErrorMessage
	default:
		ev.Title = fmt.Sprintf("%s %s 处理失败", company, f.FilingType)
		ev.Message = f.ErrorMessage
	}
	return ev
}
