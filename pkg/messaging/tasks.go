package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"FilingRadar/pkg/model"
)

const (
	SubjectProcess      = "filings.process"
	SubjectNotify       = "filings.notify"
	SubjectNotification = "notifications.filing"

	ConsumerProcess = "filing-processor"
	ConsumerNotify  = "filing-notifier"
)

// ProcessTask 处理一个filing，NotBefore之前不会执行
type ProcessTask struct {
	FilingID  string     `json:"filing_id"`
	Attempt   int        `json:"attempt"`
	NotBefore *time.Time `json:"not_before,omitempty"`
	// 人工重处理，不参与去重
	Manual bool `json:"manual,omitempty"`
}

// MsgID 同一filing同一次尝试只保留一条，扫描和pending扫描重复入队时合并
func (t ProcessTask) MsgID() string {
	if t.Manual {
		return ""
	}
	return t.FilingID + ":" + strconv.Itoa(t.Attempt)
}

// Deduplicated 带去重ID的载荷，ID为空表示不去重
type Deduplicated interface {
	MsgID() string
}

// DuplicateWindow JetStream去重窗口
const DuplicateWindow = 2 * time.Minute

// NotifyTask 发送filing通知
type NotifyTask struct {
	FilingID string                 `json:"filing_id"`
	Type     model.NotificationType `json:"type"`
}

// Publisher 发布任务或事件
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Action 消息处理结果
type Action int

const (
	Ack Action = iota
	// Nak 延迟后重新投递
	Nak
	// Term 不再投递
	Term
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	}
	return "unknown"
}

// Disposition 处理器对一条消息的决定
type Disposition struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Acked 确认
func Acked() Disposition { return Disposition{Action: Ack} }

// Retry 延迟重投
func Retry(delay time.Duration, reason string) Disposition {
	return Disposition{Action: Nak, Delay: delay, Reason: reason}
}

// Terminate 终止投递
func Terminate(reason string) Disposition {
	return Disposition{Action: Term, Reason: reason}
}

// Message 交给处理器的消息
type Message struct {
	Subject   string
	Data      []byte
	Delivered uint64
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg Message) Disposition

// deferUntil 载荷带有未到期的not_before时返回需要等待的时长
func deferUntil(data []byte, now time.Time) (time.Duration, bool) {
	var env struct {
		NotBefore *time.Time `json:"not_before"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.NotBefore == nil {
		return 0, false
	}
	if wait := env.NotBefore.Sub(now); wait > 0 {
		return wait, true
	}
	return 0, false
}
