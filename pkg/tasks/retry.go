package tasks

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"FilingRadar/pkg/errs"
)

// RetryDecision 失败后的处理决定
type RetryDecision struct {
	Retry       bool
	Delay       time.Duration
	NeedsReview bool
	Kind        errs.Kind
}

// RetryPolicy 重试策略：base·2^attempt，最多maxRetries次
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
}

// Decide 按错误类型决定是否重试。配置、校验和内容错误都不重试，内容错误需要人工复核
func (p RetryPolicy) Decide(err error, attempt int) RetryDecision {
	kind := errs.KindOf(err)
	d := RetryDecision{Kind: kind}
	switch kind {
	case errs.KindConfiguration, errs.KindValidation:
		return d
	case errs.KindContent:
		d.NeedsReview = true
		return d
	}
	if attempt >= p.MaxRetries {
		return d
	}
	d.Retry = true
	d.Delay = p.Delay(attempt)
	return d
}

// Delay 第attempt次失败后的等待时间，没有抖动
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.Base << 16
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
