package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// RetryPolicy 在线状态存储的重试策略
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy 失败后重试一次
var DefaultRetryPolicy = RetryPolicy{
	MaxTries:        2,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// retryStore 执行存储操作，用尽重试后返回 TransientCacheError
func retryStore[T any](ctx context.Context, p RetryPolicy, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	v, err := backoff.Retry[T](ctx, fn, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		return v, gwerrors.NewTransientCache(op, err)
	}
	return v, nil
}

// retryStoreErr 只关心错误的存储操作
func retryStoreErr(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	_, err := retryStore(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
