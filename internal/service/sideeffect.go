package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/metrics"
)

// EffectResult 附带操作的执行结果，与主操作结果分开返回
type EffectResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Effects 一次请求中执行的全部附带操作
type Effects []EffectResult

// Failed 是否有附带操作失败
func (e Effects) Failed() bool {
	for _, r := range e {
		if !r.OK {
			return true
		}
	}
	return false
}

// SideEffects 在主操作提交之后执行附带操作（评分重算、通知）
// 同步执行，但不受请求取消影响，有超时，失败只记录日志和指标
type SideEffects struct {
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSideEffects 创建执行器
func NewSideEffects(timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *SideEffects {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SideEffects{
		timeout: timeout,
		metrics: m,
		logger:  logger.With().Str("service", "side_effects").Logger(),
	}
}

// Run 执行一个附带操作
func (s *SideEffects) Run(ctx context.Context, name string, fn func(ctx context.Context) error) EffectResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.call(ctx, fn); err != nil {
		s.logger.Warn().Err(err).Str("effect", name).Msg("附带操作失败，主操作不受影响")
		if s.metrics != nil {
			s.metrics.SideEffectFailures.WithLabelValues(name).Inc()
		}
		return EffectResult{Name: name, Error: err.Error()}
	}
	return EffectResult{Name: name, OK: true}
}

func (s *SideEffects) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
